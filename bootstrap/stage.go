package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// maxModuleSize bounds a downloaded shared object
const maxModuleSize = 256 << 20

// ObjectGetter is the part of the S3 client the stager uses
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Stager copies remote modules to a local directory so the loader can open
// them. Every remote module must be pinned by hash.
type Stager struct {
	client ObjectGetter
	dir    string
}

// NewStager creates a stager using the default AWS credential chain
func NewStager(ctx context.Context, cfg StageConfig) (*Stager, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Stager{client: s3.NewFromConfig(awsCfg), dir: cfg.Dir}, nil
}

// isRemote reports whether locator needs staging
func isRemote(locator string) bool {
	return strings.HasPrefix(locator, "s3://")
}

// parseS3Locator splits s3://bucket/key
func parseS3Locator(locator string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(locator, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 locator: %q", locator)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 locator: %q", locator)
	}
	return bucket, key, nil
}

// Stage downloads m's locator, verifies its hash and returns the local path
func (s *Stager) Stage(ctx context.Context, m ModuleConfig) (string, error) {
	if !validModuleName(m.Name) {
		return "", fmt.Errorf("invalid module name %q", m.Name)
	}

	bucket, key, err := parseS3Locator(m.Locator)
	if err != nil {
		return "", err
	}
	if m.SHA256 == "" {
		return "", fmt.Errorf("module %s: remote locator without sha256", m.Name)
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Fetching module from S3")

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return "", fmt.Errorf("S3 GetObject failed: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, maxModuleSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read S3 object: %w", err)
	}
	if len(data) > maxModuleSize {
		return "", fmt.Errorf("module %s exceeds %d bytes", m.Name, maxModuleSize)
	}

	hash := sha256.Sum256(data)
	hashHex := hex.EncodeToString(hash[:])
	if !strings.EqualFold(hashHex, m.SHA256) {
		return "", fmt.Errorf("module %s hash mismatch: expected %s, got %s", m.Name, m.SHA256, hashHex)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create stage dir: %w", err)
	}

	// Content-addressed so a changed module never reuses a loaded path
	path := filepath.Join(s.dir, fmt.Sprintf("lib%s-%s.so", m.Name, hashHex[:16]))
	tmp := path + ".tmp"
	os.Remove(tmp)
	if err := os.WriteFile(tmp, data, 0o500); err != nil {
		return "", fmt.Errorf("failed to write module: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to install module: %w", err)
	}

	log.Info().
		Str("name", m.Name).
		Str("path", path).
		Int("size", len(data)).
		Msg("Module staged and verified")

	return path, nil
}
