package platform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestHostPipeRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	a := NewHostAdapter()
	data := []byte("quote bytes \x00\x01\x02 in order")

	n, err := a.Write(int(w.Fd()), data)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(data) {
		t.Fatalf("Expected %d bytes written, got %d", len(data), n)
	}

	buf := make([]byte, 64)
	got := 0
	for got < len(data) {
		n, err := a.Read(int(r.Fd()), buf[got:])
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		got += n
	}
	if string(buf[:got]) != string(data) {
		t.Errorf("Read %q, want %q", buf[:got], data)
	}
}

func TestHostWriteBadFD(t *testing.T) {
	a := NewHostAdapter()

	n, err := a.Write(-1, []byte("x"))
	if err == nil {
		t.Fatal("Expected error writing to invalid descriptor")
	}
	if n >= 0 {
		t.Errorf("Expected negative count, got %d", n)
	}
	if !errors.Is(err, ErrBoundaryIO) {
		t.Errorf("Expected boundary error, got %v", err)
	}
}

func TestHostDirectoryTraversal(t *testing.T) {
	for _, k := range []int{0, 1, 7} {
		t.Run(fmt.Sprintf("%d entries", k), func(t *testing.T) {
			dir := t.TempDir()
			want := make(map[string]bool)
			for i := 0; i < k; i++ {
				name := fmt.Sprintf("entry-%d", i)
				want[name] = true
				if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
					t.Fatalf("Failed to create entry: %v", err)
				}
			}

			a := NewHostAdapter()
			h, err := a.OpenDir(dir)
			if err != nil {
				t.Fatalf("OpenDir failed: %v", err)
			}
			if h == 0 {
				t.Fatal("OpenDir returned zero handle")
			}

			seen := 0
			for {
				ent, err := a.NextEntry(h)
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("NextEntry failed: %v", err)
				}
				if !want[ent.Name] {
					t.Errorf("Unexpected entry %q", ent.Name)
				}
				if ent.Type != EntryRegular {
					t.Errorf("Entry %q has type %d, want regular", ent.Name, ent.Type)
				}
				seen++
			}
			if seen != k {
				t.Errorf("Expected %d entries, got %d", k, seen)
			}

			if err := a.CloseDir(h); err != nil {
				t.Errorf("CloseDir failed: %v", err)
			}
			if a.Open() != 0 {
				t.Errorf("Expected no open streams, got %d", a.Open())
			}
		})
	}
}

func TestHostCloseDirWithoutExhausting(t *testing.T) {
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, "sub"), 0o700)
	os.WriteFile(filepath.Join(dir, "file"), nil, 0o600)

	a := NewHostAdapter()
	h, err := a.OpenDir(dir)
	if err != nil {
		t.Fatalf("OpenDir failed: %v", err)
	}
	if _, err := a.NextEntry(h); err != nil {
		t.Fatalf("NextEntry failed: %v", err)
	}
	if err := a.CloseDir(h); err != nil {
		t.Errorf("CloseDir failed: %v", err)
	}
}

func TestHostCloseDirTwice(t *testing.T) {
	a := NewHostAdapter()
	h, err := a.OpenDir(t.TempDir())
	if err != nil {
		t.Fatalf("OpenDir failed: %v", err)
	}
	if err := a.CloseDir(h); err != nil {
		t.Fatalf("First CloseDir failed: %v", err)
	}

	err = a.CloseDir(h)
	if !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Expected ErrInvalidHandle on second close, got %v", err)
	}
	if _, err := a.NextEntry(h); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Expected ErrInvalidHandle after close, got %v", err)
	}
}

func TestHostHandlesNotReused(t *testing.T) {
	a := NewHostAdapter()
	dir := t.TempDir()

	h1, _ := a.OpenDir(dir)
	a.CloseDir(h1)
	h2, _ := a.OpenDir(dir)
	defer a.CloseDir(h2)

	if h1 == h2 {
		t.Errorf("Handle %d reused after close", h1)
	}
}

func TestHostOpenDirMissing(t *testing.T) {
	a := NewHostAdapter()
	h, err := a.OpenDir(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("Expected error opening missing directory")
	}
	if h != 0 {
		t.Errorf("Expected zero handle on failure, got %d", h)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestHostLogLevel(t *testing.T) {
	a := NewHostAdapter()

	t.Setenv("RATS_TLS_TEST_LEVEL", "WARN")
	if got := a.LogLevel("RATS_TLS_TEST_LEVEL"); got != LevelWarn {
		t.Errorf("Expected warn, got %v", got)
	}

	t.Setenv("RATS_TLS_TEST_LEVEL", "Warn")
	if got := a.LogLevel("RATS_TLS_TEST_LEVEL"); got != LevelDefault {
		t.Errorf("Expected default for mixed case, got %v", got)
	}

	if got := a.LogLevel("RATS_TLS_TEST_LEVEL_UNSET"); got != LevelDefault {
		t.Errorf("Expected default for unset variable, got %v", got)
	}
}

func TestHostTerminate(t *testing.T) {
	a := NewHostAdapter()

	codes := make(chan int, 1)
	a.exit = func(code int) {
		codes <- code
		runtime.Goexit()
	}

	go a.Terminate()

	if code := <-codes; code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
}

func TestHostCloseDirFailureLogsError(t *testing.T) {
	var out bytes.Buffer
	saved := log.Logger
	log.Logger = zerolog.New(&out)
	t.Cleanup(func() { log.Logger = saved })

	a := NewHostAdapter()
	h, err := a.OpenDir(t.TempDir())
	if err != nil {
		t.Fatalf("OpenDir failed: %v", err)
	}

	// Close the stream underneath the adapter so its own close fails
	a.mu.Lock()
	a.dirs[h].Close()
	a.mu.Unlock()

	if err := a.CloseDir(h); !errors.Is(err, ErrBoundaryIO) {
		t.Fatalf("Expected boundary error, got %v", err)
	}
	if !strings.Contains(out.String(), `"level":"error"`) {
		t.Errorf("Expected an error level diagnostic, got %q", out.String())
	}
	if a.Open() != 0 {
		t.Errorf("Failed close must still forget the handle")
	}
}
