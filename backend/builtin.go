package backend

import (
	"fmt"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
	"github.com/rs/zerolog/log"
)

// Initializers of the modules linked into every binary. In an enclave these
// are the only modules that exist.

func InitNullCrypto() error {
	return Default.Stage(Descriptor{Name: "nullcrypto", Kind: KindCrypto, Priority: 0})
}

func InitOpenSSLCrypto() error {
	return Default.Stage(Descriptor{Name: "openssl", Kind: KindCrypto, Priority: 25})
}

func InitNullAttester() error {
	return Default.Stage(Descriptor{Name: "nullattester", Kind: KindAttester, Priority: 0})
}

func InitNullVerifier() error {
	return Default.Stage(Descriptor{Name: "nullverifier", Kind: KindVerifier, Priority: 0})
}

func InitSGXECDSAAttester() error {
	return Default.Stage(Descriptor{Name: "sgx_ecdsa", Kind: KindAttester, Priority: 52})
}

func InitSGXECDSAQVEVerifier() error {
	return Default.Stage(Descriptor{Name: "sgx_ecdsa_qve", Kind: KindVerifier, Priority: 53})
}

// Quote verification needs no local TDX hardware
func InitTDXECDSAVerifier() error {
	return Default.Stage(Descriptor{Name: "tdx_ecdsa", Kind: KindVerifier, Priority: 42})
}

func InitSGXLAAttester() error {
	return Default.Stage(Descriptor{Name: "sgx_la", Kind: KindAttester, Priority: 15})
}

func InitSGXLAVerifier() error {
	return Default.Stage(Descriptor{Name: "sgx_la", Kind: KindVerifier, Priority: 15})
}

func InitNullTLS() error {
	return Default.Stage(Descriptor{Name: "nulltls", Kind: KindTLSWrapper, Priority: 0})
}

func InitOpenSSLTLS() error {
	return Default.Stage(Descriptor{Name: "openssl", Kind: KindTLSWrapper, Priority: 25})
}

func InitNitroAttester() error {
	return Default.Stage(Descriptor{
		Name:     "nitro",
		Kind:     KindAttester,
		Priority: 50,
		Probe:    nitroProbe,
	})
}

// nitroProbe checks that the Nitro Secure Module answers
func nitroProbe() error {
	sess, err := nsm.OpenDefaultSession()
	if err != nil {
		return fmt.Errorf("failed to open NSM session: %w", err)
	}
	defer sess.Close()

	res, err := sess.Send(&request.DescribeNSM{})
	if err != nil {
		return fmt.Errorf("failed to describe NSM: %w", err)
	}
	if res.DescribeNSM == nil {
		return fmt.Errorf("NSM returned empty description")
	}

	log.Debug().
		Str("module_id", res.DescribeNSM.ModuleID).
		Uint16("version_major", res.DescribeNSM.VersionMajor).
		Msg("NSM available")
	return nil
}
