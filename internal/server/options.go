package server

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"example.com/certgate/internal/config"
	"example.com/certgate/internal/fonts"
	"example.com/certgate/internal/publish"
)

// ManifestSigningOptions configures detached JWS signing of bundle manifests.
type ManifestSigningOptions struct {
	PrivateKeyPath  string
	CertificatePath string
}

// Options configures server creation.
type Options struct {
	StorageDir      string
	Defaults        config.Config
	Resolver        *fonts.Resolver
	ManifestSigning ManifestSigningOptions
	Publisher       publish.Publisher
	// LedgerPath, when set, is the JSONL ledger every generated
	// certificate is appended to and verify consults.
	LedgerPath      string
	Workers         int
	MaxUploadBytes  int64
	Logger          *zap.Logger
}

type signer struct {
	key  []byte
	cert []byte
}

func loadSigner(opts ManifestSigningOptions) (signer, error) {
	var s signer
	keyPath := strings.TrimSpace(opts.PrivateKeyPath)
	certPath := strings.TrimSpace(opts.CertificatePath)
	if keyPath == "" {
		if certPath != "" {
			return s, fmt.Errorf("manifest signing certificate configured without a private key")
		}
		return s, nil
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return s, fmt.Errorf("read signing key: %w", err)
	}
	s.key = key
	if certPath != "" {
		cert, err := os.ReadFile(certPath)
		if err != nil {
			return s, fmt.Errorf("read signing certificate: %w", err)
		}
		s.cert = cert
	}
	return s, nil
}
