package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"
)

func generateTestSigner(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	now := time.Now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Bundle Signer", Organization: []string{"certgate"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return keyPEM, certPEM
}

func TestSignAndVerifyDetachedJWS(t *testing.T) {
	keyPEM, certPEM := generateTestSigner(t)
	payload := []byte(`{"items":[{"path":"John Doe.pdf"}]}`)

	sig, err := SignDetachedJWS(payload, keyPEM, "bundle")
	if err != nil {
		t.Fatalf("SignDetachedJWS: %v", err)
	}
	compact := sig.Compact()
	if !strings.Contains(compact, "..") {
		t.Fatalf("compact form is not detached: %s", compact)
	}
	parsed, err := ParseDetachedJWS([]byte(compact + "\n"))
	if err != nil {
		t.Fatalf("ParseDetachedJWS: %v", err)
	}
	if err := VerifyDetachedJWS(payload, parsed, certPEM); err != nil {
		t.Fatalf("VerifyDetachedJWS: %v", err)
	}

	tampered := append([]byte(nil), payload...)
	tampered[10] = 'X'
	if err := VerifyDetachedJWS(tampered, parsed, certPEM); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered payload err = %v", err)
	}

	_, otherCert := generateTestSigner(t)
	if err := VerifyDetachedJWS(payload, parsed, otherCert); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong signer err = %v", err)
	}

	subject, _, err := CertificateInfo(certPEM)
	if err != nil || !strings.Contains(subject, "Test Bundle Signer") {
		t.Fatalf("CertificateInfo = %q, %v", subject, err)
	}
}

func TestParseDetachedJWSErrors(t *testing.T) {
	for _, in := range []string{"", "abc", "a.b", "..", `{"protected":""}`} {
		if _, err := ParseDetachedJWS([]byte(in)); err == nil {
			t.Errorf("ParseDetachedJWS(%q) succeeded", in)
		}
	}
	if _, err := SignDetachedJWS([]byte("x"), []byte("not pem"), ""); err == nil {
		t.Fatalf("expected key error")
	}
}
