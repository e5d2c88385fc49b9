package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

var ErrBadSignature = errors.New("jws: signature does not match")

// JWS is a detached RS256 signature: the payload is carried separately and
// the Payload field stays empty when serialized.
type JWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload,omitempty"`
	Signature string `json:"signature"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
	Kid string `json:"kid,omitempty"`
}

// SignDetachedJWS signs payload with an RSA private key in PKCS#1 or PKCS#8
// PEM form. kid is optional and recorded in the protected header.
func SignDetachedJWS(payload []byte, privateKeyPEM []byte, kid string) (JWS, error) {
	hb, _ := json.Marshal(header{Alg: "RS256", Typ: "JWT", Kid: kid})
	protected := base64.RawURLEncoding.EncodeToString(hb)
	pl := base64.RawURLEncoding.EncodeToString(payload)

	priv, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil { return JWS{}, err }

	h := sha256.Sum256([]byte(protected + "." + pl))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, h[:])
	if err != nil { return JWS{}, err }

	return JWS{
		Protected: protected,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}, nil
}

// Compact renders the detached form "protected..signature".
func (j JWS) Compact() string {
	return j.Protected + ".." + j.Signature
}

// ParseDetachedJWS accepts either the compact detached form or the JSON
// object written by older bundles.
func ParseDetachedJWS(data []byte) (JWS, error) {
	s := strings.TrimSpace(string(data))
	if strings.HasPrefix(s, "{") {
		var j JWS
		if err := json.Unmarshal([]byte(s), &j); err != nil {
			return JWS{}, fmt.Errorf("decode jws json: %w", err)
		}
		if j.Protected == "" || j.Signature == "" {
			return JWS{}, errors.New("jws: missing protected header or signature")
		}
		return j, nil
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return JWS{}, errors.New("jws: expected protected..signature")
	}
	return JWS{Protected: parts[0], Payload: parts[1], Signature: parts[2]}, nil
}

// VerifyDetachedJWS checks the signature over payload with the public key of
// the PEM certificate (or bare public key).
func VerifyDetachedJWS(payload []byte, j JWS, certPEM []byte) error {
	hb, err := base64.RawURLEncoding.DecodeString(j.Protected)
	if err != nil { return fmt.Errorf("decode header: %w", err) }
	var hdr header
	if err := json.Unmarshal(hb, &hdr); err != nil { return fmt.Errorf("parse header: %w", err) }
	if hdr.Alg != "RS256" {
		return fmt.Errorf("jws: unsupported alg %q", hdr.Alg)
	}
	pl := base64.RawURLEncoding.EncodeToString(payload)
	if j.Payload != "" && j.Payload != pl {
		return ErrBadSignature
	}
	sig, err := base64.RawURLEncoding.DecodeString(j.Signature)
	if err != nil { return fmt.Errorf("decode signature: %w", err) }
	pub, err := parseRSAPublicKey(certPEM)
	if err != nil { return err }
	h := sha256.Sum256([]byte(j.Protected + "." + pl))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}

// CertificateInfo returns the subject and issuer of a PEM certificate.
func CertificateInfo(certPEM []byte) (subject, issuer string, err error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", "", errors.New("no certificate pem block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil { return "", "", err }
	return cert.Subject.String(), cert.Issuer.String(), nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block")
	}
	var pub any
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil { return nil, err }
		pub = cert.PublicKey
	default:
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil { return nil, err }
		pub = k
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
