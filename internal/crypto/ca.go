package crypto

import (
	"bytes"
	gocrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/google/uuid"
)

// Authority is the CA that signs client certificates and the CRL
type Authority struct {
	Certificate    *x509.Certificate
	CertificatePEM []byte
	PrivateKey     gocrypto.Signer
}

// CA returns the CA certificate parsed and as PEM
func (a *Authority) CA() (*x509.Certificate, []byte) {
	return a.Certificate, a.CertificatePEM
}

// CARequest represents a request to create a self-signed CA
type CARequest struct {
	Subject  pkix.Name
	RSABits  int
	Validity time.Duration
}

// LoadAuthority reads the CA certificate and private key from PEM files
func LoadAuthority(certPath, keyPath string) (*Authority, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA private key: %w", err)
	}
	return ParseAuthority(certPEM, keyPEM)
}

// ParseAuthority parses a CA certificate and its private key from PEM
func ParseAuthority(certPEM, keyPEM []byte) (*Authority, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	if !cert.IsCA {
		return nil, fmt.Errorf("certificate is not a CA certificate")
	}

	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	if err := VerifyKeyPair(cert, key); err != nil {
		return nil, err
	}

	return &Authority{
		Certificate:    cert,
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
		PrivateKey:     key,
	}, nil
}

// GenerateSelfSignedCA generates a self-signed root CA and returns it with its
// PKCS#8 PEM private key
func GenerateSelfSignedCA(req *CARequest) (*Authority, []byte, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, req.RSABits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	notBefore := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          newSerialNumber(),
		Subject:               req.Subject,
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(req.Validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyPEM, err := EncodePrivateKeyPEM(privateKey)
	if err != nil {
		return nil, nil, err
	}

	return &Authority{
		Certificate:    cert,
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		PrivateKey:     privateKey,
	}, keyPEM, nil
}

// VerifyIssuedBy checks that cert was signed by the authority
func (a *Authority) VerifyIssuedBy(cert *x509.Certificate) error {
	if !bytes.Equal(cert.RawIssuer, a.Certificate.RawSubject) {
		return fmt.Errorf("CA does not match: issuer differs")
	}
	if err := cert.CheckSignatureFrom(a.Certificate); err != nil {
		return fmt.Errorf("CA does not match: %w", err)
	}
	return nil
}

// ParseCertificatePEM parses a PEM-encoded certificate
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// ParsePrivateKeyPEM parses an unencrypted PKCS#1, SEC 1 or PKCS#8 private key
func ParsePrivateKeyPEM(keyPEM []byte) (gocrypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	if _, encrypted := block.Headers["Proc-Type"]; encrypted || block.Type == "ENCRYPTED PRIVATE KEY" {
		return nil, fmt.Errorf("encrypted private keys are not supported")
	}

	var key any
	var err error
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	signer, ok := key.(gocrypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return signer, nil
}

// EncodePrivateKeyPEM marshals a private key as PKCS#8 PEM
func EncodePrivateKeyPEM(key gocrypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// VerifyKeyPair checks that key is the private half of the certificate's public key
func VerifyKeyPair(cert *x509.Certificate, key gocrypto.Signer) error {
	var match bool
	switch pub := key.Public().(type) {
	case *rsa.PublicKey:
		match = pub.Equal(cert.PublicKey)
	case *ecdsa.PublicKey:
		match = pub.Equal(cert.PublicKey)
	case ed25519.PublicKey:
		match = pub.Equal(cert.PublicKey)
	}
	if !match {
		return fmt.Errorf("private key does not match certificate")
	}
	return nil
}

// newSerialNumber derives a 128-bit serial number from a random UUID
func newSerialNumber() *big.Int {
	id := uuid.New()
	return new(big.Int).SetBytes(id[:])
}
