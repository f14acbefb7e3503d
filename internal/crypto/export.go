package crypto

import (
	"crypto/x509"
	"fmt"

	"software.sslmate.com/src/go-pkcs12"
)

// ExportPKCS12 bundles a client certificate, its PEM private key and the CA
// certificate as PKCS#12/PFX
func ExportPKCS12(certPEM, keyPEM []byte, password string, caCerts ...*x509.Certificate) ([]byte, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}

	pfxData, err := pkcs12.Modern2023.Encode(key, cert, caCerts, password)
	if err != nil {
		return nil, fmt.Errorf("failed to encode PKCS#12: %w", err)
	}
	return pfxData, nil
}

// ExportPKCS12Legacy uses 3DES for clients that cannot read the modern format
func ExportPKCS12Legacy(certPEM, keyPEM []byte, password string, caCerts ...*x509.Certificate) ([]byte, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}

	pfxData, err := pkcs12.LegacyDES.Encode(key, cert, caCerts, password)
	if err != nil {
		return nil, fmt.Errorf("failed to encode PKCS#12 (legacy): %w", err)
	}
	return pfxData, nil
}
