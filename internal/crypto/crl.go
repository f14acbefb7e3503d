package crypto

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// RevokedEntry is one certificate listed in a CRL
type RevokedEntry struct {
	// SerialNumber is lowercase hex as produced by SerialHex
	SerialNumber string
	RevokedAt    time.Time
}

// BuildCRL signs a PEM CRL listing entries. number must increase with every
// CRL the authority publishes.
func (a *Authority) BuildCRL(entries []RevokedEntry, number *big.Int, validity time.Duration) ([]byte, error) {
	revoked := make([]x509.RevocationListEntry, 0, len(entries))
	for _, e := range entries {
		serial, ok := new(big.Int).SetString(e.SerialNumber, 16)
		if !ok {
			return nil, fmt.Errorf("invalid serial number: %q", e.SerialNumber)
		}
		revoked = append(revoked, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: e.RevokedAt.UTC(),
		})
	}

	thisUpdate := time.Now().UTC()
	template := &x509.RevocationList{
		Number:                    number,
		ThisUpdate:                thisUpdate,
		NextUpdate:                thisUpdate.Add(validity),
		RevokedCertificateEntries: revoked,
	}

	der, err := x509.CreateRevocationList(rand.Reader, template, a.Certificate, a.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CRL: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der}), nil
}

// ParseCRLPEM parses a PEM CRL
func ParseCRLPEM(crlPEM []byte) (*x509.RevocationList, error) {
	block, _ := pem.Decode(crlPEM)
	if block == nil || block.Type != "X509 CRL" {
		return nil, fmt.Errorf("failed to decode CRL PEM")
	}

	crl, err := x509.ParseRevocationList(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}
	return crl, nil
}
