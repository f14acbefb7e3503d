// Package crypto provides the cryptographic operations behind VPN client credentials.
// It includes AES-256-GCM sealing of private keys at rest, loading of the issuing
// CA, RSA client certificate issuance, certificate and key descriptors, CRL
// building, and credential export as PKCS#12.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// MasterKeySize is the AES-256 key length in bytes
const MasterKeySize = 32

// SealPrivateKey encrypts a PEM private key with AES-256-GCM. The credential ID
// is bound as associated data so a sealed key cannot be moved to another row.
func SealPrivateKey(plaintext []byte, masterKey []byte, credentialID string) ([]byte, error) {
	gcm, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// nonce || ciphertext
	return gcm.Seal(nonce, nonce, plaintext, []byte(credentialID)), nil
}

// OpenPrivateKey decrypts a key sealed by SealPrivateKey
func OpenPrivateKey(sealed []byte, masterKey []byte, credentialID string) ([]byte, error) {
	gcm, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(credentialID))
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// GenerateMasterKey generates a new 256-bit master key
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	return key, nil
}

func newGCM(masterKey []byte) (cipher.AEAD, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
