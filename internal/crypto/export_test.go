package crypto

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

func TestExportPKCS12(t *testing.T) {
	ca, _ := newTestCA(t)
	issued, err := ca.IssueClientCertificate(&ClientCertificateRequest{CommonName: "alice", RSABits: 2048, Validity: time.Hour})
	require.NoError(t, err)

	t.Run("Modern encoding round trips", func(t *testing.T) {
		pfx, err := ExportPKCS12(issued.CertificatePEM, issued.PrivateKeyPEM, "s3cret", ca.Certificate)
		require.NoError(t, err)

		key, cert, caCerts, err := pkcs12.DecodeChain(pfx, "s3cret")
		require.NoError(t, err)
		assert.Equal(t, issued.Certificate.Raw, cert.Raw)
		require.Len(t, caCerts, 1)
		assert.Equal(t, ca.Certificate.Raw, caCerts[0].Raw)
		assert.NotNil(t, key)
	})

	t.Run("Legacy encoding", func(t *testing.T) {
		pfx, err := ExportPKCS12Legacy(issued.CertificatePEM, issued.PrivateKeyPEM, "s3cret")
		require.NoError(t, err)

		_, cert, err := pkcs12.Decode(pfx, "s3cret")
		require.NoError(t, err)
		assert.Equal(t, issued.Certificate.Raw, cert.Raw)
	})

	t.Run("Wrong password", func(t *testing.T) {
		pfx, err := ExportPKCS12(issued.CertificatePEM, issued.PrivateKeyPEM, "s3cret", []*x509.Certificate{}...)
		require.NoError(t, err)

		_, _, _, err = pkcs12.DecodeChain(pfx, "nope")
		assert.Error(t, err)
	})

	t.Run("Broken PEM", func(t *testing.T) {
		_, err := ExportPKCS12([]byte("junk"), issued.PrivateKeyPEM, "s3cret")
		assert.EqualError(t, err, "failed to decode certificate PEM")
	})
}
