package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"
)

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// ClientCertificateRequest describes a client certificate to issue
type ClientCertificateRequest struct {
	CommonName string
	Email      string
	// SubjectDefaults holds extra subject fields keyed by short (O, OU, C, ST, L)
	// or long (organizationName, ...) attribute names
	SubjectDefaults map[string]string
	RSABits         int
	Validity        time.Duration
}

// ClientCertificate is a freshly issued certificate with its private key
type ClientCertificate struct {
	Certificate    *x509.Certificate
	CertificatePEM []byte
	PrivateKeyPEM  []byte
	SerialNumber   string
}

// IssueClientCertificate generates an RSA key pair and a client certificate signed by the authority
func (a *Authority) IssueClientCertificate(req *ClientCertificateRequest) (*ClientCertificate, error) {
	if req.CommonName == "" {
		return nil, fmt.Errorf("common name is required")
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, req.RSABits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	subject, err := buildSubject(req.CommonName, req.Email, req.SubjectDefaults)
	if err != nil {
		return nil, err
	}

	subjectKeyID, err := subjectKeyIdentifier(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}

	notBefore := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          newSerialNumber(),
		Subject:               subject,
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(req.Validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		SubjectKeyId:          subjectKeyID,
	}
	if isASCII(req.CommonName) {
		template.DNSNames = []string{req.CommonName}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, a.Certificate, &privateKey.PublicKey, a.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyPEM, err := EncodePrivateKeyPEM(privateKey)
	if err != nil {
		return nil, err
	}

	return &ClientCertificate{
		Certificate:    cert,
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		PrivateKeyPEM:  keyPEM,
		SerialNumber:   SerialHex(cert),
	}, nil
}

// SerialHex formats a certificate serial as lowercase hex without leading zeros
func SerialHex(cert *x509.Certificate) string {
	return cert.SerialNumber.Text(16)
}

func buildSubject(commonName, email string, defaults map[string]string) (pkix.Name, error) {
	var name pkix.Name

	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := defaults[k]
		switch k {
		case "C", "countryName":
			name.Country = append(name.Country, v)
		case "ST", "stateOrProvinceName":
			name.Province = append(name.Province, v)
		case "L", "localityName":
			name.Locality = append(name.Locality, v)
		case "O", "organizationName":
			name.Organization = append(name.Organization, v)
		case "OU", "organizationalUnitName":
			name.OrganizationalUnit = append(name.OrganizationalUnit, v)
		case "street", "streetAddress":
			name.StreetAddress = append(name.StreetAddress, v)
		case "postalCode":
			name.PostalCode = append(name.PostalCode, v)
		case "CN", "commonName", "emailAddress":
			// set from the client below
		default:
			return pkix.Name{}, fmt.Errorf("unsupported subject field: %s", k)
		}
	}

	name.CommonName = commonName
	if email != "" {
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{Type: oidEmailAddress, Value: email})
	}
	return name, nil
}

func subjectKeyIdentifier(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}

	sum := sha1.Sum(spki.PublicKey.Bytes)
	return sum[:], nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
