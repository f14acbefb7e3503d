package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
	"time"
)

// DN is a distinguished name keyed by OpenSSL short attribute names
type DN map[string]string

// CertExtension describes one certificate extension
type CertExtension struct {
	Name       string `json:"name"`
	IsCritical bool   `json:"is_critical"`
	Text       string `json:"text"`
}

// PKeyInfo describes a key algorithm and size
type PKeyInfo struct {
	Type string `json:"type"`
	Bits int    `json:"bits"`
}

// CertInfo is the read-only view of an issued certificate
type CertInfo struct {
	// Version is the raw X.509 version field, so v3 certificates report 2
	Version            int             `json:"version"`
	Subject            DN              `json:"subject"`
	Issuer             DN              `json:"issuer"`
	SerialNumber       string          `json:"serial_number"`
	ValidityStart      time.Time       `json:"validity_start"`
	ValidityEnd        time.Time       `json:"validity_end"`
	SignatureAlgorithm string          `json:"signature_algorithm"`
	Extensions         []CertExtension `json:"extensions"`
	PublicKey          PKeyInfo        `json:"public_key"`
}

var attributeNames = map[string]string{
	"2.5.4.3":              "CN",
	"2.5.4.4":              "SN",
	"2.5.4.5":              "serialNumber",
	"2.5.4.6":              "C",
	"2.5.4.7":              "L",
	"2.5.4.8":              "ST",
	"2.5.4.9":              "street",
	"2.5.4.10":             "O",
	"2.5.4.11":             "OU",
	"2.5.4.12":             "title",
	"2.5.4.17":             "postalCode",
	"2.5.4.42":             "GN",
	"1.2.840.113549.1.9.1": "emailAddress",

	"0.9.2342.19200300.100.1.25": "DC",
}

var extensionNames = map[string]string{
	"2.5.29.14":         "subjectKeyIdentifier",
	"2.5.29.15":         "keyUsage",
	"2.5.29.17":         "subjectAltName",
	"2.5.29.19":         "basicConstraints",
	"2.5.29.31":         "crlDistributionPoints",
	"2.5.29.32":         "certificatePolicies",
	"2.5.29.35":         "authorityKeyIdentifier",
	"2.5.29.37":         "extendedKeyUsage",
	"1.3.6.1.5.5.7.1.1": "authorityInfoAccess",

	"2.16.840.1.113730.1.1":  "nsCertType",
	"2.16.840.1.113730.1.13": "nsComment",
}

var signatureNames = map[x509.SignatureAlgorithm]string{
	x509.SHA1WithRSA:      "sha1WithRSAEncryption",
	x509.SHA256WithRSA:    "sha256WithRSAEncryption",
	x509.SHA384WithRSA:    "sha384WithRSAEncryption",
	x509.SHA512WithRSA:    "sha512WithRSAEncryption",
	x509.SHA256WithRSAPSS: "rsassaPss",
	x509.SHA384WithRSAPSS: "rsassaPss",
	x509.SHA512WithRSAPSS: "rsassaPss",
	x509.ECDSAWithSHA256:  "ecdsa-with-SHA256",
	x509.ECDSAWithSHA384:  "ecdsa-with-SHA384",
	x509.ECDSAWithSHA512:  "ecdsa-with-SHA512",
	x509.PureEd25519:      "ED25519",
}

// DescribeCertificate builds the descriptor of a parsed certificate
func DescribeCertificate(cert *x509.Certificate) *CertInfo {
	info := &CertInfo{
		Version:            cert.Version - 1,
		Subject:            describeName(cert.Subject),
		Issuer:             describeName(cert.Issuer),
		SerialNumber:       SerialHex(cert),
		ValidityStart:      cert.NotBefore.UTC(),
		ValidityEnd:        cert.NotAfter.UTC(),
		SignatureAlgorithm: signatureName(cert.SignatureAlgorithm),
		Extensions:         make([]CertExtension, 0, len(cert.Extensions)),
		PublicKey:          describePublicKey(cert.PublicKey),
	}

	for _, ext := range cert.Extensions {
		info.Extensions = append(info.Extensions, CertExtension{
			Name:       extensionName(ext.Id),
			IsCritical: ext.Critical,
			Text:       extensionText(cert, ext),
		})
	}
	return info
}

// DescribePrivateKey builds the descriptor of a PEM private key
func DescribePrivateKey(keyPEM []byte) (*PKeyInfo, error) {
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	info := describePublicKey(key.Public())
	return &info, nil
}

func describeName(name pkix.Name) DN {
	dn := DN{}
	for _, attr := range name.Names {
		key, ok := attributeNames[attr.Type.String()]
		if !ok {
			key = attr.Type.String()
		}
		dn[key] = fmt.Sprint(attr.Value)
	}
	return dn
}

func describePublicKey(pub any) PKeyInfo {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return PKeyInfo{Type: "RSA", Bits: key.N.BitLen()}
	case *ecdsa.PublicKey:
		return PKeyInfo{Type: "EC", Bits: key.Curve.Params().BitSize}
	case ed25519.PublicKey:
		return PKeyInfo{Type: "ED25519", Bits: 256}
	default:
		return PKeyInfo{Type: "UNKNOWN"}
	}
}

func signatureName(alg x509.SignatureAlgorithm) string {
	if name, ok := signatureNames[alg]; ok {
		return name
	}
	return alg.String()
}

func extensionName(id asn1.ObjectIdentifier) string {
	if name, ok := extensionNames[id.String()]; ok {
		return name
	}
	return id.String()
}

func extensionText(cert *x509.Certificate, ext pkix.Extension) string {
	switch ext.Id.String() {
	case "2.5.29.19":
		if !cert.IsCA {
			return "CA:FALSE"
		}
		if cert.MaxPathLen > 0 || cert.MaxPathLenZero {
			return fmt.Sprintf("CA:TRUE, pathlen:%d", cert.MaxPathLen)
		}
		return "CA:TRUE"
	case "2.5.29.15":
		return keyUsageText(cert.KeyUsage)
	case "2.5.29.37":
		return extKeyUsageText(cert.ExtKeyUsage)
	case "2.5.29.14":
		return hexColon(cert.SubjectKeyId)
	case "2.5.29.35":
		return "keyid:" + hexColon(cert.AuthorityKeyId)
	case "2.5.29.17":
		var names []string
		for _, n := range cert.DNSNames {
			names = append(names, "DNS:"+n)
		}
		for _, n := range cert.EmailAddresses {
			names = append(names, "email:"+n)
		}
		for _, ip := range cert.IPAddresses {
			names = append(names, "IP Address:"+ip.String())
		}
		return strings.Join(names, ", ")
	default:
		return hexColon(ext.Value)
	}
}

func keyUsageText(usage x509.KeyUsage) string {
	names := []struct {
		bit  x509.KeyUsage
		name string
	}{
		{x509.KeyUsageDigitalSignature, "Digital Signature"},
		{x509.KeyUsageContentCommitment, "Non Repudiation"},
		{x509.KeyUsageKeyEncipherment, "Key Encipherment"},
		{x509.KeyUsageDataEncipherment, "Data Encipherment"},
		{x509.KeyUsageKeyAgreement, "Key Agreement"},
		{x509.KeyUsageCertSign, "Certificate Sign"},
		{x509.KeyUsageCRLSign, "CRL Sign"},
		{x509.KeyUsageEncipherOnly, "Encipher Only"},
		{x509.KeyUsageDecipherOnly, "Decipher Only"},
	}

	var out []string
	for _, n := range names {
		if usage&n.bit != 0 {
			out = append(out, n.name)
		}
	}
	return strings.Join(out, ", ")
}

func extKeyUsageText(usages []x509.ExtKeyUsage) string {
	var out []string
	for _, u := range usages {
		switch u {
		case x509.ExtKeyUsageServerAuth:
			out = append(out, "TLS Web Server Authentication")
		case x509.ExtKeyUsageClientAuth:
			out = append(out, "TLS Web Client Authentication")
		case x509.ExtKeyUsageCodeSigning:
			out = append(out, "Code Signing")
		case x509.ExtKeyUsageEmailProtection:
			out = append(out, "E-mail Protection")
		case x509.ExtKeyUsageAny:
			out = append(out, "Any Extended Key Usage")
		default:
			out = append(out, fmt.Sprintf("usage %d", u))
		}
	}
	return strings.Join(out, ", ")
}

func hexColon(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02X", c)
	}
	return strings.Join(parts, ":")
}
