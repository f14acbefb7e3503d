// Package ovpnconf renders OpenVPN configuration files: the server config with
// the pushed routes appended, and inline client profiles.
package ovpnconf

import (
	"fmt"
	"os"
	"strings"
)

// Route is a network pushed to clients
type Route struct {
	IP   string
	Mask string
}

// ClientMaterial holds the PEM blocks inlined into a client profile
type ClientMaterial struct {
	CACertPEM  []byte
	CertPEM    []byte
	KeyPEM     []byte
	TLSAuthKey []byte
}

// PushRouteLine returns the server directive pushing one route
func PushRouteLine(r Route) string {
	return fmt.Sprintf("push \"route %s %s\"", r.IP, r.Mask)
}

// RenderServerConfig appends one push line per route to the base config
func RenderServerConfig(base string, routes []Route) string {
	if len(routes) == 0 {
		return base
	}

	lines := make([]string, len(routes))
	for i, r := range routes {
		lines[i] = PushRouteLine(r)
	}
	return withNewline(base) + strings.Join(lines, "\n") + "\n"
}

// withNewline terminates a non-empty base so appended directives start on
// their own line
func withNewline(base string) string {
	if base == "" || strings.HasSuffix(base, "\n") {
		return base
	}
	return base + "\n"
}

// RenderClientConfig appends the inline <ca>, <cert>, <key> and <tls-auth> blocks
// to the base client config
func RenderClientConfig(base string, m ClientMaterial) (string, error) {
	switch {
	case len(m.CACertPEM) == 0:
		return "", fmt.Errorf("CA cert is required")
	case len(m.CertPEM) == 0:
		return "", fmt.Errorf("client cert is required")
	case len(m.KeyPEM) == 0:
		return "", fmt.Errorf("client key is required")
	case len(m.TLSAuthKey) == 0:
		return "", fmt.Errorf("tls auth key is required")
	}

	var b strings.Builder
	b.WriteString(withNewline(base))
	writeBlock(&b, "ca", m.CACertPEM)
	writeBlock(&b, "cert", m.CertPEM)
	writeBlock(&b, "key", m.KeyPEM)
	writeBlock(&b, "tls-auth", m.TLSAuthKey)
	return b.String(), nil
}

func writeBlock(b *strings.Builder, tag string, body []byte) {
	b.WriteString("<" + tag + ">\n")
	b.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		b.WriteString("\n")
	}
	b.WriteString("</" + tag + ">\n")
}

// ReadBase reads a base config file
func ReadBase(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("base config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read base config: %w", err)
	}
	return string(data), nil
}
