// Package transport implements the byte-stream layer the protocol engine
// runs on: a plain TCP connection, an implicit-TLS connection from the
// first byte, and an in-place STARTTLS upgrade of an already-open plain
// connection.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"mikromail/internal/tlsconst"
)

// minTLSVersion is the floor this client will negotiate down to.
const minTLSVersion = tls.VersionTLS12

// testRootCAs lets tests point certificate verification at a private CA
// pool instead of the system roots; nil (the production default) means
// "use the system roots".
var testRootCAs *x509.CertPool

// SetTestRootCAs overrides the certificate pool used to verify TLS
// connections. It exists for tests against a self-signed fake server and
// has no production caller.
func SetTestRootCAs(pool *x509.CertPool) {
	testRootCAs = pool
}

// cipherSuites restricts negotiation to the modern, non-null, non-RC4,
// non-MD5 suites the standard library considers secure -- the Go analogue
// of the "HIGH:!aNULL:!MD5:!RC4" OpenSSL cipher string.
func cipherSuites() []uint16 {
	var ids []uint16
	for _, cs := range tls.CipherSuites() {
		ids = append(ids, cs.ID)
	}
	return ids
}

// Conn wraps a network connection, tracking whether it is currently
// encrypted so callers (and debug logging) know the session's security
// state without inspecting the underlying type.
type Conn struct {
	net.Conn
	secure     bool
	serverName string
}

// Secure reports whether the current connection is TLS-protected.
func (c *Conn) Secure() bool {
	return c.secure
}

// TLSSummary renders the negotiated TLS version and cipher suite using
// human-readable names, for debug logging. It returns "" if the connection
// is not currently TLS.
func (c *Conn) TLSSummary() string {
	tc, ok := c.Conn.(*tls.Conn)
	if !ok {
		return ""
	}
	cs := tc.ConnectionState()
	return fmt.Sprintf("%s/%s",
		tlsconst.VersionName(cs.Version), tlsconst.CipherSuiteName(cs.CipherSuite))
}

// ConnectPlain dials a plain TCP connection to host:port, bounded by
// timeout.
func ConnectPlain(host string, port int, timeout time.Duration) (*Conn, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Conn{Conn: nc, serverName: host}, nil
}

// ConnectTLS dials and immediately performs a TLS handshake (implicit TLS,
// RFC 8314), bounded by timeout for the whole dial+handshake.
func ConnectTLS(host string, port int, timeout time.Duration) (*Conn, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	dialer := &net.Dialer{Timeout: timeout}

	cfg := &tls.Config{
		ServerName:   host,
		MinVersion:   minTLSVersion,
		CipherSuites: cipherSuites(),
		RootCAs:      testRootCAs,
	}

	tc, err := tls.DialWithDialer(dialer, "tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dialing %s (tls): %w", addr, err)
	}
	return &Conn{Conn: tc, secure: true, serverName: host}, nil
}

// UpgradeToTLS wraps c's existing plain connection with a TLS client
// handshake in place (RFC 3207 STARTTLS). Certificate verification is
// always on; there is no insecure mode.
func (c *Conn) UpgradeToTLS(timeout time.Duration) error {
	cfg := &tls.Config{
		ServerName:   c.serverName,
		MinVersion:   minTLSVersion,
		CipherSuites: cipherSuites(),
		RootCAs:      testRootCAs,
	}

	tc := tls.Client(c.Conn, cfg)
	if timeout > 0 {
		tc.SetDeadline(time.Now().Add(timeout))
	}
	if err := tc.Handshake(); err != nil {
		return fmt.Errorf("TLS handshake: %w", err)
	}
	tc.SetDeadline(time.Time{})

	c.Conn = tc
	c.secure = true
	return nil
}
