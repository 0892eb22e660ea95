package tlsconst

import "crypto/tls"

// cipherSuiteName is built from the standard library's own cipher suite
// registry, rather than scraped from IANA's assignments, since that
// registry already carries the names we want and stays in sync with the Go
// version this module is built with.
var cipherSuiteName = buildCipherSuiteNames()

func buildCipherSuiteNames() map[uint16]string {
	m := map[uint16]string{}
	for _, cs := range tls.CipherSuites() {
		m[cs.ID] = cs.Name
	}
	for _, cs := range tls.InsecureCipherSuites() {
		m[cs.ID] = cs.Name
	}
	return m
}
