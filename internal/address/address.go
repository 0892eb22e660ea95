// Package address implements syntactic validation of SMTP mailbox
// addresses, with PRECIS/IDNA normalization for internationalized mail.
package address

import (
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

const (
	maxLocalLen  = 64
	maxDomainLen = 255
)

// localChars are the bytes allowed in the local part of an address, besides
// alphanumerics: RFC 5321's atext set plus the dot used for "dot-string"
// local parts.
const localChars = "!#$%&'*+-/=?^_`{|}~."

// Valid reports whether addr is a syntactically valid "local@domain"
// mailbox address. It never panics; any parse or constraint failure simply
// returns false.
func Valid(addr string) bool {
	local, domain, ok := splitOnce(addr)
	if !ok {
		return false
	}
	return validLocal(local) && validDomain(domain)
}

// splitOnce splits on the last "@", since local parts may validly contain
// "@" only inside quoted strings, which this profile does not support; a
// bare address must have exactly one "@".
func splitOnce(addr string) (local, domain string, ok bool) {
	i := strings.LastIndexByte(addr, '@')
	if i <= 0 || i == len(addr)-1 {
		return "", "", false
	}
	return addr[:i], addr[i+1:], true
}

func validLocal(local string) bool {
	if len(local) < 1 || len(local) > maxLocalLen {
		return false
	}
	if local[0] == '.' || local[len(local)-1] == '.' {
		return false
	}
	if strings.Contains(local, "..") {
		return false
	}
	for i := 0; i < len(local); i++ {
		c := local[i]
		if isAlnum(c) || strings.IndexByte(localChars, c) >= 0 {
			continue
		}
		return false
	}
	return true
}

func validDomain(domain string) bool {
	if len(domain) < 1 || len(domain) > maxDomainLen {
		return false
	}

	if strings.HasPrefix(domain, "[") && strings.HasSuffix(domain, "]") {
		return validAddressLiteral(domain[1 : len(domain)-1])
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for i, label := range labels {
		if !validLabel(label) {
			return false
		}
		if i == len(labels)-1 && len(label) < 2 {
			return false
		}
	}
	return true
}

func validAddressLiteral(inner string) bool {
	if strings.HasPrefix(inner, "IPv6:") {
		return len(inner) > len("IPv6:")
	}

	groups := strings.Split(inner, ".")
	if len(groups) != 4 {
		return false
	}
	for _, g := range groups {
		if len(g) < 1 || len(g) > 3 {
			return false
		}
		for i := 0; i < len(g); i++ {
			if g[i] < '0' || g[i] > '9' {
				return false
			}
		}
	}
	return true
}

func validLabel(label string) bool {
	if len(label) < 1 || len(label) > 63 {
		return false
	}
	if !isAlnum(label[0]) || !isAlnum(label[len(label)-1]) {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if !isAlnum(c) && c != '-' {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// Normalize applies Unicode-safe normalization to addr: the local part
// through PRECIS's case-mapped username profile, and the domain through
// IDNA-to-ASCII when it contains non-ASCII labels. It is a separate step
// from Valid, which does not call it. It returns the (possibly unchanged)
// address, or the original string plus an error if normalization itself
// fails.
func Normalize(addr string) (string, error) {
	local, domain, ok := splitOnce(addr)
	if !ok {
		return addr, nil
	}

	normLocal := local
	if !isASCII(local) {
		var err error
		normLocal, err = precis.UsernameCaseMapped.String(local)
		if err != nil {
			return addr, err
		}
	}

	var err error
	normDomain := domain
	if !isASCII(domain) {
		normDomain, err = idna.ToASCII(domain)
		if err != nil {
			return addr, err
		}
	}

	return normLocal + "@" + normDomain, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// Domain returns the domain part of addr, or "" if addr has no "@".
func Domain(addr string) string {
	_, domain, ok := splitOnce(addr)
	if !ok {
		return ""
	}
	return domain
}
