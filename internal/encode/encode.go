// Package encode implements the wire-level text transforms the outbound
// client needs: quoted-printable body encoding (RFC 2045 §6.7), RFC 2047
// encoded-word header values, and newline-safe header sanitization.
package encode

import (
	"strings"
)

const maxLineLen = 75

// QuotedPrintable encodes s as quoted-printable text, per RFC 2045 §6.7.
//
// Line endings are normalized to CRLF first; every byte is then classified
// exactly once. "=" (0x3D) is not printable-passthrough, so it falls into
// the same default "=HH" escape as any other byte outside the safe range,
// producing "=3D" for a single "=". A tempting but wrong shortcut is to
// string-replace "=" with the literal "=3D" *before* the per-byte pass:
// that pass would then see the "=" the substitution just introduced and
// escape it again, turning one "=" into "=3D3D". There is deliberately no
// such pre-pass here.
func QuotedPrintable(s string) string {
	s = normalizeNewlines(s)

	var out strings.Builder
	lineLen := 0

	emit := func(chunk string) {
		if chunk == "\r" || chunk == "\n" {
			out.WriteString(chunk)
			if chunk == "\n" {
				lineLen = 0
			}
			return
		}
		if lineLen+len(chunk) > maxLineLen {
			out.WriteString("=\r\n")
			lineLen = 0
		}
		out.WriteString(chunk)
		lineLen += len(chunk)
	}

	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b == '\r' || b == '\n':
			emit(string(b))
		case (b >= 0x21 && b <= 0x7e && b != '=') || b == ' ':
			emit(string(b))
		default:
			emit(hexEscape(b))
		}
	}

	return out.String()
}

// normalizeNewlines rewrites any of "\r\n", "\r", "\n" to "\r\n".
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

const hexDigits = "0123456789ABCDEF"

func hexEscape(b byte) string {
	return string([]byte{'=', hexDigits[b>>4], hexDigits[b&0xf]})
}

// isASCII reports whether every byte of s is in the ASCII range.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// HeaderWord encodes a header value using RFC 2047 Q-encoding, if needed.
// ASCII-only values pass through unmodified; anything else is wrapped as
// "=?UTF-8?Q?...?=" with every non-ASCII byte hex-escaped.
func HeaderWord(s string) string {
	if isASCII(s) {
		return s
	}

	var out strings.Builder
	out.WriteString("=?UTF-8?Q?")
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 0x80 {
			out.WriteString(hexEscape(b))
		} else {
			out.WriteByte(b)
		}
	}
	out.WriteString("?=")
	return out.String()
}

// SanitizeHeader collapses CR, LF and TAB runs in v into a single space,
// collapses runs of 2+ spaces into one, trims the result, and finally
// applies HeaderWord encoding. This is what prevents a value containing an
// embedded newline from splitting into a second, attacker-controlled
// header line on the wire.
func SanitizeHeader(v string) string {
	var b strings.Builder
	lastWasSpace := false
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\r' || c == '\n' || c == '\t' || c == ' ' {
			if !lastWasSpace {
				b.WriteByte(' ')
			}
			lastWasSpace = true
			continue
		}
		b.WriteByte(c)
		lastWasSpace = false
	}

	return HeaderWord(strings.TrimSpace(b.String()))
}
