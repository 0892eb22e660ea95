// Package compose assembles the RFC 5322 message and RFC 2045/2046 MIME
// body the protocol engine streams during DATA: header ordering, the
// Message-ID and Date headers, multipart/alternative construction when
// both a text and an HTML body are present, and the blind-carbon-copy
// discipline (BCC addresses reach the envelope but never a header).
package compose

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"mikromail/internal/encode"
)

// MaxSize is the largest blob this package will produce; a composed
// message over this many bytes is a permanent failure, checked before
// DATA is ever sent.
const MaxSize = 10 * 1024 * 1024

// HeaderField is one user-supplied extra header, kept as a slice (rather
// than a map) so the caller's ordering survives into the composed message.
type HeaderField struct {
	Name  string
	Value string
}

// Message describes the envelope-independent content of an outbound mail:
// everything the composer needs besides the addresses RCPT actually uses.
type Message struct {
	From    string
	To      []string
	Cc      []string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
	Headers []HeaderField
}

var reservedHeaders = map[string]bool{
	"from": true, "to": true, "cc": true, "bcc": true,
	"subject": true, "date": true, "message-id": true,
}

func isValidHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		isAlnum := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
		if !isAlnum && c != '-' {
			return false
		}
	}
	return true
}

// randomHex returns n random bytes, hex-encoded.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// messageIDDomain returns the part of addr after "@", or "localhost" if
// addr has none -- used as the Message-ID's right-hand side.
func messageIDDomain(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

// Build assembles the full RFC 5322 blob for msg. idDomainSource is the
// address (typically the configuration's user) whose domain part seeds the
// Message-ID; now is the timestamp to render as the Date header.
func Build(msg Message, idDomainSource string, now time.Time) (blob []byte, messageID string, err error) {
	idBytes, err := randomHex(16)
	if err != nil {
		return nil, "", err
	}
	messageID = fmt.Sprintf("<%s@%s>", idBytes, messageIDDomain(idDomainSource))

	body, contentHeaders, err := buildBody(msg)
	if err != nil {
		return nil, "", err
	}

	var h strings.Builder
	writeHeader(&h, "From", msg.From)
	writeHeader(&h, "To", strings.Join(msg.To, ", "))
	writeHeader(&h, "Subject", msg.Subject)
	fmt.Fprintf(&h, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&h, "Date: %s\r\n", now.UTC().Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	h.WriteString("MIME-Version: 1.0\r\n")

	if len(msg.Cc) > 0 {
		writeHeader(&h, "Cc", strings.Join(msg.Cc, ", "))
	}
	if msg.ReplyTo != "" {
		writeHeader(&h, "Reply-To", msg.ReplyTo)
	}

	for _, extra := range msg.Headers {
		lower := strings.ToLower(extra.Name)
		if reservedHeaders[lower] || !isValidHeaderName(extra.Name) {
			continue
		}
		fmt.Fprintf(&h, "%s: %s\r\n", extra.Name, encode.SanitizeHeader(extra.Value))
	}

	for _, ch := range contentHeaders {
		fmt.Fprintf(&h, "%s: %s\r\n", ch.Name, ch.Value)
	}

	h.WriteString("\r\n")
	h.Write(body)

	blob = []byte(h.String())
	if len(blob) > MaxSize {
		return nil, "", fmt.Errorf("composed message is %d bytes, exceeding the %d byte limit", len(blob), MaxSize)
	}
	return blob, messageID, nil
}

func writeHeader(h *strings.Builder, name, value string) {
	fmt.Fprintf(h, "%s: %s\r\n", name, encode.SanitizeHeader(value))
}

// buildBody returns the body bytes and the content-type/transfer-encoding
// headers that belong with it, chosen per whether text, HTML, or both are
// present.
func buildBody(msg Message) ([]byte, []HeaderField, error) {
	hasText := msg.Text != ""
	hasHTML := msg.HTML != ""

	switch {
	case hasText && hasHTML:
		boundary, err := randomHex(12)
		if err != nil {
			return nil, nil, err
		}
		boundary = "----=_NextPart_" + boundary

		var b strings.Builder
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		b.WriteString(encode.QuotedPrintable(msg.Text))
		b.WriteString("\r\n")

		fmt.Fprintf(&b, "--%s\r\n", boundary)
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		b.WriteString(encode.QuotedPrintable(msg.HTML))
		b.WriteString("\r\n")

		fmt.Fprintf(&b, "--%s--\r\n", boundary)

		headers := []HeaderField{
			{Name: "Content-Type", Value: fmt.Sprintf(`multipart/alternative; boundary="%s"`, boundary)},
		}
		return []byte(b.String()), headers, nil

	case hasHTML:
		headers := []HeaderField{
			{Name: "Content-Type", Value: "text/html; charset=utf-8"},
			{Name: "Content-Transfer-Encoding", Value: "quoted-printable"},
		}
		return []byte(encode.QuotedPrintable(msg.HTML)), headers, nil

	default:
		headers := []HeaderField{
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
			{Name: "Content-Transfer-Encoding", Value: "quoted-printable"},
		}
		return []byte(encode.QuotedPrintable(msg.Text)), headers, nil
	}
}
