package compose

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var fixedTime = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func TestBuildTextOnly(t *testing.T) {
	msg := Message{
		From:    "sender@example.com",
		To:      []string{"rcpt@example.com"},
		Subject: "hi",
		Text:    "hello world",
	}
	blob, id, err := Build(msg, "sender@example.com", fixedTime)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s := string(blob)

	if !strings.Contains(s, "From: sender@example.com\r\n") {
		t.Error("missing From header")
	}
	if !strings.Contains(s, "To: rcpt@example.com\r\n") {
		t.Error("missing To header")
	}
	if !strings.Contains(s, "Content-Type: text/plain; charset=utf-8\r\n") {
		t.Error("missing text/plain content type")
	}
	if !strings.HasSuffix(id, "@example.com>") || !strings.HasPrefix(id, "<") {
		t.Errorf("unexpected Message-ID shape: %q", id)
	}
	if !strings.Contains(s, "Date: Wed, 04 Mar 2026 12:00:00 +0000\r\n") {
		t.Errorf("missing or wrong Date header in:\n%s", s)
	}
}

func TestBuildMultipartAlternative(t *testing.T) {
	msg := Message{
		From:    "a@example.com",
		To:      []string{"b@example.com"},
		Subject: "hi",
		Text:    "plain body",
		HTML:    "<b>html body</b>",
	}
	blob, _, err := Build(msg, "a@example.com", fixedTime)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s := string(blob)

	if !strings.Contains(s, "multipart/alternative; boundary=") {
		t.Error("missing multipart/alternative content type")
	}
	if !strings.Contains(s, "text/plain; charset=utf-8") || !strings.Contains(s, "text/html; charset=utf-8") {
		t.Error("missing one of the two alternative parts")
	}
	if strings.Count(s, "----=_NextPart_") < 3 {
		t.Error("expected two part boundaries and one closing boundary")
	}
}

func TestBuildDropsReservedAndInvalidHeaders(t *testing.T) {
	msg := Message{
		From: "a@example.com",
		To:   []string{"b@example.com"},
		Text: "hi",
		Headers: []HeaderField{
			{Name: "From", Value: "attacker@evil.example"},
			{Name: "X-Custom", Value: "keep-me"},
			{Name: "Bad Name!", Value: "dropped"},
		},
	}
	blob, _, err := Build(msg, "a@example.com", fixedTime)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s := string(blob)

	if strings.Contains(s, "attacker@evil.example") {
		t.Error("reserved header override was not dropped")
	}
	if !strings.Contains(s, "X-Custom: keep-me") {
		t.Error("valid custom header was dropped")
	}
	if strings.Contains(s, "dropped") {
		t.Error("invalid header name was not dropped")
	}
}

func TestBuildOversizeIsRejected(t *testing.T) {
	msg := Message{
		From: "a@example.com",
		To:   []string{"b@example.com"},
		Text: strings.Repeat("x", MaxSize+1),
	}
	if _, _, err := Build(msg, "a@example.com", fixedTime); err == nil {
		t.Error("Build with oversize body: want error, got nil")
	}
}

func TestBuildHeaderOrder(t *testing.T) {
	msg := Message{
		From:    "a@example.com",
		To:      []string{"b@example.com", "c@example.com"},
		Cc:      []string{"d@example.com"},
		ReplyTo: "e@example.com",
		Subject: "hi",
		Text:    "hello",
		Headers: []HeaderField{{Name: "X-Custom", Value: "v"}},
	}
	blob, _, err := Build(msg, "a@example.com", fixedTime)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	headerSection := strings.SplitN(string(blob), "\r\n\r\n", 2)[0]
	var names []string
	for _, line := range strings.Split(headerSection, "\r\n") {
		name := strings.SplitN(line, ":", 2)[0]
		names = append(names, name)
	}

	want := []string{
		"From", "To", "Subject", "Message-ID", "Date", "MIME-Version",
		"Cc", "Reply-To", "X-Custom", "Content-Type", "Content-Transfer-Encoding",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("header order mismatch (-want +got):\n%s", diff)
	}
}

func TestBCCNeverAppearsInHeaders(t *testing.T) {
	// Bcc is intentionally absent from Message: the composer has no field
	// for it, so there is no code path that could leak it into a header.
	msg := Message{
		From: "a@example.com",
		To:   []string{"b@example.com"},
		Text: "hi",
	}
	blob, _, err := Build(msg, "a@example.com", fixedTime)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(strings.ToLower(string(blob)), "bcc:") {
		t.Error("Bcc header leaked into composed message")
	}
}
