package smtp

import (
	"bufio"
	"net"
	"net/textproto"
	"strconv"
	"testing"
	"time"
)

// scriptedServer accepts one connection and replies to each line read with
// responses[line], sending _welcome first.
func scriptedServer(t *testing.T, responses map[string]string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		defer ln.Close()
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		r := textproto.NewReader(bufio.NewReader(c))
		c.Write([]byte(responses["_welcome"]))
		for {
			line, err := r.ReadLine()
			if err != nil {
				return
			}
			resp, ok := responses[line]
			if !ok {
				return
			}
			c.Write([]byte(resp))
			if line == "DATA" {
				if _, err := r.ReadDotBytes(); err != nil {
					return
				}
				c.Write([]byte(responses["_DATA"]))
			}
		}
	}()

	return ln.Addr().String()
}

func dial(t *testing.T, addr string) *Session {
	t.Helper()
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	s, err := Connect(host, port, false, 2*time.Second, nil, false)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

func TestHandshakeNoExtensions(t *testing.T) {
	addr := scriptedServer(t, map[string]string{
		"_welcome":       "220 fake.example.com ESMTP\r\n",
		"EHLO localhost": "250 fake.example.com\r\n",
		"QUIT":           "221 bye\r\n",
	})
	s := dial(t, addr)
	defer s.Quit()

	if err := s.Handshake("localhost"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if s.Phase() != Ehloed {
		t.Errorf("phase = %v, want Ehloed", s.Phase())
	}
}

func TestCapabilityParsing(t *testing.T) {
	addr := scriptedServer(t, map[string]string{
		"_welcome": "220 fake.example.com ESMTP\r\n",
		"EHLO localhost": "250-fake.example.com\r\n" +
			"250-PIPELINING\r\n" +
			"250-AUTH PLAIN LOGIN CRAM-MD5\r\n" +
			"250 SIZE 10485760\r\n",
		"QUIT": "221 bye\r\n",
	})
	s := dial(t, addr)
	defer s.Quit()

	if err := s.Handshake("localhost"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	for _, want := range []string{"PIPELINING", "AUTH", "SIZE"} {
		if !s.Capabilities().Has(want) {
			t.Errorf("capabilities missing %q", want)
		}
	}
	if s.authLine != "PLAIN LOGIN CRAM-MD5" {
		t.Errorf("authLine = %q", s.authLine)
	}
}

func TestFullEnvelope(t *testing.T) {
	addr := scriptedServer(t, map[string]string{
		"_welcome":                "220 fake.example.com ESMTP\r\n",
		"EHLO localhost":          "250 fake.example.com\r\n",
		"MAIL FROM:<a@example.com>": "250 OK\r\n",
		"RCPT TO:<b@example.com>":   "250 OK\r\n",
		"DATA":                    "354 go ahead\r\n",
		"_DATA":                   "250 queued as 123\r\n",
		"QUIT":                    "221 bye\r\n",
	})
	s := dial(t, addr)

	if err := s.Handshake("localhost"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if err := s.MailFrom("a@example.com"); err != nil {
		t.Fatalf("MailFrom: %v", err)
	}
	if err := s.RcptTo("b@example.com"); err != nil {
		t.Fatalf("RcptTo: %v", err)
	}
	text, err := s.Data([]byte("Subject: hi\r\n\r\nbody"))
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if text != "queued as 123" {
		t.Errorf("Data response = %q", text)
	}
	if err := s.Quit(); err != nil {
		t.Fatalf("Quit: %v", err)
	}
}

func TestUnexpectedCodeIsError(t *testing.T) {
	addr := scriptedServer(t, map[string]string{
		"_welcome":       "220 fake.example.com ESMTP\r\n",
		"EHLO localhost": "250 fake.example.com\r\n",
		"MAIL FROM:<a@example.com>": "550 no such sender\r\n",
	})
	s := dial(t, addr)
	defer s.Close()

	if err := s.Handshake("localhost"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	err := s.MailFrom("a@example.com")
	if err == nil {
		t.Fatal("MailFrom: want error, got nil")
	}
	if !IsPermanent(err) {
		t.Errorf("IsPermanent(%v) = false, want true", err)
	}
}

func TestAuthPlain(t *testing.T) {
	addr := scriptedServer(t, map[string]string{
		"_welcome": "220 fake.example.com ESMTP\r\n",
		"EHLO localhost": "250-fake.example.com\r\n" +
			"250 AUTH PLAIN\r\n",
		"AUTH PLAIN AHUAcGFzcw==": "235 OK\r\n",
	})
	s := dial(t, addr)
	defer s.Close()

	if err := s.Handshake("localhost"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if err := s.Authenticate("u", "pass"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.Phase() != Authenticated {
		t.Errorf("phase = %v, want Authenticated", s.Phase())
	}
}
