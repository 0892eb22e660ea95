// Package smtp implements the client side of RFC 5321: a line-framed
// command/response dialogue, EHLO capability parsing, the STARTTLS
// upgrade, and the envelope/DATA command sequence. Authentication method
// selection and encoding live in internal/auth; this package only drives
// the exchange.
package smtp

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mikromail/internal/auth"
	"mikromail/internal/set"
	"mikromail/internal/trace"
	"mikromail/internal/transport"
)

// Phase is a point in the session state machine.
type Phase int

const (
	Disconnected Phase = iota
	Greeted
	Ehloed
	Secured
	Authenticated
	MailIssued
	RcptIssued
	DataOpen
	Closed
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "Disconnected"
	case Greeted:
		return "Greeted"
	case Ehloed:
		return "Ehloed"
	case Secured:
		return "Secured"
	case Authenticated:
		return "Authenticated"
	case MailIssued:
		return "MailIssued"
	case RcptIssued:
		return "RcptIssued"
	case DataOpen:
		return "DataOpen"
	case Closed:
		return "Closed"
	}
	return "Unknown"
}

// ResponseError carries a full SMTP server response whose code did not
// match what the caller expected.
type ResponseError struct {
	Code int
	Text string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Text)
}

// IsPermanent classifies err as a permanent (non-retryable) SMTP failure:
// a response beginning with a 5xx code, a response whose text contains the
// literal substring "5.", or the substring "Authentication failed".
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "Authentication failed") {
		return true
	}
	if strings.Contains(msg, "5.") {
		return true
	}
	var re *ResponseError
	if errors.As(err, &re) && re.Code >= 500 && re.Code < 600 {
		return true
	}
	return false
}

const credentialsHidden = "[Credentials hidden]"

// Session drives one SMTP dialogue over a transport.Conn. It is single-use:
// construct with Connect, step through Handshake/Authenticate/MailFrom/
// RcptTo/Data, then Quit/Close.
type Session struct {
	conn         *transport.Conn
	r            *bufio.Reader
	phase        Phase
	capabilities *set.String
	authLine     string
	timeout      time.Duration
	debug        bool
	tr           *trace.Trace
}

// Connect dials host:port -- implicit TLS if secure is true, plain
// otherwise -- and reads the server greeting, bounded by timeout.
func Connect(host string, port int, secure bool, timeout time.Duration, tr *trace.Trace, debug bool) (*Session, error) {
	var conn *transport.Conn
	var err error
	if secure {
		conn, err = transport.ConnectTLS(host, port, timeout)
	} else {
		conn, err = transport.ConnectPlain(host, port, timeout)
	}
	if err != nil {
		return nil, err
	}

	s := &Session{
		conn:         conn,
		r:            bufio.NewReader(conn),
		phase:        Disconnected,
		capabilities: set.NewString(),
		timeout:      timeout,
		debug:        debug,
		tr:           tr,
	}
	if secure && debug && tr != nil {
		tr.Debugf("TLS established: %s", conn.TLSSummary())
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, err
	}
	code, text, err := s.readResponse()
	if err != nil {
		s.conn.Close()
		return nil, fmt.Errorf("reading greeting: %w", err)
	}
	if code != 220 {
		s.conn.Close()
		return nil, &ResponseError{Code: code, Text: text}
	}
	s.phase = Greeted
	return s, nil
}

// Phase returns the session's current state.
func (s *Session) Phase() Phase {
	return s.phase
}

// Capabilities returns the set of uppercase capability tokens parsed from
// the most recent EHLO response.
func (s *Session) Capabilities() *set.String {
	return s.capabilities
}

// Secure reports whether the underlying connection is currently encrypted.
func (s *Session) Secure() bool {
	return s.conn.Secure()
}

// Close destroys the underlying socket without sending QUIT. It is safe to
// call multiple times.
func (s *Session) Close() error {
	s.phase = Closed
	return s.conn.Close()
}

// Handshake issues EHLO, parses capabilities, and -- if the connection is
// not already secure and the server advertises STARTTLS -- upgrades to TLS
// and re-issues EHLO, per RFC 3207.
func (s *Session) Handshake(clientName string) error {
	if err := s.ehlo(clientName); err != nil {
		return err
	}

	if !s.conn.Secure() && s.capabilities.Has("STARTTLS") {
		if _, err := s.sendCommand("STARTTLS", 220, false); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
		if err := s.conn.UpgradeToTLS(s.timeout); err != nil {
			return fmt.Errorf("certificate/TLS upgrade failed: %w", err)
		}
		if s.debug && s.tr != nil {
			s.tr.Debugf("TLS established: %s", s.conn.TLSSummary())
		}
		if err := s.ehlo(clientName); err != nil {
			return err
		}
		s.phase = Secured
	} else {
		s.phase = Ehloed
	}
	return nil
}

func (s *Session) ehlo(clientName string) error {
	_, text, err := s.sendCommand("EHLO "+clientName, 250, false)
	if err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}
	s.parseCapabilities(text)
	return nil
}

// parseCapabilities splits the response into lines, skips the first (the
// greeting/domain line), and for each remaining line takes the keyword up
// to its first space as an uppercase capability token; a line whose
// keyword is AUTH additionally keeps its remainder verbatim so the
// authenticator can enumerate methods.
func (s *Session) parseCapabilities(text string) {
	s.capabilities = set.NewString()
	lines := strings.Split(text, "\n")
	if len(lines) <= 1 {
		return
	}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		keyword := line
		rest := ""
		if i := strings.IndexByte(line, ' '); i >= 0 {
			keyword = line[:i]
			rest = line[i+1:]
		}
		keyword = strings.ToUpper(keyword)
		s.capabilities.Add(keyword)
		if keyword == "AUTH" {
			s.authLine = rest
		}
	}
}

// Authenticate runs the SASL exchange, selecting the strongest mechanism
// the server advertised in its AUTH capability line.
func (s *Session) Authenticate(user, password string) error {
	method := auth.Select(s.authLine)
	if s.debug && s.tr != nil {
		s.tr.Debugf("authenticating with %s", method)
	}

	var err error
	switch method {
	case auth.CRAMMD5:
		err = s.authCRAMMD5(user, password)
	case auth.Login:
		err = s.authLogin(user, password)
	default:
		err = s.authPlain(user, password)
	}
	if err != nil {
		return fmt.Errorf("Authentication failed: %w", err)
	}
	s.phase = Authenticated
	return nil
}

func (s *Session) authPlain(user, password string) error {
	cmd := "AUTH PLAIN " + auth.PlainResponse(user, password)
	_, _, err := s.sendCommand(cmd, 235, true)
	return err
}

func (s *Session) authLogin(user, password string) error {
	if _, _, err := s.sendCommand("AUTH LOGIN", 334, true); err != nil {
		return err
	}
	if _, _, err := s.sendCommand(auth.LoginUser(user), 334, true); err != nil {
		return err
	}
	_, _, err := s.sendCommand(auth.LoginPassword(password), 235, true)
	return err
}

func (s *Session) authCRAMMD5(user, password string) error {
	_, text, err := s.sendCommand("AUTH CRAM-MD5", 334, false)
	if err != nil {
		return err
	}
	challenge := strings.TrimSpace(text)
	resp, err := auth.CRAMMD5Response(user, password, challenge)
	if err != nil {
		return err
	}
	_, _, err = s.sendCommand(resp, 235, true)
	return err
}

// MailFrom issues MAIL FROM:<from>.
func (s *Session) MailFrom(from string) error {
	if _, _, err := s.sendCommand(fmt.Sprintf("MAIL FROM:<%s>", from), 250, false); err != nil {
		return err
	}
	s.phase = MailIssued
	return nil
}

// RcptTo issues RCPT TO:<addr>.
func (s *Session) RcptTo(addr string) error {
	if _, _, err := s.sendCommand(fmt.Sprintf("RCPT TO:<%s>", addr), 250, false); err != nil {
		return err
	}
	s.phase = RcptIssued
	return nil
}

// Data issues DATA, streams body (which must already end without a bare
// dot-line ambiguity) followed by the terminating CRLF.CRLF, and returns
// the server's final response text.
func (s *Session) Data(body []byte) (string, error) {
	if _, _, err := s.sendCommand("DATA", 354, false); err != nil {
		return "", err
	}
	s.phase = DataOpen

	if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return "", err
	}
	if _, err := s.conn.Write(body); err != nil {
		return "", fmt.Errorf("writing DATA body: %w", err)
	}
	if _, err := s.conn.Write([]byte("\r\n.\r\n")); err != nil {
		return "", fmt.Errorf("writing DATA terminator: %w", err)
	}

	code, text, err := s.readResponse()
	if err != nil {
		return "", err
	}
	if code != 250 {
		return "", &ResponseError{Code: code, Text: text}
	}
	s.phase = Authenticated
	return text, nil
}

// Reset issues RSET, best-effort: errors are returned but the caller is
// expected to ignore them, per the orchestrator's retry policy.
func (s *Session) Reset() error {
	_, _, err := s.sendCommand("RSET", 250, false)
	return err
}

// Quit issues QUIT and closes the connection regardless of the response.
func (s *Session) Quit() error {
	_, _, err := s.sendCommand("QUIT", 221, false)
	s.Close()
	return err
}

// sendCommand writes cmd terminated by CRLF, reads the response, and
// returns an error if its code does not equal expectedCode. When redact is
// set, the debug trace substitutes credentialsHidden for cmd -- used for
// AUTH PLAIN, AUTH LOGIN and its username/password exchange, and the
// CRAM-MD5 response.
func (s *Session) sendCommand(cmd string, expectedCode int, redact bool) (int, string, error) {
	logged := cmd
	if redact {
		logged = credentialsHidden
	}
	if s.debug && s.tr != nil {
		s.tr.Debugf("-> %s", logged)
	}

	if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return 0, "", err
	}
	if _, err := s.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return 0, "", fmt.Errorf("writing command: %w", err)
	}

	code, text, err := s.readResponse()
	if err != nil {
		return 0, "", err
	}
	if s.debug && s.tr != nil {
		s.tr.Debugf("<- %d %s", code, text)
	}
	if code != expectedCode {
		return code, text, &ResponseError{Code: code, Text: text}
	}
	return code, text, nil
}

// readResponse reads lines until one has a space (not '-') as its fourth
// character, per the ^\d{3}[ ] terminator rule.
func (s *Session) readResponse() (int, string, error) {
	var lines []string
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return 0, "", fmt.Errorf("reading response: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 4 {
			return 0, "", fmt.Errorf("malformed response line: %q", line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return 0, "", fmt.Errorf("malformed response code: %q", line)
		}
		sep := line[3]
		lines = append(lines, line[4:])
		if sep == ' ' {
			return code, strings.Join(lines, "\n"), nil
		}
		if sep != '-' {
			return 0, "", fmt.Errorf("malformed response separator: %q", line)
		}
	}
}
