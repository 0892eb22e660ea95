package mikromail

import (
	"fmt"
	"strings"
	"time"

	"mikromail/internal/address"
	"mikromail/internal/compose"
	"mikromail/internal/mx"
	"mikromail/internal/smtp"
	"mikromail/internal/trace"
)

// Config is the resolved, immutable-after-construction client
// configuration. Assembling one from defaults, a JSON file, and
// command-line overrides is internal/config's job; this package only
// consumes the result.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Secure   bool

	TimeoutMs    int
	ClientName   string
	MaxRetries   int
	RetryDelayMs int

	SkipAuthentication bool
	Debug              bool
}

// Header is one user-supplied extra header; order is preserved into the
// composed message.
type Header struct {
	Name  string
	Value string
}

// MessageDescription is the message a Client sends.
type MessageDescription struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
	Headers []Header
}

// SendResult is the single outcome Send ever returns; a send never panics
// and never returns a Go error directly -- failures are reported here.
type SendResult struct {
	Success   bool
	MessageID string
	Message   string
	ErrorText string
}

// Client drives one outbound delivery. It is single-use: call Send at
// most once.
type Client struct {
	cfg Config
}

// New constructs a Client from a resolved configuration.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

func failure(format string, a ...interface{}) SendResult {
	return SendResult{ErrorText: fmt.Sprintf(format, a...)}
}

// Send validates msg, connects to the configured server, and drives one
// full delivery attempt, retrying transient failures up to MaxRetries
// times with RetryDelayMs between attempts. It always returns a
// SendResult and never leaves a connection open.
func (c *Client) Send(msg MessageDescription) SendResult {
	from := msg.From
	if from == "" {
		from = c.cfg.User
	}
	if !address.Valid(from) {
		return failure("invalid from address %q", from)
	}
	if len(msg.To) == 0 {
		return failure("at least one recipient is required")
	}
	for _, to := range msg.To {
		if !address.Valid(to) {
			return failure("invalid to address %q", to)
		}
	}
	if msg.Text == "" && msg.HTML == "" {
		return failure("at least one of text or html is required")
	}

	validCc := filterValid(msg.Cc)
	validBcc := filterValid(msg.Bcc)
	replyTo := msg.ReplyTo
	if replyTo != "" && !address.Valid(replyTo) {
		replyTo = ""
	}

	body := compose.Message{
		From:    from,
		To:      msg.To,
		Cc:      validCc,
		ReplyTo: replyTo,
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
		Headers: toComposeHeaders(msg.Headers),
	}

	envelopeRcpts := append(append(append([]string{}, msg.To...), validCc...), validBcc...)

	blob, messageID, err := compose.Build(body, c.cfg.User, time.Now())
	if err != nil {
		return failure("%v", err)
	}

	tr := trace.New("mikromail.Send", strings.Join(msg.To, ","))
	defer tr.Finish()

	for _, domain := range uniqueDomains(envelopeRcpts) {
		mx.Check(tr, domain)
	}

	timeout := time.Duration(c.cfg.TimeoutMs) * time.Millisecond
	retryDelay := time.Duration(c.cfg.RetryDelayMs) * time.Millisecond

	var session *smtp.Session
	var lastErr error

	defer func() {
		if session != nil {
			session.Close()
		}
	}()

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			tr.Debugf("attempt %d: sleeping %s before retry", attempt, retryDelay)
			time.Sleep(retryDelay)
		}

		if session == nil {
			var err error
			session, err = smtp.Connect(c.cfg.Host, c.cfg.Port, c.cfg.Secure, timeout, tr, c.cfg.Debug)
			if err != nil {
				lastErr = err
				tr.Errorf("connect: %v", err)
				if isPermanent(err) {
					return failure("%v", err)
				}
				continue
			}
			if err := session.Handshake(c.cfg.ClientName); err != nil {
				lastErr = err
				session.Close()
				session = nil
				if isPermanent(err) {
					return failure("%v", err)
				}
				continue
			}
			if !c.cfg.SkipAuthentication {
				if err := session.Authenticate(c.cfg.User, c.cfg.Password); err != nil {
					return failure("%v", err)
				}
			}
		}

		serverText, sendErr := c.deliver(session, from, envelopeRcpts, blob)
		if sendErr == nil {
			session.Quit()
			session = nil
			return SendResult{Success: true, MessageID: messageID, Message: serverText}
		}

		lastErr = sendErr
		if isPermanent(sendErr) {
			return failure("%v", sendErr)
		}

		tr.Errorf("transient failure, will retry: %v", sendErr)
		session.Reset()
		session.Close()
		session = nil
	}

	return failure("exhausted retries: %v", lastErr)
}

// deliver drives the MAIL/RCPT/DATA sequence for one attempt over an
// already-handshaked session, returning the server's final response text
// on success.
func (c *Client) deliver(session *smtp.Session, from string, rcpts []string, blob []byte) (string, error) {
	if err := session.MailFrom(from); err != nil {
		return "", err
	}
	for _, rcpt := range rcpts {
		if err := session.RcptTo(rcpt); err != nil {
			return "", err
		}
	}

	return session.Data(blob)
}

// uniqueDomains returns the distinct domains among addrs, in first-seen
// order, for the best-effort MX check.
func uniqueDomains(addrs []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range addrs {
		d := address.Domain(a)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func filterValid(addrs []string) []string {
	var out []string
	for _, a := range addrs {
		if address.Valid(a) {
			out = append(out, a)
		}
	}
	return out
}

func toComposeHeaders(hs []Header) []compose.HeaderField {
	out := make([]compose.HeaderField, len(hs))
	for i, h := range hs {
		out[i] = compose.HeaderField{Name: h.Name, Value: h.Value}
	}
	return out
}

// isPermanent classifies err the way the orchestrator's error taxonomy
// requires: an SMTP protocol/authentication error per smtp.IsPermanent, or
// a TLS/certificate failure surfaced as plain text from the transport
// layer.
func isPermanent(err error) bool {
	if err == nil {
		return false
	}
	if smtp.IsPermanent(err) {
		return true
	}
	return strings.Contains(err.Error(), "certificate")
}
