// mikromail-send is a command-line facade over the mikromail package: it
// assembles a ClientConfiguration from defaults, an optional JSON config
// file, and command-line flags, builds a message from flags, and sends it.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"mikromail"
	"mikromail/internal/config"
)

const usage = `
Usage:
  mikromail-send [options]

Options:
  --host <v>          submission server host
  --user <v>          authentication username
  --password <v>      authentication password (prompted if omitted on a terminal)
  --port <int>        submission server port
  --secure            connect with implicit TLS
  --debug             log the full SMTP dialogue, with credentials redacted
  --retries <int>     max retry attempts for transient failures
  --config <path>     JSON config file (default mikromail.config.json)

  --from <v>          From address (defaults to --user)
  --to <v>             recipient address (repeatable)
  --cc <v>             Cc address (repeatable)
  --bcc <v>            Bcc address (repeatable)
  --subject <v>       message subject
  --text <v>          plain text body
  --html <v>          HTML body
`

// parseArgs tolerantly splits os.Args[1:] into flag/value pairs: a flag
// with no following token, or whose value fails the expected type, is
// silently dropped rather than failing the whole parse. Repeatable flags
// (--to, --cc, --bcc) accumulate into a slice; every other flag keeps only
// its last occurrence.
type parsedArgs struct {
	single map[string]string
	multi  map[string][]string
	bools  map[string]bool
}

var boolFlags = map[string]bool{
	"--secure": true,
	"--debug":  true,
}

var repeatableFlags = map[string]bool{
	"--to":  true,
	"--cc":  true,
	"--bcc": true,
}

func parseArgs(args []string) *parsedArgs {
	p := &parsedArgs{
		single: map[string]string{},
		multi:  map[string][]string{},
		bools:  map[string]bool{},
	}

	i := 0
	for i < len(args) {
		a := args[i]
		if !strings.HasPrefix(a, "--") {
			i++
			continue
		}
		if boolFlags[a] {
			p.bools[a] = true
			i++
			continue
		}
		if i+1 >= len(args) {
			// A flag expecting a value with no following token: ignored.
			i++
			continue
		}
		val := args[i+1]
		if repeatableFlags[a] {
			p.multi[a] = append(p.multi[a], val)
		} else {
			p.single[a] = val
		}
		i += 2
	}
	return p
}

func (p *parsedArgs) int(name string) (int, bool) {
	v, ok := p.single[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		// A numeric flag with a non-numeric value: ignored.
		return 0, false
	}
	return n, true
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--help" {
		fmt.Print(usage)
		return
	}

	args := parseArgs(os.Args[1:])

	configPath := config.DefaultPath
	if p, ok := args.single["--config"]; ok {
		configPath = p
	}

	c := config.Load(configPath)

	override := &config.Config{
		Host:     args.single["--host"],
		User:     args.single["--user"],
		Password: args.single["--password"],
		Secure:   args.bools["--secure"],
		Debug:    args.bools["--debug"],
	}
	if port, ok := args.int("--port"); ok {
		override.Port = port
	}
	if retries, ok := args.int("--retries"); ok {
		override.MaxRetries = retries
	}
	config.Override(c, override)

	if c.Password == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Password: ")
		pw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading password: %v\n", err)
			os.Exit(1)
		}
		c.Password = string(pw)
	}

	if err := config.Validate(c); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if c.Debug {
		config.LogConfig(c)
	}

	msg := mikromail.MessageDescription{
		From:    args.single["--from"],
		To:      args.multi["--to"],
		Cc:      args.multi["--cc"],
		Bcc:     args.multi["--bcc"],
		Subject: args.single["--subject"],
		Text:    args.single["--text"],
		HTML:    args.single["--html"],
	}

	client := mikromail.New(mikromail.Config{
		Host:               c.Host,
		Port:               c.Port,
		User:               c.User,
		Password:           c.Password,
		Secure:             c.Secure,
		TimeoutMs:          c.TimeoutMs,
		ClientName:         c.ClientName,
		MaxRetries:         c.MaxRetries,
		RetryDelayMs:       c.RetryDelayMs,
		SkipAuthentication: c.SkipAuthentication,
		Debug:              c.Debug,
	})

	result := client.Send(msg)
	if !result.Success {
		fmt.Fprintf(os.Stderr, "send failed: %s\n", result.ErrorText)
		os.Exit(1)
	}
	fmt.Printf("message_id: %s\n", result.MessageID)
}
