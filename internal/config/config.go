// Package config assembles the client's configuration: programmatic
// defaults, overridden by an optional JSON file, overridden in turn by
// command-line flags. It follows the lineage's own Load/override/
// LogConfig shape, adapted from text-format protobuf to JSON because the
// external interface contract here mandates a JSON config file.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"blitiri.com.ar/go/log"
)

// DefaultPath is the JSON config file read from the working directory
// when the caller does not name one explicitly.
const DefaultPath = "mikromail.config.json"

const (
	defaultTimeoutMs  = 10000
	defaultMaxRetries = 3
	defaultRetryDelay = 1000
	defaultSecurePort = 465
	defaultPlainPort  = 587
)

// Config is the resolved client configuration. All fields are JSON-tagged
// so the same struct doubles as the file format and as the in-memory
// merge target.
type Config struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	User               string `json:"user"`
	Password           string `json:"password"`
	Secure             bool   `json:"secure"`
	TimeoutMs          int    `json:"timeout_ms"`
	ClientName         string `json:"client_name"`
	MaxRetries         int    `json:"max_retries"`
	RetryDelayMs       int    `json:"retry_delay_ms"`
	SkipAuthentication bool   `json:"skip_authentication"`
	Debug              bool   `json:"debug"`

	// portSet/timeoutSet etc. are not needed: zero values double as
	// "unset" for every field here, since a real port, timeout, retry
	// count, or delay of zero would not make sense; see override.
}

// defaultConfig returns a fresh Config carrying the programmatic defaults.
// Port is deliberately left at 0 here: it depends on Secure, which may
// still change via the file or CLI layers, so it is resolved once in
// Validate instead.
func defaultConfig() *Config {
	return &Config{
		TimeoutMs:    defaultTimeoutMs,
		MaxRetries:   defaultMaxRetries,
		RetryDelayMs: defaultRetryDelay,
	}
}

// Load builds the configuration starting from programmatic defaults, then
// applies the JSON file at path if it exists. A missing file is not an
// error; a malformed file is logged and ignored, per the external
// interface contract.
func Load(path string) *Config {
	c := defaultConfig()

	buf, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Infof("config: could not read %q: %v", path, err)
		}
		return c
	}

	fromFile := &Config{}
	if err := json.Unmarshal(buf, fromFile); err != nil {
		log.Infof("config: ignoring malformed JSON in %q: %v", path, err)
		return c
	}

	Override(c, fromFile)
	return c
}

// Override copies every field o actually sets (non-zero-valued) onto c.
// Booleans are the one exception: since "false" is indistinguishable from
// "unset" for a bare bool, a false in o never clears a true already in c --
// the CLI and file layers can only turn these booleans on, never off. This
// mirrors the lineage's own override(), which has the same one-directional
// behavior for its boolean fields.
func Override(c, o *Config) {
	if o.Host != "" {
		c.Host = o.Host
	}
	if o.Port != 0 {
		c.Port = o.Port
	}
	if o.User != "" {
		c.User = o.User
	}
	if o.Password != "" {
		c.Password = o.Password
	}
	if o.Secure {
		c.Secure = true
	}
	if o.TimeoutMs != 0 {
		c.TimeoutMs = o.TimeoutMs
	}
	if o.ClientName != "" {
		c.ClientName = o.ClientName
	}
	if o.MaxRetries != 0 {
		c.MaxRetries = o.MaxRetries
	}
	if o.RetryDelayMs != 0 {
		c.RetryDelayMs = o.RetryDelayMs
	}
	if o.SkipAuthentication {
		c.SkipAuthentication = true
	}
	if o.Debug {
		c.Debug = true
	}
}

// Validate resolves the remaining defaults that depend on other fields
// (Port depends on Secure; ClientName defaults to the machine's hostname)
// and rejects a configuration with no host.
func Validate(c *Config) error {
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}

	if c.Port == 0 {
		if c.Secure {
			c.Port = defaultSecurePort
		} else {
			c.Port = defaultPlainPort
		}
	}

	if c.ClientName == "" {
		name, err := os.Hostname()
		if err != nil {
			name = "localhost"
		}
		c.ClientName = name
	}

	return nil
}

// LogConfig logs the resolved configuration, redacting the password.
func LogConfig(c *Config) {
	log.Infof("Configuration:")
	log.Infof("  Host: %s:%d (secure=%v)", c.Host, c.Port, c.Secure)
	log.Infof("  User: %q", c.User)
	log.Infof("  Client name: %q", c.ClientName)
	log.Infof("  Timeout: %d ms", c.TimeoutMs)
	log.Infof("  Max retries: %d (delay %d ms)", c.MaxRetries, c.RetryDelayMs)
	log.Infof("  Skip authentication: %v", c.SkipAuthentication)
	log.Infof("  Debug: %v", c.Debug)
}
