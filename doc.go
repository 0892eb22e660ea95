// Package mikromail implements an outbound SMTP mail-submission client:
// it accepts a structured message description and delivers it to a
// configured submission server, negotiating encryption and authentication
// and retrying transient failures.
//
// A Client is single-use: construct it with New, call Send at most once,
// and let Send close the underlying connection. See cmd/mikromail-send for
// a command-line facade built on this package.
package mikromail
