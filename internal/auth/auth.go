// Package auth implements the client side of the SASL mechanisms this
// client supports: CRAM-MD5, LOGIN, and PLAIN. Method selection follows
// RFC 4954; encoding follows RFC 4616 (PLAIN) and RFC 2195 (CRAM-MD5).
//
// This is the mirror image of a server-side SASL backend: where a server
// decodes a client's response and checks it against a credential store,
// here we *encode* the outgoing response from a known user/password pair.
package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Method identifies a supported SASL mechanism.
type Method string

const (
	CRAMMD5 Method = "CRAM-MD5"
	Login   Method = "LOGIN"
	Plain   Method = "PLAIN"
)

// preferenceOrder is the strongest-first preference used to pick a method
// out of the server's advertised AUTH line.
var preferenceOrder = []Method{CRAMMD5, Login, Plain}

// Select picks the strongest mechanism the server advertised in its EHLO
// "AUTH ..." line. authLine is the capability value as parsed by the
// protocol engine (space-separated mechanism names, without the "AUTH "
// prefix); an empty authLine (no AUTH capability at all) defaults to
// PLAIN, same as if the server had advertised it.
func Select(authLine string) Method {
	advertised := map[Method]bool{}
	for _, tok := range splitFields(authLine) {
		advertised[Method(tok)] = true
	}

	for _, m := range preferenceOrder {
		if advertised[m] {
			return m
		}
	}
	return Plain
}

func splitFields(s string) []string {
	var fields []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ' ' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			fields = append(fields, s[start:i])
			start = -1
		}
	}
	return fields
}

// PlainResponse builds the base64 payload for "AUTH PLAIN <response>":
// base64(NUL user NUL password), per RFC 4616 §2.
func PlainResponse(user, password string) string {
	raw := "\x00" + user + "\x00" + password
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// LoginUser and LoginPassword build the two base64 payloads the LOGIN
// mechanism sends in response to its "Username:"/"Password:" prompts.
func LoginUser(user string) string {
	return base64.StdEncoding.EncodeToString([]byte(user))
}

func LoginPassword(password string) string {
	return base64.StdEncoding.EncodeToString([]byte(password))
}

// CRAMMD5Response computes the CRAM-MD5 response to a base64-encoded
// server challenge: base64("<user> <hex HMAC-MD5(password, challenge)>"),
// per RFC 2195.
func CRAMMD5Response(user, password, challengeB64 string) (string, error) {
	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil {
		return "", fmt.Errorf("decoding CRAM-MD5 challenge: %w", err)
	}

	mac := hmac.New(md5.New, []byte(password))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))

	return base64.StdEncoding.EncodeToString([]byte(user + " " + digest)), nil
}
