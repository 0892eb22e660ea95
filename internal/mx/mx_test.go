package mx

import (
	"net"
	"testing"

	"mikromail/internal/trace"
)

func TestCheckNoRecordsDoesNotPanic(t *testing.T) {
	orig := lookupMX
	lookupMX = func(name string) ([]*net.MX, error) {
		return nil, nil
	}
	defer func() { lookupMX = orig }()

	tr := trace.New("test", "TestCheckNoRecordsDoesNotPanic")
	defer tr.Finish()
	Check(tr, "example.com")
}

func TestCheckWithRecords(t *testing.T) {
	orig := lookupMX
	lookupMX = func(name string) ([]*net.MX, error) {
		return []*net.MX{{Host: "mail.example.com.", Pref: 10}}, nil
	}
	defer func() { lookupMX = orig }()

	tr := trace.New("test", "TestCheckWithRecords")
	defer tr.Finish()
	Check(tr, "example.com")
}
