package transport

import (
	"bufio"
	"crypto/tls"
	"net"
	"strconv"
	"testing"
	"time"

	"mikromail/internal/testlib"
)

func TestConnectPlain(t *testing.T) {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.Write([]byte("220 hello\r\n"))
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	conn, err := ConnectPlain(host, port, 2*time.Second)
	if err != nil {
		t.Fatalf("ConnectPlain: %v", err)
	}
	defer conn.Close()

	if conn.Secure() {
		t.Error("plain connection reports Secure() = true")
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "220 hello\r\n" {
		t.Errorf("got %q", line)
	}
}

func TestUpgradeToTLS(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	tlsConfig, err := testlib.GenerateCert(dir)
	if err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}
	cert, err := tls.LoadX509KeyPair(dir+"/cert.pem", dir+"/key.pem")
	if err != nil {
		t.Fatalf("LoadX509KeyPair: %v", err)
	}
	srvConfig := &tls.Config{Certificates: []tls.Certificate{cert}}

	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer c.Close()
		tsrv := tls.Server(c, srvConfig)
		done <- tsrv.Handshake()
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	conn, err := ConnectPlain(host, port, 2*time.Second)
	if err != nil {
		t.Fatalf("ConnectPlain: %v", err)
	}
	defer conn.Close()

	conn.serverName = "localhost"
	SetTestRootCAs(tlsConfig.RootCAs)
	defer SetTestRootCAs(nil)

	if err := conn.UpgradeToTLS(2 * time.Second); err != nil {
		t.Fatalf("UpgradeToTLS: %v", err)
	}
	if !conn.Secure() {
		t.Error("after UpgradeToTLS, Secure() = false")
	}
	if summary := conn.TLSSummary(); summary == "" {
		t.Error("TLSSummary() is empty after upgrade")
	}

	if err := <-done; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}
