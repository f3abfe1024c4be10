package rpcclient

import (
	"bufio"
	"net"
	"testing"

	"github.com/pns-project/pns/internal/wire"
)

// fakeTracker accepts a single connection, parses the request header, and
// replies with a fixed status/body pair chosen by the test.
func fakeTracker(t *testing.T, status string, body string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		if _, err := wire.ReadHeader(r); err != nil {
			return
		}
		conn.Write([]byte(wire.BuildReply(status)))
		if body != "" {
			conn.Write([]byte(body))
		}
	}()

	return ln.Addr().String()
}

func TestLnSucceedsOn200(t *testing.T) {
	addr := fakeTracker(t, wire.StatusOK, "")
	c := New(addr, "H1", "secret")
	if err := c.Ln("//H1:9001/a.txt", "/x", 3); err != nil {
		t.Fatalf("Ln() failed: %v", err)
	}
}

func TestLnFailsOnNon200(t *testing.T) {
	addr := fakeTracker(t, wire.StatusPathExists, "")
	c := New(addr, "H1", "secret")
	if err := c.Ln("//H1:9001/a.txt", "/x", 3); err == nil {
		t.Fatal("Ln() should fail on a non-200 reply")
	}
}

func TestLsReturnsBody(t *testing.T) {
	addr := fakeTracker(t, wire.StatusOK, `[{"name":"/x"}]`)
	c := New(addr, "H1", "secret")
	data, err := c.Ls("/")
	if err != nil {
		t.Fatalf("Ls() failed: %v", err)
	}
	if string(data) != `[{"name":"/x"}]` {
		t.Errorf("body = %q, want the fixed JSON body", data)
	}
}

func TestHeartbeatReturnsRoster(t *testing.T) {
	addr := fakeTracker(t, wire.StatusOK, `[{"name":"H1","addr":"127.0.0.1:9001"}]`)
	c := New(addr, "H1", "secret")
	data, err := c.Heartbeat()
	if err != nil {
		t.Fatalf("Heartbeat() failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("Heartbeat() returned an empty body")
	}
}

func TestRmFailsOnNotFound(t *testing.T) {
	addr := fakeTracker(t, wire.StatusPathNotFound, "")
	c := New(addr, "H1", "secret")
	if err := c.Rm("/missing"); err == nil {
		t.Fatal("Rm() should fail on 404")
	}
}
