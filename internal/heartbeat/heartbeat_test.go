package heartbeat

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pns-project/pns/internal/logging"
	"github.com/pns-project/pns/internal/rpcclient"
	"github.com/pns-project/pns/internal/wire"
)

// countingTracker accepts heartbeats in a loop, replying 200 with an empty
// roster to each, and reports how many it has handled.
func countingTracker(t *testing.T) (addr string, count *int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	count = new(int32)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				if _, err := wire.ReadHeader(r); err != nil {
					return
				}
				conn.Write([]byte(wire.BuildReply(wire.StatusOK)))
				conn.Write([]byte("[]"))
				atomic.AddInt32(count, 1)
			}()
		}
	}()
	return ln.Addr().String(), count
}

func TestRunSendsRepeatedHeartbeats(t *testing.T) {
	addr, count := countingTracker(t)
	client := rpcclient.New(addr, "H1", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), SendInterval*3+500*time.Millisecond)
	defer cancel()

	Run(ctx, client, logging.New("H1"))

	if got := atomic.LoadInt32(count); got < 2 {
		t.Errorf("tracker saw %d heartbeats, want at least 2 over %v", got, SendInterval*3)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	addr, _ := countingTracker(t)
	client := rpcclient.New(addr, "H1", "secret")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		Run(ctx, client, logging.New("H1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return promptly after context cancellation")
	}
}
