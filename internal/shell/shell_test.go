package shell

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/pns-project/pns/internal/config"
	"github.com/pns-project/pns/internal/logging"
	"github.com/pns-project/pns/internal/membership"
	"github.com/pns-project/pns/internal/server"
	"github.com/pns-project/pns/internal/store"
)

// startTracker wires and serves a tracker *server.Context on an ephemeral
// loopback port, returning its address.
func startTracker(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "pns.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{Name: "T", Root: t.TempDir(), Secret: "secret", IP: "127.0.0.1", IsTracker: true}
	ctx := &server.Context{Config: cfg, Store: st, Membership: membership.New(st, nil), Log: logging.New("T")}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	go server.Serve(ctx, ln)
	return ln.Addr().String()
}

// startDaemon wires and serves a non-tracker *server.Context rooted at a
// fresh temp dir, returning its config (so the test can build a shell
// Client against it) and its root directory.
func startDaemon(t *testing.T, name, trackerAddr string) (*config.Config, string) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{Name: name, Root: root, Secret: "secret", IP: "127.0.0.1", TrackerIP: "127.0.0.1"}
	ctx := &server.Context{Config: cfg, Log: logging.New(name)}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	_, portStr, _ := net.SplitHostPort(trackerAddr)
	cfg.TrackerPort = portStr

	go server.Serve(ctx, ln)
	return cfg, root
}

func TestLnMdLsRmRoundTrip(t *testing.T) {
	trackerAddr := startTracker(t)
	daemonCfg, root := startDaemon(t, "H1", trackerAddr)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	c := New(daemonCfg, logging.New("H1"))

	if err := c.Md("/docs"); err != nil {
		t.Fatalf("Md() failed: %v", err)
	}
	if err := c.Ln(filepath.Join(root, "a.txt"), "/docs/a.txt"); err != nil {
		t.Fatalf("Ln() failed: %v", err)
	}

	data, err := c.Ls("/docs")
	if err != nil {
		t.Fatalf("Ls() failed: %v", err)
	}
	if len(data) == 0 || string(data) == "[]" {
		t.Fatalf("Ls(/docs) = %q, want a non-empty listing", data)
	}

	if err := c.Rm("/docs/a.txt"); err != nil {
		t.Fatalf("Rm() failed: %v", err)
	}
	if _, err := c.Ls("/docs/a.txt"); err == nil {
		t.Fatal("Ls() on a removed path should fail")
	}
}

func TestCpLocalCopiesWithinOneHost(t *testing.T) {
	trackerAddr := startTracker(t)
	daemonCfg, root := startDaemon(t, "H1", trackerAddr)

	srcPath := filepath.Join(root, "src.txt")
	if err := os.WriteFile(srcPath, []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	dstPath := filepath.Join(root, "dst.txt")

	c := New(daemonCfg, logging.New("H1"))
	if err := c.Cp(srcPath, dstPath, false); err != nil {
		t.Fatalf("Cp() failed: %v", err)
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("dst contents = %q, want %q", got, "payload")
	}
	if _, err := os.Stat(srcPath); err != nil {
		t.Error("src should survive a plain copy")
	}
}

func TestCpMovesAcrossHosts(t *testing.T) {
	trackerAddr := startTracker(t)
	h1Cfg, h1Root := startDaemon(t, "H1", trackerAddr)
	h2Cfg, h2Root := startDaemon(t, "H2", trackerAddr)

	srcPath := filepath.Join(h1Root, "payload.bin")
	if err := os.WriteFile(srcPath, []byte("across hosts"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	h1Shell := New(h1Cfg, logging.New("H1"))
	if err := h1Shell.Ln(srcPath, "/payload.bin"); err != nil {
		t.Fatalf("Ln() failed: %v", err)
	}

	dstPath := filepath.Join(h2Root, "payload.bin")
	h2Shell := New(h2Cfg, logging.New("H2"))
	if err := h2Shell.Cp("/payload.bin", dstPath, true); err != nil {
		t.Fatalf("Cp() (receive side, move) failed: %v", err)
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("ReadFile() on H2 failed: %v", err)
	}
	if string(got) != "across hosts" {
		t.Errorf("dst contents = %q, want %q", got, "across hosts")
	}
	if _, err := os.Stat(srcPath); !os.IsNotExist(err) {
		t.Error("src on H1 should have been removed by the move")
	}

	if _, err := h1Shell.Ls("/payload.bin"); err == nil {
		t.Error("tracker should no longer list /payload.bin after the cross-host move")
	}
}
