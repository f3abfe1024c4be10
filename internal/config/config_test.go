package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pns.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
name: T
root: /tmp/t
port: 9000
tracker: 127.0.0.1:9000
istracker: true
secret: s3cr3t
ip: 127.0.0.1
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if c.Addr() != "127.0.0.1:9000" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9000", c.Addr())
	}
	if c.TrackerAddr() != "127.0.0.1:9000" {
		t.Errorf("TrackerAddr() = %q, want 127.0.0.1:9000", c.TrackerAddr())
	}
	if !c.IsTracker {
		t.Error("IsTracker = false, want true")
	}
}

func TestLoadTrimsTrailingRootSlash(t *testing.T) {
	path := writeConfig(t, `
name: H1
root: /tmp/h1/
port: 9001
tracker: 127.0.0.1:9000
secret: s
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if c.Root != "/tmp/h1" {
		t.Errorf("Root = %q, want /tmp/h1 (trailing slash trimmed)", c.Root)
	}
	if c.IP != "127.0.0.1" {
		t.Errorf("IP = %q, want default 127.0.0.1", c.IP)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `
root: /tmp/h1
port: 9001
tracker: 127.0.0.1:9000
secret: s
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should fail without a name")
	}
}

func TestIsThisHostMatchesByNameOrIP(t *testing.T) {
	c := &Config{Name: "H1", IP: "127.0.0.1"}
	if !c.IsThisHost("H1") {
		t.Error("IsThisHost(H1) = false, want true")
	}
	if !c.IsThisHost("127.0.0.1:9001") {
		t.Error("IsThisHost(127.0.0.1:9001) = false, want true (IP-only match)")
	}
	if c.IsThisHost("H2") {
		t.Error("IsThisHost(H2) = true, want false")
	}
	if c.IsThisHost("10.0.0.5:9001") {
		t.Error("IsThisHost(10.0.0.5:9001) = true, want false")
	}
}
