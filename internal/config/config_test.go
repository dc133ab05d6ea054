package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	path := writeTemp(t, `
# comment line
PROXY_TARGET_IP = 10.10.100.253

LISTEN_PORT=1502
TID_REWRITE=0
LOG_HEXDUMP=1
LOG_MAX_BYTES=1048576
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProxyTargetIP != "10.10.100.253" {
		t.Errorf("ProxyTargetIP = %q", cfg.ProxyTargetIP)
	}
	if cfg.ListenPort != 1502 {
		t.Errorf("ListenPort = %d, want 1502", cfg.ListenPort)
	}
	if cfg.TIDRewrite {
		t.Errorf("TIDRewrite = true, want false")
	}
	if !cfg.LogHexdump {
		t.Errorf("LogHexdump = false, want true")
	}
	if cfg.LogMaxBytes != 1048576 {
		t.Errorf("LogMaxBytes = %d", cfg.LogMaxBytes)
	}
	// Defaults retained for keys not present in the file.
	if cfg.ListenIP != "0.0.0.0" {
		t.Errorf("ListenIP = %q, want default", cfg.ListenIP)
	}
	if cfg.SockTimeoutS != 30 {
		t.Errorf("SockTimeoutS = %d, want default 30", cfg.SockTimeoutS)
	}
}

func TestLoadRequiresTarget(t *testing.T) {
	path := writeTemp(t, `LISTEN_PORT=502`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for missing PROXY_TARGET_IP")
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeTemp(t, "PROXY_TARGET_IP=1.2.3.4\nFROBNICATE=1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for unknown key")
	}
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := writeTemp(t, "PROXY_TARGET_IP\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for line with no '='")
	}
}
