package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// helper to write a tmp YAML file and return its path.
func writeTmpConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write tmp config: %v", err)
	}
	return p
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
capture:
  online:
    bpf: "udp port 5060"
  offline:
    limit: 1048576
  tls:
    server: "10.0.0.1:5061"
    keyfile: "/tmp/keys.log"
storage:
  memory:
    limit: 65536
  capture:
    dialogs: true
  match:
    expression: "INVITE.*sip:alice"
    invert: false
    complete: true
pause:
  mode: "drop-incoming"
log:
  level: "debug"
  json: true
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Capture.Online.BPF != "udp port 5060" {
		t.Errorf("Capture.Online.BPF = %q", cfg.Capture.Online.BPF)
	}
	if cfg.Capture.Offline.Limit != 1048576 {
		t.Errorf("Capture.Offline.Limit = %d", cfg.Capture.Offline.Limit)
	}
	if cfg.Capture.TLS.Keyfile != "/tmp/keys.log" {
		t.Errorf("Capture.TLS.Keyfile = %q", cfg.Capture.TLS.Keyfile)
	}
	if cfg.Storage.Memory.Limit != 65536 {
		t.Errorf("Storage.Memory.Limit = %d", cfg.Storage.Memory.Limit)
	}
	if !cfg.Storage.Capture.Dialogs {
		t.Error("Storage.Capture.Dialogs = false, want true")
	}
	if cfg.Storage.Match.Expression != "INVITE.*sip:alice" {
		t.Errorf("Storage.Match.Expression = %q", cfg.Storage.Match.Expression)
	}
	if !cfg.Storage.Match.Complete {
		t.Error("Storage.Match.Complete = false, want true")
	}
	if cfg.Pause.Mode != "drop-incoming" {
		t.Errorf("Pause.Mode = %q, want drop-incoming", cfg.Pause.Mode)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
capture:
  online:
    bpf: ""
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pause.Mode != "status-only" {
		t.Errorf("Pause.Mode = %q, want status-only", cfg.Pause.Mode)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Storage.Memory.Limit != 0 {
		t.Errorf("Storage.Memory.Limit = %d, want 0", cfg.Storage.Memory.Limit)
	}
}

func TestLoadInvalidPauseMode(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
pause:
  mode: "sometimes"
`))
	if err == nil {
		t.Fatal("expected error for invalid pause.mode")
	}
	if !strings.Contains(err.Error(), "pause.mode") {
		t.Errorf("error = %v, want mention of pause.mode", err)
	}
}

func TestLoadTLSServerRequiredWithKeyfile(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
capture:
  tls:
    keyfile: "/tmp/keys.log"
`))
	if err == nil {
		t.Fatal("expected error: keyfile without server")
	}
	if !strings.Contains(err.Error(), "capture.tls.server") {
		t.Errorf("error = %v, want mention of capture.tls.server", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SIPWATCH_PAUSE_MODE", "drop-incoming")

	cfg, err := Load(writeTmpConfig(t, `
capture:
  online:
    bpf: "udp port 5060"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pause.Mode != "drop-incoming" {
		t.Errorf("Pause.Mode = %q, want drop-incoming (from env)", cfg.Pause.Mode)
	}
}

func TestLoadNegativeMemoryLimitRejected(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
storage:
  memory:
    limit: -1
`))
	if err == nil {
		t.Fatal("expected error for negative storage.memory.limit")
	}
}
