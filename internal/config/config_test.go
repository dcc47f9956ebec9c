package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
node_id: fog-1
children:
  - 10.0.0.11:1883
  - 10.0.0.12:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Timeout() != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %s", cfg.Timeout())
	}
	if cfg.Broker.URL != "tcp://localhost:1883" {
		t.Fatalf("expected default broker, got %s", cfg.Broker.URL)
	}
	if cfg.Directory.Timeout != 5*time.Second {
		t.Fatalf("expected default directory timeout 5s, got %s", cfg.Directory.Timeout)
	}
	if !cfg.HasChildren {
		t.Fatal("expected has_children to follow the configured children")
	}
	if !cfg.IsRoot() {
		t.Fatal("expected a gateway without parent to be the root")
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
node_id: edge-3
debug: true
broker:
  url: tcp://127.0.0.1:1884
  username: karaf
  password: karaf
parent:
  url: tcp://10.0.0.1:1883
advertise_addr: 10.0.0.3:1884
timeout_seconds: 10
directory:
  url: http://127.0.0.1:8000
  timeout: 2s
http:
  port: 8081
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.IsRoot() {
		t.Fatal("expected a child gateway")
	}
	if cfg.Timeout() != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %s", cfg.Timeout())
	}
	if cfg.Directory.Timeout != 2*time.Second {
		t.Fatalf("expected 2s directory timeout, got %s", cfg.Directory.Timeout)
	}
	if cfg.Broker.Username != "karaf" || !cfg.Debug || cfg.HTTP.Port != 8081 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"child without advertise": "parent:\n  url: tcp://p:1883\n",
		"duplicate child":         "children: [a:1883, a:1883]\n",
		"negative timeout":        "timeout_seconds: -1\n",
		"bad port":                "http:\n  port: 70000\n",
	}
	for name, data := range cases {
		_, err := Load(writeConfig(t, data))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "children: [unterminated\n")); err == nil {
		t.Fatal("expected a parse error")
	}
}
