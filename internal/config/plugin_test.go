package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileOverridesAndPreserves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.yaml")
	data := []byte("broker_url: wss://broker.example/plugin/connect\nmodel: llama3\nreconnect: false\nrequest_timeout: 90\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := PluginConfig{
		BrokerURL:      "wss://default/plugin/connect",
		JWT:            "tok-1",
		BackendBaseURL: "http://127.0.0.1:11434/v1",
		RequestTimeout: 2 * time.Minute,
		Reconnect:      true,
	}
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BrokerURL != "wss://broker.example/plugin/connect" {
		t.Errorf("broker url: %q", cfg.BrokerURL)
	}
	if cfg.Model != "llama3" {
		t.Errorf("model: %q", cfg.Model)
	}
	if cfg.Reconnect {
		t.Error("reconnect should be overridden to false")
	}
	// request_timeout is seconds, not nanoseconds.
	if cfg.RequestTimeout != 90*time.Second {
		t.Errorf("request timeout: %v", cfg.RequestTimeout)
	}
	// Fields absent from the file keep their prior values.
	if cfg.JWT != "tok-1" || cfg.BackendBaseURL != "http://127.0.0.1:11434/v1" {
		t.Errorf("preserved fields: %#v", cfg)
	}
}

func TestLoadFileWithoutTimeoutKeepsPrior(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin.yaml")
	if err := os.WriteFile(path, []byte("model: llama3\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg := PluginConfig{RequestTimeout: 45 * time.Second}
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Errorf("request timeout: %v", cfg.RequestTimeout)
	}
}

func TestLoadFileMissing(t *testing.T) {
	var cfg PluginConfig
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); !os.IsNotExist(err) {
		t.Errorf("error: %v", err)
	}
}
