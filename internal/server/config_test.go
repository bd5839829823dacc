package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for an explicit missing config file")
	}

	t.Chdir(t.TempDir())
	v, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg, err := ConfigFrom(v)
	if err != nil {
		t.Fatalf("ConfigFrom: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q, want 0.0.0.0:8080", cfg.Addr())
	}
	if cfg.RateLimitRPS != 100 || cfg.RateLimitBurst != 200 {
		t.Errorf("rate limit = %v/%d, want 100/200", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if got := v.GetString("model.path"); got != "./model.yaml" {
		t.Errorf("model.path = %q", got)
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorguard.yaml")
	body := "server:\n  host: 127.0.0.1\n  port: 9100\nmodel:\n  path: /models/pump.yaml\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SG_LOGGING_LEVEL", "debug")

	v, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg, err := ConfigFrom(v)
	if err != nil {
		t.Fatalf("ConfigFrom: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9100" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9100", cfg.Addr())
	}
	if got := v.GetString("model.path"); got != "/models/pump.yaml" {
		t.Errorf("model.path = %q", got)
	}
	if got := v.GetString("logging.level"); got != "debug" {
		t.Errorf("logging.level = %q, want debug from env", got)
	}
}
