package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.PersistBatchSize != 50 {
		t.Errorf("PersistBatchSize = %d, want 50", cfg.PersistBatchSize)
	}
	if cfg.PersistFlushTimeout != 10*time.Millisecond {
		t.Errorf("PersistFlushTimeout = %s, want 10ms", cfg.PersistFlushTimeout)
	}
	if cfg.StaticPriceValue != "" {
		t.Errorf("StaticPriceValue = %q, want empty", cfg.StaticPriceValue)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := "LEND_HTTP_ADDR=:9999\nLEND_PERSIST_BATCH_SIZE=200\nLEND_STATIC_PRICE_VALUE=250000000000\n"
	if err := os.WriteFile(filepath.Join(dir, "app.env"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
	if cfg.PersistBatchSize != 200 {
		t.Errorf("PersistBatchSize = %d, want 200", cfg.PersistBatchSize)
	}
	if cfg.StaticPriceValue != "250000000000" {
		t.Errorf("StaticPriceValue = %q", cfg.StaticPriceValue)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.env"), []byte("LEND_NATS_URL=nats://file:4222\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEND_NATS_URL", "nats://env:4222")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NATSURL != "nats://env:4222" {
		t.Errorf("NATSURL = %q, want env value", cfg.NATSURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad engine id", func(c *Config) { c.EngineID = "not-a-uuid" }},
		{"zero persist chan", func(c *Config) { c.PersistChanSize = 0 }},
		{"negative batch", func(c *Config) { c.PersistBatchSize = -1 }},
		{"zero flush timeout", func(c *Config) { c.PersistFlushTimeout = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(t.TempDir())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted bad config")
			}
		})
	}
}
