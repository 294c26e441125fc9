package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Expected missing file to fall back to defaults, got %v", err)
	}

	if cfg.ExchangeConfig.BaseURL != "https://api.mexc.com" {
		t.Errorf("Expected default base URL, got %s", cfg.ExchangeConfig.BaseURL)
	}
	if cfg.ExchangeConfig.QuoteAsset != "USDT" {
		t.Errorf("Expected USDT quote asset, got %s", cfg.ExchangeConfig.QuoteAsset)
	}
	if !cfg.AcquisitionConfig.RetainRejected() {
		t.Error("Expected rejected images to be retained by default")
	}
	if cfg.AcquisitionConfig.TurnTimeout() != 90*time.Second {
		t.Errorf("Expected 90s turn timeout, got %s", cfg.AcquisitionConfig.TurnTimeout())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"exchange":{"base_url":"http://file.local","recv_window":5000},"acquisition":{"retain_rejected_images":true}}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MEXC_BASE_URL", "http://env.local")
	t.Setenv("ACQUISITION_RETAIN_REJECTED_IMAGES", "false")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.ExchangeConfig.BaseURL != "http://env.local" {
		t.Errorf("Expected env base URL to win, got %s", cfg.ExchangeConfig.BaseURL)
	}
	if cfg.ExchangeConfig.RecvWindow != 5000 {
		t.Errorf("Expected recv window from file, got %d", cfg.ExchangeConfig.RecvWindow)
	}
	if cfg.AcquisitionConfig.RetainRejected() {
		t.Error("Expected env override to disable rejected image retention")
	}
}

func TestLoadFromInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Error("Expected parse error for invalid config file")
	}
}
