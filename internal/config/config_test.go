package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wyrmgate/market-engine/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Defaults()

	if cfg.HTTP.Port != "8080" {
		t.Errorf("port = %s, want 8080", cfg.HTTP.Port)
	}
	if cfg.Auction.CyclePeriod.Std() != 10*time.Minute {
		t.Errorf("cycle period = %v, want 10m", cfg.Auction.CyclePeriod.Std())
	}
	if cfg.Market.ListingLifetime.Std() != 48*time.Hour {
		t.Errorf("listing lifetime = %v, want 48h", cfg.Market.ListingLifetime.Std())
	}
	if cfg.Market.FeeBps != 500 || cfg.Market.MerchantFeeBps != 250 {
		t.Errorf("fees = %d/%d, want 500/250", cfg.Market.FeeBps, cfg.Market.MerchantFeeBps)
	}
	if cfg.Market.TreasuryAccount != "town-treasury" {
		t.Errorf("treasury = %s", cfg.Market.TreasuryAccount)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "market.toml")
	body := `
[http]
port = "9090"

[market]
listing_lifetime = "24h"
fee_bps = 300

[auction]
cycle_period = "5m"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != "9090" {
		t.Errorf("port = %s, want 9090", cfg.HTTP.Port)
	}
	if cfg.Market.ListingLifetime.Std() != 24*time.Hour {
		t.Errorf("lifetime = %v, want 24h", cfg.Market.ListingLifetime.Std())
	}
	if cfg.Market.FeeBps != 300 {
		t.Errorf("fee = %d, want 300", cfg.Market.FeeBps)
	}
	if cfg.Auction.CyclePeriod.Std() != 5*time.Minute {
		t.Errorf("cycle = %v, want 5m", cfg.Auction.CyclePeriod.Std())
	}
	// Untouched sections keep their defaults.
	if cfg.Market.TreasuryAccount != "town-treasury" {
		t.Errorf("treasury = %s, want default", cfg.Market.TreasuryAccount)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "market.toml")
	if err := os.WriteFile(path, []byte("[http]\nport = \"9090\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WYRMGATE_PORT", "7000")
	t.Setenv("WYRMGATE_CYCLE_PERIOD", "2m")
	t.Setenv("WYRMGATE_FEE_BPS", "100")
	t.Setenv("WYRMGATE_MERCHANT_FEE_BPS", "50")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != "7000" {
		t.Errorf("port = %s, want 7000 (env beats file)", cfg.HTTP.Port)
	}
	if cfg.Auction.CyclePeriod.Std() != 2*time.Minute {
		t.Errorf("cycle = %v, want 2m", cfg.Auction.CyclePeriod.Std())
	}
	if cfg.Market.FeeBps != 100 {
		t.Errorf("fee = %d, want 100", cfg.Market.FeeBps)
	}
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != "8080" {
		t.Errorf("port = %s, want default", cfg.HTTP.Port)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero cycle period", func(c *config.Config) { c.Auction.CyclePeriod = 0 }},
		{"zero listing lifetime", func(c *config.Config) { c.Market.ListingLifetime = 0 }},
		{"fee above 100 percent", func(c *config.Config) { c.Market.FeeBps = 10001 }},
		{"merchant fee above base", func(c *config.Config) { c.Market.MerchantFeeBps = 9999 }},
		{"empty treasury", func(c *config.Config) { c.Market.TreasuryAccount = "" }},
	}
	for _, tc := range cases {
		cfg := config.Defaults()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: validation passed, want error", tc.name)
		}
	}
}
