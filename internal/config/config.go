// Package config loads engine configuration from an optional TOML file
// with WYRMGATE_* environment overrides on top, so operators can inject
// connection strings and secrets at deploy time without touching the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration wraps time.Duration so TOML files can write "10m" / "48h".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full engine configuration.
type Config struct {
	HTTP    HTTPConfig    `toml:"http"`
	Storage StorageConfig `toml:"storage"`
	Market  MarketConfig  `toml:"market"`
	Auction AuctionConfig `toml:"auction"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port string `toml:"port"`
}

// StorageConfig configures persistence. Empty DatabaseURL falls back to
// the in-memory store (development only); empty RedisURL disables the
// read-through cache.
type StorageConfig struct {
	DatabaseURL string   `toml:"database_url"`
	RedisURL    string   `toml:"redis_url"`
	CacheTTL    Duration `toml:"cache_ttl"`
}

// MarketConfig configures listing and fee behavior.
type MarketConfig struct {
	ListingLifetime Duration `toml:"listing_lifetime"`
	FeeBps          int64    `toml:"fee_bps"`          // market fee, basis points of sale price
	MerchantFeeBps  int64    `toml:"merchant_fee_bps"` // reduced rate for Merchant sellers
	TreasuryAccount string   `toml:"treasury_account"` // fees land here, never vanish
}

// AuctionConfig configures the cycle scheduler and resolver.
type AuctionConfig struct {
	CyclePeriod       Duration `toml:"cycle_period"`
	BidBonusCap       int      `toml:"bid_bonus_cap"`       // max roll bonus from overbidding
	MerchantRollBonus int      `toml:"merchant_roll_bonus"` // flat bonus for Merchant buyers
	MaxResolveRetries int      `toml:"max_resolve_retries"` // per listing before quarantine
}

// Defaults returns a configuration that starts with no file and no
// environment: in-memory store, 10-minute cycles, 5% fee (2.5% Merchant).
func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{Port: "8080"},
		Storage: StorageConfig{
			CacheTTL: Duration(30 * time.Second),
		},
		Market: MarketConfig{
			ListingLifetime: Duration(48 * time.Hour),
			FeeBps:          500,
			MerchantFeeBps:  250,
			TreasuryAccount: "town-treasury",
		},
		Auction: AuctionConfig{
			CyclePeriod:       Duration(10 * time.Minute),
			BidBonusCap:       10,
			MerchantRollBonus: 2,
			MaxResolveRetries: 3,
		},
	}
}

// Load reads the TOML file at path (skipped when path is empty or the
// file is absent), merges it over Defaults, then applies environment
// overrides. A .env file is loaded first if present.
func Load(path string) (Config, error) {
	cfg := Defaults()

	_ = godotenv.Load()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	return cfg, cfg.Validate()
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Auction.CyclePeriod.Std() <= 0 {
		return fmt.Errorf("config: cycle_period must be positive")
	}
	if c.Market.ListingLifetime.Std() <= 0 {
		return fmt.Errorf("config: listing_lifetime must be positive")
	}
	if c.Market.FeeBps < 0 || c.Market.FeeBps > 10000 {
		return fmt.Errorf("config: fee_bps must be in [0, 10000]")
	}
	if c.Market.MerchantFeeBps < 0 || c.Market.MerchantFeeBps > c.Market.FeeBps {
		return fmt.Errorf("config: merchant_fee_bps must be in [0, fee_bps]")
	}
	if c.Market.TreasuryAccount == "" {
		return fmt.Errorf("config: treasury_account is required")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.HTTP.Port, "WYRMGATE_PORT")
	setStr(&cfg.HTTP.Port, "PORT") // platform convention

	setStr(&cfg.Storage.DatabaseURL, "WYRMGATE_DATABASE_URL")
	setStr(&cfg.Storage.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.Storage.RedisURL, "WYRMGATE_REDIS_URL")
	setStr(&cfg.Storage.RedisURL, "REDIS_URL")
	setDur(&cfg.Storage.CacheTTL, "WYRMGATE_CACHE_TTL")

	setDur(&cfg.Market.ListingLifetime, "WYRMGATE_LISTING_LIFETIME")
	setInt(&cfg.Market.FeeBps, "WYRMGATE_FEE_BPS")
	setInt(&cfg.Market.MerchantFeeBps, "WYRMGATE_MERCHANT_FEE_BPS")
	setStr(&cfg.Market.TreasuryAccount, "WYRMGATE_TREASURY_ACCOUNT")

	setDur(&cfg.Auction.CyclePeriod, "WYRMGATE_CYCLE_PERIOD")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDur(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
