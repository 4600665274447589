package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress string        `toml:"ListenAddress"`
	Environment   string        `toml:"Environment"`
	LogLevel      string        `toml:"LogLevel"`
	Storage       StorageConfig `toml:"storage"`
	Scanner       ScannerConfig `toml:"scanner"`
	Settlement    Settlement    `toml:"settlement"`
	Markets       []MarketEntry `toml:"markets"`
}

// StorageConfig locates the transaction log file. An empty path selects the
// in-memory log.
type StorageConfig struct {
	Path string `toml:"Path"`
}

// ScannerConfig tunes the liquidation scanner cadence and fetch deadlines.
// WalletBalances funds the liquidator per asset; decimal values are strings
// so the file keeps exact precision. An empty table disables the funds
// pre-check.
type ScannerConfig struct {
	Liquidator     string            `toml:"Liquidator"`
	IntervalMS     int64             `toml:"IntervalMS"`
	FetchTimeout   int64             `toml:"FetchTimeoutMS"`
	WalletBalances map[string]string `toml:"WalletBalances"`
}

// Interval returns the scan cadence.
func (c ScannerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// Timeout returns the per-fetch deadline.
func (c ScannerConfig) Timeout() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Millisecond
}

// Settlement tunes the local settlement executor used when no external
// endpoint is wired in.
type Settlement struct {
	DelayMS int64 `toml:"DelayMS"`
}

// Delay returns the simulated confirmation delay.
func (s Settlement) Delay() time.Duration {
	return time.Duration(s.DelayMS) * time.Millisecond
}

// MarketEntry declares one listed market. Decimal-valued fields are strings
// so the file keeps exact precision.
type MarketEntry struct {
	ID                   string `toml:"ID"`
	Symbol               string `toml:"Symbol"`
	Name                 string `toml:"Name"`
	Decimals             uint8  `toml:"Decimals"`
	Price                string `toml:"Price"`
	IsStablecoin         bool   `toml:"IsStablecoin"`
	CollateralFactor     string `toml:"CollateralFactor"`
	LiquidationThreshold string `toml:"LiquidationThreshold"`
	SupplyAPY            string `toml:"SupplyAPY"`
	BorrowAPY            string `toml:"BorrowAPY"`
	TotalSupplied        string `toml:"TotalSupplied"`
	TotalBorrowed        string `toml:"TotalBorrowed"`
}

// Load reads the TOML configuration, applies defaults and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8547"
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Scanner.IntervalMS <= 0 {
		cfg.Scanner.IntervalMS = 15_000
	}
	if cfg.Scanner.FetchTimeout <= 0 {
		cfg.Scanner.FetchTimeout = 10_000
	}
	if cfg.Settlement.DelayMS < 0 {
		cfg.Settlement.DelayMS = 0
	}
}
