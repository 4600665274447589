package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"polkalend/native/lending"
)

// Validate checks the configuration and the embedded market declarations.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level %q not recognised", cfg.LogLevel)
	}
	if len(cfg.Markets) == 0 {
		return fmt.Errorf("at least one market must be declared")
	}
	markets, err := cfg.BuildMarkets()
	if err != nil {
		return err
	}
	// Risk parameter ordering and liquidity bounds are checked the same way
	// the engine will check them at boot.
	if _, err := lending.NewRegistry(markets); err != nil {
		return err
	}
	if _, err := cfg.BuildWalletBalances(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps the configured level onto slog.
func (cfg *Config) SlogLevel() slog.Level {
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BuildWalletBalances parses the liquidator's configured balances. An empty
// table yields nil, which leaves the scanner's funds pre-check disabled.
func (cfg *Config) BuildWalletBalances() (map[string]decimal.Decimal, error) {
	if len(cfg.Scanner.WalletBalances) == 0 {
		return nil, nil
	}
	balances := make(map[string]decimal.Decimal, len(cfg.Scanner.WalletBalances))
	for assetID, raw := range cfg.Scanner.WalletBalances {
		parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("wallet balance %q: %w", assetID, err)
		}
		if parsed.IsNegative() {
			return nil, fmt.Errorf("wallet balance %q: must not be negative", assetID)
		}
		balances[strings.TrimSpace(assetID)] = parsed
	}
	return balances, nil
}

// BuildMarkets converts the declared entries into engine markets, parsing
// every decimal-valued field.
func (cfg *Config) BuildMarkets() ([]lending.Market, error) {
	markets := make([]lending.Market, 0, len(cfg.Markets))
	for _, entry := range cfg.Markets {
		market, err := entry.build()
		if err != nil {
			return nil, fmt.Errorf("market %q: %w", entry.ID, err)
		}
		markets = append(markets, market)
	}
	return markets, nil
}

func (e MarketEntry) build() (lending.Market, error) {
	if strings.TrimSpace(e.ID) == "" {
		return lending.Market{}, fmt.Errorf("market id required")
	}
	market := lending.Market{
		Asset: lending.Asset{
			ID:           strings.TrimSpace(e.ID),
			Symbol:       strings.TrimSpace(e.Symbol),
			Name:         strings.TrimSpace(e.Name),
			Decimals:     e.Decimals,
			IsStablecoin: e.IsStablecoin,
		},
	}
	fields := []decimalField{
		{"Price", e.Price, &market.Asset.Price},
		{"CollateralFactor", e.CollateralFactor, &market.CollateralFactor},
		{"LiquidationThreshold", e.LiquidationThreshold, &market.LiquidationThreshold},
		{"SupplyAPY", e.SupplyAPY, &market.SupplyAPY},
		{"BorrowAPY", e.BorrowAPY, &market.BorrowAPY},
		{"TotalSupplied", e.TotalSupplied, &market.TotalSupplied},
		{"TotalBorrowed", e.TotalBorrowed, &market.TotalBorrowed},
	}
	for _, field := range fields {
		raw := strings.TrimSpace(field.raw)
		if raw == "" {
			continue
		}
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return lending.Market{}, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.target = parsed
	}
	return market, nil
}

type decimalField struct {
	name   string
	raw    string
	target *decimal.Decimal
}
