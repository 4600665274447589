package lending

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketSource supplies market snapshots and spot prices. The engine consumes
// these as inputs and never writes prices back.
type MarketSource interface {
	Markets(ctx context.Context) ([]Market, error)
	Price(ctx context.Context, assetID string) (decimal.Decimal, error)
}

// SettlementExecutor submits a validated operation to the external
// confirmation layer (wallet, signer, chain). Opaque to the engine beyond
// success, failure and the returned transaction hash.
type SettlementExecutor interface {
	Submit(ctx context.Context, op Operation) (hash string, err error)
}

// BorrowerSource enumerates borrower accounts and their position sets. Used
// only by the liquidation scanner, read-only.
type BorrowerSource interface {
	ListBorrowers(ctx context.Context) ([]string, error)
	Ledger(ctx context.Context, account string) ([]Position, error)
}

// WalletSource reports the liquidator's spendable balances, consulted before
// a liquidation is executed.
type WalletSource interface {
	Balance(ctx context.Context, assetID string) (decimal.Decimal, error)
}

// StaticMarketSource serves a fixed market set, typically loaded from
// configuration. Prices can be repointed between scans to model oracle
// updates.
type StaticMarketSource struct {
	mu      sync.RWMutex
	markets []Market
}

// NewStaticMarketSource builds a source over the given markets.
func NewStaticMarketSource(markets []Market) *StaticMarketSource {
	return &StaticMarketSource{markets: append([]Market(nil), markets...)}
}

// Markets returns a copy of the current market set.
func (s *StaticMarketSource) Markets(_ context.Context) ([]Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Market(nil), s.markets...), nil
}

// Price returns the current snapshot price for the asset.
func (s *StaticMarketSource) Price(_ context.Context, assetID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, market := range s.markets {
		if market.Asset.ID == assetID {
			return market.Asset.Price, nil
		}
	}
	return decimal.Zero, ErrMarketNotFound
}

// SetPrice updates one asset's snapshot price.
func (s *StaticMarketSource) SetPrice(assetID string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.markets {
		if s.markets[i].Asset.ID == assetID {
			s.markets[i].Asset.Price = price
			return
		}
	}
}

// StaticWalletSource serves the liquidator's balances from a fixed table,
// typically loaded from configuration.
type StaticWalletSource struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
}

// NewStaticWalletSource builds a wallet over the given balances.
func NewStaticWalletSource(balances map[string]decimal.Decimal) *StaticWalletSource {
	copied := make(map[string]decimal.Decimal, len(balances))
	for assetID, amount := range balances {
		copied[assetID] = amount
	}
	return &StaticWalletSource{balances: copied}
}

// Balance returns the spendable balance for the asset; unlisted assets report
// zero.
func (s *StaticWalletSource) Balance(_ context.Context, assetID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	balance, ok := s.balances[assetID]
	if !ok {
		return decimal.Zero, nil
	}
	return balance, nil
}

// SetBalance updates one asset's balance.
func (s *StaticWalletSource) SetBalance(assetID string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[assetID] = amount
}

// LocalExecutor settles operations without an external chain: every submit
// succeeds after the configured delay and returns a generated hash. Used by
// the daemon when no settlement endpoint is configured, and by tests.
type LocalExecutor struct {
	Delay time.Duration
}

// Submit waits out the settlement delay, honouring context cancellation, and
// returns a synthetic transaction hash.
func (e *LocalExecutor) Submit(ctx context.Context, _ Operation) (string, error) {
	if e.Delay > 0 {
		timer := time.NewTimer(e.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "0x" + uuid.NewString(), nil
}
