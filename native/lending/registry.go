package lending

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	errDuplicateMarket  = errors.New("lending registry: duplicate asset id")
	errMissingAssetID   = errors.New("lending registry: market asset id required")
	errFactorRange      = errors.New("lending registry: collateral factor outside [0,1]")
	errThresholdRange   = errors.New("lending registry: liquidation threshold outside [0,1]")
	errThresholdOrder   = errors.New("lending registry: liquidation threshold below collateral factor")
	errNegativePrice    = errors.New("lending registry: price must not be negative")
	errNegativeLiquidty = errors.New("lending registry: borrowed exceeds supplied")
)

// Registry is the immutable-per-session catalogue of markets. It is shared
// read-only by every account's health computation; a fresh registry is built
// whenever the market source delivers a new snapshot.
type Registry struct {
	markets map[string]Market
	order   []string
}

// NewRegistry validates the market set and builds a registry from it.
func NewRegistry(markets []Market) (*Registry, error) {
	r := &Registry{markets: make(map[string]Market, len(markets))}
	for _, market := range markets {
		if err := validateMarket(market); err != nil {
			return nil, fmt.Errorf("market %q: %w", market.Asset.ID, err)
		}
		id := market.Asset.ID
		if _, exists := r.markets[id]; exists {
			return nil, fmt.Errorf("market %q: %w", id, errDuplicateMarket)
		}
		r.markets[id] = market
		r.order = append(r.order, id)
	}
	sort.Strings(r.order)
	return r, nil
}

// Get returns the market for the asset or ErrMarketNotFound.
func (r *Registry) Get(assetID string) (Market, error) {
	if r == nil {
		return Market{}, ErrMarketNotFound
	}
	market, ok := r.markets[strings.TrimSpace(assetID)]
	if !ok {
		return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, assetID)
	}
	return market, nil
}

// List returns every market ordered by asset id.
func (r *Registry) List() []Market {
	if r == nil {
		return nil
	}
	out := make([]Market, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.markets[id])
	}
	return out
}

func validateMarket(m Market) error {
	if strings.TrimSpace(m.Asset.ID) == "" {
		return errMissingAssetID
	}
	one := oneDec
	if m.CollateralFactor.IsNegative() || m.CollateralFactor.GreaterThan(one) {
		return errFactorRange
	}
	if m.LiquidationThreshold.IsNegative() || m.LiquidationThreshold.GreaterThan(one) {
		return errThresholdRange
	}
	// The protocol must seize collateral before it is exhausted as borrowing
	// power, so the threshold can never sit below the factor.
	if m.LiquidationThreshold.LessThan(m.CollateralFactor) {
		return errThresholdOrder
	}
	if m.Asset.Price.IsNegative() {
		return errNegativePrice
	}
	if m.Available().IsNegative() {
		return errNegativeLiquidty
	}
	return nil
}
