package lending

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

var (
	oneDec = decimal.NewFromInt(1)

	// Status thresholds over the finite health ratio.
	dangerBelow  = decimal.RequireFromString("1.2")
	warningBelow = decimal.RequireFromString("1.5")

	// A position becomes liquidatable once its ratio drops below one.
	liquidationCutoff = oneDec
)

// RiskStatus buckets a health ratio for display and gating.
type RiskStatus string

const (
	StatusHealthy RiskStatus = "healthy"
	StatusWarning RiskStatus = "warning"
	StatusDanger  RiskStatus = "danger"
)

// HealthKind tags the three distinguishable health states. A numeric sentinel
// is never used: "no positions" and "collateral with zero debt" are separate
// variants so neither can be mistaken for a real ratio.
type HealthKind string

const (
	// HealthEmpty means the account carries no debt and no collateral;
	// vacuously safe.
	HealthEmpty HealthKind = "empty"
	// HealthInfinite means the account carries collateral but zero debt;
	// maximally safe.
	HealthInfinite HealthKind = "infinite"
	// HealthFinite carries a real collateral/debt ratio in Value.
	HealthFinite HealthKind = "finite"
)

// HealthFactor is the scalar solvency signal derived from a ledger and a
// registry. Derived, never persisted: always recomputed from current state.
type HealthFactor struct {
	Kind  HealthKind
	Value decimal.Decimal
}

// Status derives the risk bucket. Empty and Infinite are healthy by
// definition.
func (h HealthFactor) Status() RiskStatus {
	switch h.Kind {
	case HealthFinite:
		if h.Value.LessThan(dangerBelow) {
			return StatusDanger
		}
		if h.Value.LessThan(warningBelow) {
			return StatusWarning
		}
		return StatusHealthy
	default:
		return StatusHealthy
	}
}

// Liquidatable reports whether the ratio sits below the liquidation cutoff.
// Only finite ratios can be liquidated.
func (h HealthFactor) Liquidatable() bool {
	return h.Kind == HealthFinite && h.Value.LessThan(liquidationCutoff)
}

type healthFactorJSON struct {
	Kind   HealthKind      `json:"kind"`
	Value  decimal.Decimal `json:"value"`
	Status RiskStatus      `json:"status"`
}

// MarshalJSON includes the derived status so consumers never re-derive the
// thresholds.
func (h HealthFactor) MarshalJSON() ([]byte, error) {
	return json.Marshal(healthFactorJSON{Kind: h.Kind, Value: h.Value, Status: h.Status()})
}

// UnmarshalJSON restores the tagged value; the embedded status is derived and
// therefore discarded.
func (h *HealthFactor) UnmarshalJSON(data []byte) error {
	var raw healthFactorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	h.Kind = raw.Kind
	h.Value = raw.Value
	return nil
}

// ComputeHealth derives the health factor for a position set. Collateral is
// weighted by the liquidation threshold; debt is taken at face value. Assets
// without a listed market contribute to neither term.
func ComputeHealth(positions []Position, registry *Registry) HealthFactor {
	collateralTerm := decimal.Zero
	debtTerm := decimal.Zero
	hasCollateral := false
	for _, pos := range positions {
		market, err := registry.Get(pos.AssetID)
		if err != nil {
			continue
		}
		if pos.IsCollateral && pos.Supplied.IsPositive() {
			hasCollateral = true
			weighted := pos.Supplied.Mul(market.Asset.Price).Mul(market.LiquidationThreshold)
			collateralTerm = collateralTerm.Add(weighted)
		}
		if pos.Borrowed.IsPositive() {
			debtTerm = debtTerm.Add(pos.Borrowed.Mul(market.Asset.Price))
		}
	}
	if debtTerm.IsZero() {
		if hasCollateral {
			return HealthFactor{Kind: HealthInfinite}
		}
		return HealthFactor{Kind: HealthEmpty}
	}
	return HealthFactor{Kind: HealthFinite, Value: collateralTerm.Div(debtTerm)}
}

// Delta describes a hypothetical adjustment to one asset's position used by
// simulation. Supplied and Borrowed are signed offsets; SetCollateral, when
// non-nil, overrides the collateral flag.
type Delta struct {
	AssetID       string
	Supplied      decimal.Decimal
	Borrowed      decimal.Decimal
	SetCollateral *bool
}

// SimulateHealth computes the health factor for the position set with the
// delta applied. The input slice is never mutated; negative balances floor at
// zero, matching the ledger's own clamping.
func SimulateHealth(positions []Position, registry *Registry, delta Delta) HealthFactor {
	adjusted := make([]Position, 0, len(positions)+1)
	applied := false
	for _, pos := range positions {
		if pos.AssetID == delta.AssetID {
			pos = applyDelta(pos, delta)
			applied = true
		}
		adjusted = append(adjusted, pos)
	}
	if !applied {
		pos := applyDelta(Position{AssetID: delta.AssetID}, delta)
		adjusted = append(adjusted, pos)
	}
	return ComputeHealth(adjusted, registry)
}

func applyDelta(pos Position, delta Delta) Position {
	pos.Supplied = pos.Supplied.Add(delta.Supplied)
	if pos.Supplied.IsNegative() {
		pos.Supplied = decimal.Zero
	}
	pos.Borrowed = pos.Borrowed.Add(delta.Borrowed)
	if pos.Borrowed.IsNegative() {
		pos.Borrowed = decimal.Zero
	}
	if delta.SetCollateral != nil {
		pos.IsCollateral = *delta.SetCollateral
	} else if delta.Supplied.IsPositive() {
		// Depositing implicitly opts the asset into collateral use.
		pos.IsCollateral = true
	}
	return pos
}

// MaxBorrowable returns the USD value still available to borrow: the
// collateral-factor weighted collateral minus the existing debt value. This
// deliberately uses the collateral factor, not the liquidation threshold.
func MaxBorrowable(positions []Position, registry *Registry) decimal.Decimal {
	borrowPower := decimal.Zero
	debtValue := decimal.Zero
	for _, pos := range positions {
		market, err := registry.Get(pos.AssetID)
		if err != nil {
			continue
		}
		if pos.IsCollateral && pos.Supplied.IsPositive() {
			borrowPower = borrowPower.Add(pos.Supplied.Mul(market.Asset.Price).Mul(market.CollateralFactor))
		}
		if pos.Borrowed.IsPositive() {
			debtValue = debtValue.Add(pos.Borrowed.Mul(market.Asset.Price))
		}
	}
	headroom := borrowPower.Sub(debtValue)
	if headroom.IsNegative() {
		return decimal.Zero
	}
	return headroom
}
