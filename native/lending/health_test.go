package lending

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return parsed
}

func testMarkets(t *testing.T) []Market {
	t.Helper()
	return []Market{
		{
			Asset:                Asset{ID: "dot", Symbol: "DOT", Name: "Polkadot", Decimals: 10, Price: dec(t, "5.21")},
			CollateralFactor:     dec(t, "0.75"),
			LiquidationThreshold: dec(t, "0.80"),
			TotalSupplied:        dec(t, "100000"),
			TotalBorrowed:        dec(t, "40000"),
		},
		{
			Asset:                Asset{ID: "usd", Symbol: "USD", Name: "US Dollar", Decimals: 6, Price: dec(t, "1.00"), IsStablecoin: true},
			CollateralFactor:     dec(t, "0.80"),
			LiquidationThreshold: dec(t, "0.85"),
			TotalSupplied:        dec(t, "500000"),
			TotalBorrowed:        dec(t, "200000"),
		},
	}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry(testMarkets(t))
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return registry
}

func TestComputeHealthCollateralizedBorrow(t *testing.T) {
	registry := testRegistry(t)
	positions := []Position{
		{AssetID: "dot", Supplied: dec(t, "100"), IsCollateral: true},
		{AssetID: "usd", Borrowed: dec(t, "300")},
	}

	health := ComputeHealth(positions, registry)
	if health.Kind != HealthFinite {
		t.Fatalf("expected finite health, got %s", health.Kind)
	}
	// (100 × 5.21 × 0.80) / 300
	want := dec(t, "416.8").Div(dec(t, "300"))
	if !health.Value.Equal(want) {
		t.Fatalf("unexpected ratio: got %s want %s", health.Value, want)
	}
	if health.Status() != StatusWarning {
		t.Fatalf("expected warning status, got %s", health.Status())
	}
}

func TestComputeHealthNoPositions(t *testing.T) {
	health := ComputeHealth(nil, testRegistry(t))
	if health.Kind != HealthEmpty {
		t.Fatalf("expected empty health, got %s", health.Kind)
	}
	if health.Status() != StatusHealthy {
		t.Fatalf("expected healthy status, got %s", health.Status())
	}
}

func TestComputeHealthCollateralWithoutDebt(t *testing.T) {
	positions := []Position{{AssetID: "dot", Supplied: dec(t, "10"), IsCollateral: true}}
	health := ComputeHealth(positions, testRegistry(t))
	if health.Kind != HealthInfinite {
		t.Fatalf("expected infinite health, got %s", health.Kind)
	}
	if health.Status() != StatusHealthy {
		t.Fatalf("expected healthy status, got %s", health.Status())
	}
}

func TestComputeHealthSkipsUnlistedAssets(t *testing.T) {
	positions := []Position{
		{AssetID: "dot", Supplied: dec(t, "100"), IsCollateral: true},
		{AssetID: "unlisted", Borrowed: dec(t, "1000000")},
	}
	health := ComputeHealth(positions, testRegistry(t))
	if health.Kind != HealthInfinite {
		t.Fatalf("expected unlisted debt to be ignored, got %s", health.Kind)
	}
}

func TestComputeHealthIdempotent(t *testing.T) {
	registry := testRegistry(t)
	positions := []Position{
		{AssetID: "dot", Supplied: dec(t, "42"), IsCollateral: true},
		{AssetID: "usd", Borrowed: dec(t, "100")},
	}
	first := ComputeHealth(positions, registry)
	second := ComputeHealth(positions, registry)
	if first.Kind != second.Kind || !first.Value.Equal(second.Value) {
		t.Fatalf("health computation not idempotent: %v vs %v", first, second)
	}
}

func TestStatusThresholds(t *testing.T) {
	cases := []struct {
		value string
		want  RiskStatus
	}{
		{"0.5", StatusDanger},
		{"1.19", StatusDanger},
		{"1.2", StatusWarning},
		{"1.49", StatusWarning},
		{"1.5", StatusHealthy},
		{"3", StatusHealthy},
	}
	for _, tc := range cases {
		h := HealthFactor{Kind: HealthFinite, Value: dec(t, tc.value)}
		if got := h.Status(); got != tc.want {
			t.Fatalf("status for %s: got %s want %s", tc.value, got, tc.want)
		}
	}
}

func TestSimulateHealthDoesNotMutate(t *testing.T) {
	registry := testRegistry(t)
	positions := []Position{
		{AssetID: "dot", Supplied: dec(t, "100"), IsCollateral: true},
		{AssetID: "usd", Borrowed: dec(t, "300")},
	}
	before := ComputeHealth(positions, registry)

	SimulateHealth(positions, registry, Delta{AssetID: "dot", Supplied: dec(t, "-100")})
	SimulateHealth(positions, registry, Delta{AssetID: "usd", Borrowed: dec(t, "500")})

	after := ComputeHealth(positions, registry)
	if before.Kind != after.Kind || !before.Value.Equal(after.Value) {
		t.Fatalf("simulation mutated inputs: %v vs %v", before, after)
	}
	if !positions[0].Supplied.Equal(dec(t, "100")) || !positions[1].Borrowed.Equal(dec(t, "300")) {
		t.Fatalf("position slice mutated: %+v", positions)
	}
}

func TestSimulateHealthFullWithdrawal(t *testing.T) {
	registry := testRegistry(t)
	positions := []Position{
		{AssetID: "dot", Supplied: dec(t, "100"), IsCollateral: true},
		{AssetID: "usd", Borrowed: dec(t, "300")},
	}
	health := SimulateHealth(positions, registry, Delta{AssetID: "dot", Supplied: dec(t, "-100")})
	if health.Kind != HealthFinite || !health.Value.IsZero() {
		t.Fatalf("expected finite zero ratio, got %+v", health)
	}
	if health.Status() != StatusDanger {
		t.Fatalf("expected danger status, got %s", health.Status())
	}
}

func TestHealthMonotonicity(t *testing.T) {
	registry := testRegistry(t)
	positions := []Position{
		{AssetID: "dot", Supplied: dec(t, "100"), IsCollateral: true},
		{AssetID: "usd", Borrowed: dec(t, "100")},
	}
	previous := ComputeHealth(positions, registry)
	// Growing debt with collateral fixed never raises the ratio.
	for _, extra := range []string{"50", "100", "250"} {
		health := SimulateHealth(positions, registry, Delta{AssetID: "usd", Borrowed: dec(t, extra)})
		if health.Value.GreaterThan(previous.Value) {
			t.Fatalf("ratio rose with extra debt %s: %s > %s", extra, health.Value, previous.Value)
		}
		previous = health
	}
	// Growing collateral with debt fixed never lowers it.
	previous = ComputeHealth(positions, registry)
	for _, extra := range []string{"10", "50", "200"} {
		health := SimulateHealth(positions, registry, Delta{AssetID: "dot", Supplied: dec(t, extra)})
		if health.Value.LessThan(previous.Value) {
			t.Fatalf("ratio fell with extra collateral %s: %s < %s", extra, health.Value, previous.Value)
		}
		previous = health
	}
}

func TestMaxBorrowable(t *testing.T) {
	registry := testRegistry(t)
	positions := []Position{{AssetID: "dot", Supplied: dec(t, "100"), IsCollateral: true}}

	// 100 × 5.21 × 0.75
	want := dec(t, "390.75")
	if got := MaxBorrowable(positions, registry); !got.Equal(want) {
		t.Fatalf("max borrowable: got %s want %s", got, want)
	}

	positions = append(positions, Position{AssetID: "usd", Borrowed: dec(t, "300")})
	want = dec(t, "90.75")
	if got := MaxBorrowable(positions, registry); !got.Equal(want) {
		t.Fatalf("max borrowable after debt: got %s want %s", got, want)
	}
}

func TestThresholdWeightingDominatesFactorWeighting(t *testing.T) {
	registry := testRegistry(t)
	positions := []Position{
		{AssetID: "dot", Supplied: dec(t, "100"), IsCollateral: true},
		{AssetID: "usd", Supplied: dec(t, "250"), IsCollateral: true, Borrowed: dec(t, "40")},
	}

	// Reconstruct both weighted sums: the health numerator uses the
	// liquidation threshold, the borrow power uses the collateral factor.
	debtValue := dec(t, "40")
	health := ComputeHealth(positions, registry)
	thresholdWeighted := health.Value.Mul(debtValue)
	factorWeighted := MaxBorrowable(positions, registry).Add(debtValue)
	if thresholdWeighted.LessThan(factorWeighted) {
		t.Fatalf("threshold-weighted collateral %s below factor-weighted %s", thresholdWeighted, factorWeighted)
	}
}
