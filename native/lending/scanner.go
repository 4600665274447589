package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polkalend/core/events"
	"polkalend/observability/metrics"
)

// liquidationDiscount is the fraction of collateral value the liquidator
// keeps as incentive: pay 95%, receive 100%.
var liquidationDiscount = decimal.RequireFromString("0.05")

const defaultFetchTimeout = 10 * time.Second

// Scanner sweeps the borrower population for under-collateralized positions
// and maintains the open set of liquidation opportunities. It reads many
// accounts' ledgers but never mutates them; execution re-validates against
// fresh state before settling.
type Scanner struct {
	borrowers  BorrowerSource
	markets    MarketSource
	executor   SettlementExecutor
	wallet     WalletSource
	liquidator string
	emitter    events.Emitter
	logger     *slog.Logger
	metrics    *metrics.LendingMetrics
	timeout    time.Duration

	mu       sync.RWMutex
	open     map[string]LiquidationOpportunity // keyed by borrower
	byID     map[string]string
	executed int
	profit   decimal.Decimal
}

// ScannerOption customizes scanner construction.
type ScannerOption func(*Scanner)

// WithScannerLogger attaches a structured logger.
func WithScannerLogger(logger *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithScannerEmitter attaches an event emitter.
func WithScannerEmitter(emitter events.Emitter) ScannerOption {
	return func(s *Scanner) {
		if emitter != nil {
			s.emitter = emitter
		}
	}
}

// WithScannerMetrics attaches the lending metrics collector.
func WithScannerMetrics(m *metrics.LendingMetrics) ScannerOption {
	return func(s *Scanner) { s.metrics = m }
}

// WithWallet attaches the liquidator's wallet for the pre-execution funds
// check.
func WithWallet(wallet WalletSource) ScannerOption {
	return func(s *Scanner) { s.wallet = wallet }
}

// WithFetchTimeout bounds every external fetch the scanner performs.
func WithFetchTimeout(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewScanner wires the scanner to its read-only sources and the settlement
// executor used for liquidation execution.
func NewScanner(borrowers BorrowerSource, markets MarketSource, executor SettlementExecutor, liquidator string, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		borrowers:  borrowers,
		markets:    markets,
		executor:   executor,
		liquidator: liquidator,
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
		timeout:    defaultFetchTimeout,
		open:       make(map[string]LiquidationOpportunity),
		byID:       make(map[string]string),
		profit:     decimal.Zero,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanReport summarizes one sweep: the open opportunities ranked by profit
// and the count of borrower lookups that failed and were skipped.
type ScanReport struct {
	Opportunities []LiquidationOpportunity
	Failures      int
}

// Scan sweeps every borrower once. A failed borrower lookup is logged,
// counted and skipped; it never aborts the batch. Borrowers whose position
// has recovered or whose debt cleared drop out of the open set.
func (s *Scanner) Scan(ctx context.Context) (ScanReport, error) {
	registry, err := s.fetchRegistry(ctx)
	if err != nil {
		return ScanReport{}, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	accounts, err := s.borrowers.ListBorrowers(fetchCtx)
	cancel()
	if err != nil {
		return ScanReport{}, fetchErr("borrower enumeration", err)
	}

	report := ScanReport{}
	now := time.Now().UTC()
	enumerated := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		enumerated[account] = struct{}{}
		fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
		positions, err := s.borrowers.Ledger(fetchCtx, account)
		cancel()
		if err != nil {
			report.Failures++
			s.metrics.ObserveScanFailure()
			s.logger.Warn("borrower lookup failed",
				"component", "scanner",
				"borrower", account,
				"error", err,
			)
			continue
		}
		s.evaluate(account, positions, registry, now)
	}

	// A borrower whose debt cleared drops out of the enumeration entirely, so
	// evaluate never sees them again; their opportunity must still close.
	// Accounts that were enumerated but failed to fetch keep theirs.
	s.mu.Lock()
	for account, opp := range s.open {
		if _, ok := enumerated[account]; !ok {
			delete(s.open, account)
			delete(s.byID, opp.ID)
		}
	}
	s.mu.Unlock()

	report.Opportunities = s.Opportunities()
	s.metrics.SetOpportunities(len(report.Opportunities))
	return report, nil
}

// evaluate updates the open set for one borrower from a fresh position
// snapshot.
func (s *Scanner) evaluate(account string, positions []Position, registry *Registry, now time.Time) {
	health := ComputeHealth(positions, registry)
	if !health.Liquidatable() {
		s.drop(account)
		return
	}

	opp, ok := priceOpportunity(positions, registry)
	if !ok {
		s.drop(account)
		return
	}
	opp.Borrower = account
	opp.Health = health
	opp.LastUpdated = now

	s.mu.Lock()
	existing, ok := s.open[account]
	if ok {
		opp.ID = existing.ID
	} else {
		opp.ID = uuid.NewString()
		s.byID[opp.ID] = account
	}
	s.open[account] = opp
	s.mu.Unlock()

	if !ok {
		s.emitter.Emit(events.LendingLiquidationDetected{
			OpportunityID: opp.ID,
			Borrower:      account,
			Profit:        opp.Profit,
			DetectedAt:    now,
		})
		s.logger.Info("liquidation opportunity detected",
			"component", "scanner",
			"borrower", account,
			"profit", opp.Profit.String(),
		)
	}
}

// Opportunities returns the open set ranked by profit descending.
func (s *Scanner) Opportunities() []LiquidationOpportunity {
	s.mu.RLock()
	out := make([]LiquidationOpportunity, 0, len(s.open))
	for _, opp := range s.open {
		out = append(out, opp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].Profit.Cmp(out[j].Profit); cmp != 0 {
			return cmp > 0
		}
		return out[i].Borrower < out[j].Borrower
	})
	return out
}

// Stats reports the executed liquidation count and cumulative profit.
func (s *Scanner) Stats() (executed int, profit decimal.Decimal) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executed, s.profit
}

// Execute acts on a detected opportunity in two phases: re-validate against
// fresh external state, then settle. Any failure leaves the open set and the
// borrower's ledger untouched.
func (s *Scanner) Execute(ctx context.Context, opportunityID string) (LiquidationOpportunity, error) {
	s.mu.RLock()
	account, ok := s.byID[opportunityID]
	opp, open := s.open[account]
	s.mu.RUnlock()
	if !ok || !open {
		return LiquidationOpportunity{}, ErrOpportunityNotFound
	}

	// Phase one: the position may have been repaid or liquidated since the
	// scan; check it against fresh state, not the cached snapshot.
	registry, err := s.fetchRegistry(ctx)
	if err != nil {
		return LiquidationOpportunity{}, err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	positions, err := s.borrowers.Ledger(fetchCtx, account)
	cancel()
	if err != nil {
		return LiquidationOpportunity{}, fetchErr("borrower ledger", err)
	}

	health := ComputeHealth(positions, registry)
	if health.Kind != HealthFinite {
		s.drop(account)
		return LiquidationOpportunity{}, ErrNoOutstandingLoan
	}
	if !health.Liquidatable() {
		s.drop(account)
		return LiquidationOpportunity{}, ErrStillHealthy
	}

	// Reprice from the refetched state so the payment, the settlement amount
	// and the profit counters reflect prices at execution time, not scan time.
	repriced, ok := priceOpportunity(positions, registry)
	if !ok {
		s.drop(account)
		return LiquidationOpportunity{}, ErrNoOutstandingLoan
	}
	repriced.ID = opp.ID
	repriced.Borrower = account
	repriced.Health = health
	repriced.LastUpdated = time.Now().UTC()
	opp = repriced

	if s.wallet != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
		balance, err := s.wallet.Balance(fetchCtx, opp.DebtAsset)
		cancel()
		if err != nil {
			return LiquidationOpportunity{}, fetchErr("wallet balance", err)
		}
		if balance.LessThan(opp.YouPay) {
			return LiquidationOpportunity{}, ErrInsufficientBalance
		}
	}

	// Phase two: settle. Once dispatched the attempt runs to completion.
	hash, err := s.executor.Submit(context.WithoutCancel(ctx), Operation{
		Account: s.liquidator,
		Type:    OpLiquidate,
		AssetID: opp.DebtAsset,
		Amount:  opp.YouPay,
	})
	if err != nil {
		return LiquidationOpportunity{}, externalErr("liquidation settlement", err)
	}

	s.mu.Lock()
	delete(s.open, account)
	delete(s.byID, opp.ID)
	s.executed++
	s.profit = s.profit.Add(opp.Profit)
	s.mu.Unlock()

	profitFloat, _ := opp.Profit.Float64()
	s.metrics.ObserveLiquidation(profitFloat)
	s.emitter.Emit(events.LendingLiquidationExecuted{
		OpportunityID: opp.ID,
		Borrower:      account,
		Liquidator:    s.liquidator,
		Profit:        opp.Profit,
		Hash:          hash,
	})
	s.logger.Info("liquidation executed",
		"component", "scanner",
		"borrower", account,
		"profit", opp.Profit.String(),
	)
	return opp, nil
}

// Run re-scans on the given cadence until the context ends.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil {
				s.logger.Error("scan failed", "component", "scanner", "error", err)
			}
		}
	}
}

func (s *Scanner) fetchRegistry(ctx context.Context) (*Registry, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	markets, err := s.markets.Markets(fetchCtx)
	if err != nil {
		return nil, fetchErr("market snapshot", err)
	}
	registry, err := NewRegistry(markets)
	if err != nil {
		return nil, externalErr("market snapshot", err)
	}
	return registry, nil
}

func (s *Scanner) drop(account string) {
	s.mu.Lock()
	if opp, ok := s.open[account]; ok {
		delete(s.open, account)
		delete(s.byID, opp.ID)
	}
	s.mu.Unlock()
}

// priceOpportunity derives the discounted payoff for a borrower's position
// set at the registry's current prices. Reports false when the borrower has
// no priceable collateral or debt.
func priceOpportunity(positions []Position, registry *Registry) (LiquidationOpportunity, bool) {
	collateralAsset, collateralAmount, collateralValue := largestCollateral(positions, registry)
	debtAsset := largestDebt(positions, registry)
	if collateralAsset == "" || debtAsset == "" {
		return LiquidationOpportunity{}, false
	}
	youPay := collateralValue.Mul(oneDec.Sub(liquidationDiscount))
	return LiquidationOpportunity{
		CollateralAsset:    collateralAsset,
		DebtAsset:          debtAsset,
		CollateralAmount:   collateralAmount,
		CollateralValueUSD: collateralValue,
		YouPay:             youPay,
		YouReceive:         collateralValue,
		Profit:             collateralValue.Sub(youPay),
	}, true
}

// largestCollateral picks the borrower's most valuable collateral position.
func largestCollateral(positions []Position, registry *Registry) (assetID string, amount, valueUSD decimal.Decimal) {
	amount = decimal.Zero
	valueUSD = decimal.Zero
	for _, pos := range positions {
		if !pos.IsCollateral || !pos.Supplied.IsPositive() {
			continue
		}
		market, err := registry.Get(pos.AssetID)
		if err != nil {
			continue
		}
		value := pos.Supplied.Mul(market.Asset.Price)
		if value.GreaterThan(valueUSD) {
			assetID = pos.AssetID
			amount = pos.Supplied
			valueUSD = value
		}
	}
	return assetID, amount, valueUSD
}

// largestDebt picks the borrower's most valuable debt position.
func largestDebt(positions []Position, registry *Registry) string {
	assetID := ""
	best := decimal.Zero
	for _, pos := range positions {
		if !pos.Borrowed.IsPositive() {
			continue
		}
		market, err := registry.Get(pos.AssetID)
		if err != nil {
			continue
		}
		value := pos.Borrowed.Mul(market.Asset.Price)
		if value.GreaterThan(best) {
			assetID = pos.AssetID
			best = value
		}
	}
	return assetID
}

func fetchErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	}
	return externalErr(op, err)
}
