package lending

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polkalend/core/events"
	"polkalend/observability/metrics"
)

// Orchestrator validates requested operations, drives them through
// settlement and commits the resulting ledger mutations. Operations against
// the same account are serialized: a request queues behind any in-flight
// settlement for that account, so validation never runs against a snapshot
// that a pending operation is about to invalidate.
type Orchestrator struct {
	executor SettlementExecutor
	store    TxStore
	emitter  events.Emitter
	logger   *slog.Logger
	metrics  *metrics.LendingMetrics

	mu       sync.RWMutex
	registry *Registry
	ledgers  map[string]*Ledger
	slots    map[string]chan struct{}
}

// OrchestratorOption customizes orchestrator construction.
type OrchestratorOption func(*Orchestrator)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEmitter attaches an event emitter for transaction lifecycle fan-out.
func WithEmitter(emitter events.Emitter) OrchestratorOption {
	return func(o *Orchestrator) {
		if emitter != nil {
			o.emitter = emitter
		}
	}
}

// WithMetrics attaches the lending metrics collector.
func WithMetrics(m *metrics.LendingMetrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires the orchestrator to its collaborators. The registry,
// executor and transaction store are required; events and metrics default to
// no-ops.
func NewOrchestrator(registry *Registry, executor SettlementExecutor, store TxStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		executor: executor,
		store:    store,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		registry: registry,
		ledgers:  make(map[string]*Ledger),
		slots:    make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetRegistry swaps in a fresh market snapshot. In-flight operations keep the
// registry they validated against.
func (o *Orchestrator) SetRegistry(registry *Registry) {
	if registry == nil {
		return
	}
	o.mu.Lock()
	o.registry = registry
	o.mu.Unlock()
}

// Registry returns the current market snapshot.
func (o *Orchestrator) Registry() *Registry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.registry
}

// Positions returns the account's current position set.
func (o *Orchestrator) Positions(account string) []Position {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ledger, ok := o.ledgers[account]
	if !ok {
		return nil
	}
	return ledger.Positions()
}

// Borrowers lists the accounts currently carrying debt, ordered by account
// id.
func (o *Orchestrator) Borrowers() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []string
	for account, ledger := range o.ledgers {
		for _, pos := range ledger.Positions() {
			if pos.Borrowed.IsPositive() {
				out = append(out, account)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Health computes the account's current health factor.
func (o *Orchestrator) Health(account string) HealthFactor {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ledger, ok := o.ledgers[account]
	if !ok {
		return HealthFactor{Kind: HealthEmpty}
	}
	return ComputeHealth(ledger.Positions(), o.registry)
}

// Preview returns the account's health before and after the hypothetical
// operation without touching the ledger. Used to render live previews and to
// surface the gating outcome ahead of submission.
func (o *Orchestrator) Preview(op Operation) (before, after HealthFactor, err error) {
	o.mu.RLock()
	registry := o.registry
	var positions []Position
	if ledger, ok := o.ledgers[op.Account]; ok {
		positions = ledger.Positions()
	}
	o.mu.RUnlock()

	before = ComputeHealth(positions, registry)
	delta, err := o.previewDelta(positions, registry, op)
	if err != nil {
		return before, before, err
	}
	after = SimulateHealth(positions, registry, delta)
	return before, after, nil
}

func (o *Orchestrator) previewDelta(positions []Position, registry *Registry, op Operation) (Delta, error) {
	switch op.Type {
	case OpDeposit:
		return Delta{AssetID: op.AssetID, Supplied: op.Amount}, nil
	case OpWithdraw:
		return Delta{AssetID: op.AssetID, Supplied: op.Amount.Neg()}, nil
	case OpBorrow:
		return Delta{AssetID: op.AssetID, Borrowed: op.Amount}, nil
	case OpRepay:
		return Delta{AssetID: op.AssetID, Borrowed: op.Amount.Neg()}, nil
	case OpToggleCollateral:
		for _, pos := range positions {
			if pos.AssetID == op.AssetID {
				flipped := !pos.IsCollateral
				return Delta{AssetID: op.AssetID, SetCollateral: &flipped}, nil
			}
		}
		return Delta{}, ErrNoPosition
	default:
		return Delta{}, ErrInvalidAmount
	}
}

// Transactions returns the append-only log, newest first.
func (o *Orchestrator) Transactions() ([]Transaction, error) {
	return o.store.List()
}

// Submit runs the full operation pipeline: acquire the account slot, validate
// against the ledger's current state, record a pending transaction, settle,
// then re-validate and commit. The context can cancel the operation only
// while it waits for the account slot; once settlement is dispatched the
// operation runs to its terminal status.
func (o *Orchestrator) Submit(ctx context.Context, op Operation) (Transaction, error) {
	release, err := o.acquire(ctx, op.Account)
	if err != nil {
		return Transaction{}, err
	}
	defer release()

	ledger := o.ensureLedger(op.Account)
	o.mu.RLock()
	registry := o.registry
	dryRun := ledger.Clone()
	o.mu.RUnlock()

	// Validation dry run on a clone; rejections surface synchronously and
	// leave both ledger and log untouched.
	if err := dryRun.Apply(op, registry); err != nil {
		o.metrics.ObserveRejection(rejectionReason(err))
		return Transaction{}, err
	}

	tx := Transaction{
		ID:        uuid.NewString(),
		Type:      op.Type,
		Account:   op.Account,
		AssetID:   op.AssetID,
		Amount:    op.Amount,
		Status:    TxPending,
		Timestamp: time.Now().UTC(),
	}
	if err := o.store.Append(tx); err != nil {
		return Transaction{}, externalErr("transaction log", err)
	}
	o.emitter.Emit(events.LendingTransactionPending{
		TxID:    tx.ID,
		Account: op.Account,
		Op:      string(op.Type),
		AssetID: op.AssetID,
		Amount:  op.Amount,
	})
	o.logger.Info("operation pending",
		"component", "orchestrator",
		"tx", tx.ID,
		"op", string(op.Type),
		"asset", op.AssetID,
	)

	// Settlement must run to completion once dispatched; detach it from the
	// caller's cancellation.
	hash, settleErr := o.executor.Submit(context.WithoutCancel(ctx), op)
	if settleErr != nil {
		return o.fail(tx, externalErr("settlement", settleErr))
	}

	// Commit re-applies against the live ledger, re-checking every invariant
	// against state as it stands now.
	if err := o.commit(ledger, op); err != nil {
		return o.fail(tx, err)
	}

	tx.Status = TxSuccess
	tx.Hash = hash
	if err := o.store.Update(tx); err != nil {
		o.logger.Error("transaction log update failed", "tx", tx.ID, "error", err)
	}
	o.emitter.Emit(events.LendingTransactionSettled{
		TxID:    tx.ID,
		Account: op.Account,
		Op:      string(op.Type),
		AssetID: op.AssetID,
		Amount:  op.Amount,
		Hash:    hash,
	})
	o.metrics.ObserveOperation(string(op.Type), string(TxSuccess))
	return tx, nil
}

// fail flips the transaction to its terminal error status. The ledger has not
// been mutated on any path reaching here.
func (o *Orchestrator) fail(tx Transaction, cause error) (Transaction, error) {
	tx.Status = TxError
	tx.Cause = cause.Error()
	if err := o.store.Update(tx); err != nil {
		o.logger.Error("transaction log update failed", "tx", tx.ID, "error", err)
	}
	o.emitter.Emit(events.LendingTransactionFailed{
		TxID:    tx.ID,
		Account: tx.Account,
		Op:      string(tx.Type),
		AssetID: tx.AssetID,
		Reason:  cause.Error(),
	})
	o.metrics.ObserveOperation(string(tx.Type), string(TxError))
	o.logger.Warn("operation failed",
		"component", "orchestrator",
		"tx", tx.ID,
		"reason", cause.Error(),
	)
	return tx, cause
}

// commit mutates the live ledger under the struct lock so concurrent readers
// never observe a half-applied position.
func (o *Orchestrator) commit(ledger *Ledger, op Operation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return ledger.Apply(op, o.registry)
}

func (o *Orchestrator) ensureLedger(account string) *Ledger {
	o.mu.Lock()
	defer o.mu.Unlock()
	ledger, ok := o.ledgers[account]
	if !ok {
		ledger = NewLedger(account)
		o.ledgers[account] = ledger
	}
	return ledger
}

// acquire claims the account's serialization slot, honouring cancellation
// while queued.
func (o *Orchestrator) acquire(ctx context.Context, account string) (func(), error) {
	o.mu.Lock()
	slot, ok := o.slots[account]
	if !ok {
		slot = make(chan struct{}, 1)
		o.slots[account] = slot
	}
	o.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, errors.Join(ErrOperationCanceled, ctx.Err())
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrLiquidationRisk):
		return "liquidation_risk"
	case errors.Is(err, ErrNoOutstandingLoan):
		return "no_outstanding_loan"
	case errors.Is(err, ErrNoPosition):
		return "no_position"
	case errors.Is(err, ErrMarketNotFound):
		return "market_not_found"
	default:
		return "other"
	}
}

// MaxRepayable returns the outstanding debt the account can still repay for
// the asset, clamped at zero.
func (o *Orchestrator) MaxRepayable(account, assetID string) decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ledger, ok := o.ledgers[account]
	if !ok {
		return decimal.Zero
	}
	pos, ok := ledger.Position(assetID)
	if !ok || !pos.Borrowed.IsPositive() {
		return decimal.Zero
	}
	return pos.Borrowed
}

// MaxBorrowableValue returns the account's remaining USD borrowing power.
func (o *Orchestrator) MaxBorrowableValue(account string) decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ledger, ok := o.ledgers[account]
	if !ok {
		return decimal.Zero
	}
	return MaxBorrowable(ledger.Positions(), o.registry)
}
