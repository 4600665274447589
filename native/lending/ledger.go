package lending

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Ledger holds one account's positions. It is exclusively owned by its
// account; callers serialize mutation per account one layer up, in the
// orchestrator. All transitions either apply fully or leave the ledger
// untouched.
type Ledger struct {
	account   string
	positions map[string]Position
}

// NewLedger creates an empty ledger for the account.
func NewLedger(account string) *Ledger {
	return &Ledger{account: account, positions: make(map[string]Position)}
}

// NewLedgerFromPositions seeds a ledger from an externally fetched position
// set, dropping entries with both balances at zero.
func NewLedgerFromPositions(account string, positions []Position) *Ledger {
	l := NewLedger(account)
	for _, pos := range positions {
		if pos.empty() {
			continue
		}
		l.positions[pos.AssetID] = pos
	}
	return l
}

// Account returns the owning account identifier.
func (l *Ledger) Account() string { return l.account }

// Position returns the tracked position for the asset, if any.
func (l *Ledger) Position(assetID string) (Position, bool) {
	pos, ok := l.positions[assetID]
	return pos, ok
}

// Positions returns a copy of every position ordered by asset id.
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Clone returns an independent copy used for validation dry runs and
// simulation previews.
func (l *Ledger) Clone() *Ledger {
	clone := NewLedger(l.account)
	for id, pos := range l.positions {
		clone.positions[id] = pos
	}
	return clone
}

// Apply validates the operation against the ledger's current state and the
// registry, then mutates the ledger. The same code path runs for the
// validation dry run (on a clone) and for the post-settlement commit, so the
// commit always re-checks against current state.
func (l *Ledger) Apply(op Operation, registry *Registry) error {
	switch op.Type {
	case OpDeposit:
		return l.deposit(op.AssetID, op.Amount, registry)
	case OpWithdraw:
		return l.withdraw(op.AssetID, op.Amount, registry)
	case OpBorrow:
		return l.borrow(op.AssetID, op.Amount, registry)
	case OpRepay:
		return l.repay(op.AssetID, op.Amount)
	case OpToggleCollateral:
		return l.toggleCollateral(op.AssetID, registry)
	default:
		return ErrInvalidAmount
	}
}

func (l *Ledger) deposit(assetID string, amount decimal.Decimal, registry *Registry) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if _, err := registry.Get(assetID); err != nil {
		return err
	}
	pos := l.positions[assetID]
	pos.AssetID = assetID
	pos.Supplied = pos.Supplied.Add(amount)
	// Depositing opts the asset into collateral use.
	pos.IsCollateral = true
	l.positions[assetID] = pos
	return nil
}

func (l *Ledger) withdraw(assetID string, amount decimal.Decimal, registry *Registry) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	pos, ok := l.positions[assetID]
	if !ok || pos.Supplied.LessThan(amount) {
		return ErrInsufficientBalance
	}
	projected := SimulateHealth(l.Positions(), registry, Delta{
		AssetID:  assetID,
		Supplied: amount.Neg(),
	})
	if projected.Status() == StatusDanger {
		return ErrLiquidationRisk
	}
	pos.Supplied = pos.Supplied.Sub(amount)
	l.store(assetID, pos)
	return nil
}

func (l *Ledger) borrow(assetID string, amount decimal.Decimal, registry *Registry) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	market, err := registry.Get(assetID)
	if err != nil {
		return err
	}
	borrowValue := amount.Mul(market.Asset.Price)
	if borrowValue.GreaterThan(MaxBorrowable(l.Positions(), registry)) {
		return ErrInsufficientCollateral
	}
	pos := l.positions[assetID]
	pos.AssetID = assetID
	pos.Borrowed = pos.Borrowed.Add(amount)
	l.positions[assetID] = pos
	return nil
}

func (l *Ledger) repay(assetID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	pos, ok := l.positions[assetID]
	if !ok || !pos.Borrowed.IsPositive() {
		return ErrNoOutstandingLoan
	}
	// Repay clamps to the outstanding debt rather than rejecting overpayment.
	effective := decimal.Min(amount, pos.Borrowed)
	pos.Borrowed = pos.Borrowed.Sub(effective)
	l.store(assetID, pos)
	return nil
}

func (l *Ledger) toggleCollateral(assetID string, registry *Registry) error {
	pos, ok := l.positions[assetID]
	if !ok {
		return ErrNoPosition
	}
	if pos.IsCollateral {
		disabled := false
		projected := SimulateHealth(l.Positions(), registry, Delta{
			AssetID:       assetID,
			SetCollateral: &disabled,
		})
		if projected.Status() == StatusDanger {
			return ErrLiquidationRisk
		}
	}
	pos.IsCollateral = !pos.IsCollateral
	l.positions[assetID] = pos
	return nil
}

// store writes the position back, dropping it once both balances are zero.
func (l *Ledger) store(assetID string, pos Position) {
	if pos.empty() {
		delete(l.positions, assetID)
		return
	}
	l.positions[assetID] = pos
}
