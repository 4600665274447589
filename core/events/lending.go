package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// TypeLendingTransactionPending is emitted when an operation passes
	// validation and enters settlement.
	TypeLendingTransactionPending = "lending.transaction.pending"
	// TypeLendingTransactionSettled is emitted when settlement confirms and
	// the ledger mutation commits.
	TypeLendingTransactionSettled = "lending.transaction.settled"
	// TypeLendingTransactionFailed is emitted when settlement fails or the
	// post-settlement re-validation rejects the mutation.
	TypeLendingTransactionFailed = "lending.transaction.failed"
	// TypeLendingLiquidationDetected is emitted when a scan finds a borrower
	// below the liquidation cutoff.
	TypeLendingLiquidationDetected = "lending.liquidation.detected"
	// TypeLendingLiquidationExecuted is emitted when a detected opportunity
	// is successfully acted on.
	TypeLendingLiquidationExecuted = "lending.liquidation.executed"
)

// LendingTransactionPending captures a validated operation awaiting
// settlement.
type LendingTransactionPending struct {
	TxID    string
	Account string
	Op      string
	AssetID string
	Amount  decimal.Decimal
}

// EventType implements the Event interface.
func (LendingTransactionPending) EventType() string { return TypeLendingTransactionPending }

// LendingTransactionSettled captures a committed operation.
type LendingTransactionSettled struct {
	TxID    string
	Account string
	Op      string
	AssetID string
	Amount  decimal.Decimal
	Hash    string
}

// EventType implements the Event interface.
func (LendingTransactionSettled) EventType() string { return TypeLendingTransactionSettled }

// LendingTransactionFailed captures a terminal settlement or commit failure.
type LendingTransactionFailed struct {
	TxID    string
	Account string
	Op      string
	AssetID string
	Reason  string
}

// EventType implements the Event interface.
func (LendingTransactionFailed) EventType() string { return TypeLendingTransactionFailed }

// LendingLiquidationDetected captures a borrower found below the liquidation
// cutoff during a scan.
type LendingLiquidationDetected struct {
	OpportunityID string
	Borrower      string
	Profit        decimal.Decimal
	DetectedAt    time.Time
}

// EventType implements the Event interface.
func (LendingLiquidationDetected) EventType() string { return TypeLendingLiquidationDetected }

// LendingLiquidationExecuted captures a completed liquidation.
type LendingLiquidationExecuted struct {
	OpportunityID string
	Borrower      string
	Liquidator    string
	Profit        decimal.Decimal
	Hash          string
}

// EventType implements the Event interface.
func (LendingLiquidationExecuted) EventType() string { return TypeLendingLiquidationExecuted }
