package lending

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount rejects non-positive operation amounts before any
	// state is read.
	ErrInvalidAmount = errors.New("lending engine: amount must be positive")
	// ErrInsufficientBalance rejects withdrawals exceeding the tracked
	// supplied balance.
	ErrInsufficientBalance = errors.New("lending engine: insufficient balance")
	// ErrInsufficientCollateral rejects borrows exceeding the
	// collateral-factor weighted borrowing power.
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	// ErrLiquidationRisk rejects withdrawals and collateral toggles whose
	// simulated health status is danger.
	ErrLiquidationRisk = errors.New("lending engine: operation would put position at liquidation risk")
	// ErrNoOutstandingLoan rejects repayments when the account carries no
	// debt for the asset.
	ErrNoOutstandingLoan = errors.New("lending engine: no outstanding loan to repay")
	// ErrNoPosition rejects collateral toggles on assets the account holds
	// no position in.
	ErrNoPosition = errors.New("lending engine: no position for asset")
	// ErrStillHealthy rejects liquidation attempts against positions no
	// longer below the liquidation threshold.
	ErrStillHealthy = errors.New("lending engine: borrower not eligible for liquidation")
	// ErrMarketNotFound indicates the registry holds no market for the
	// requested asset.
	ErrMarketNotFound = errors.New("lending engine: market not found")
	// ErrOpportunityNotFound indicates no open liquidation opportunity
	// matches the requested id.
	ErrOpportunityNotFound = errors.New("lending engine: liquidation opportunity not found")
	// ErrTimeout indicates an external fetch exceeded its deadline.
	ErrTimeout = errors.New("lending engine: external fetch timed out")
	// ErrOperationCanceled indicates a queued operation was canceled before
	// settlement was dispatched.
	ErrOperationCanceled = errors.New("lending engine: operation canceled before settlement")
)

// ExternalError wraps a failure from an external collaborator (oracle,
// settlement layer, borrower enumeration) while preserving the cause for
// diagnostics.
type ExternalError struct {
	Op    string
	Cause error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("lending engine: external %s failed: %v", e.Op, e.Cause)
}

func (e *ExternalError) Unwrap() error { return e.Cause }

func externalErr(op string, cause error) error {
	return &ExternalError{Op: op, Cause: cause}
}
