package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Monetary aggregation requires at least 18 significant digits so the
	// collateral and debt terms do not compound rounding error.
	if decimal.DivisionPrecision < 28 {
		decimal.DivisionPrecision = 28
	}
}

// Asset describes a listed token. Price is a point-in-time snapshot supplied
// by the market source and is never written by the engine.
type Asset struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Decimals     uint8           `json:"decimals"`
	Price        decimal.Decimal `json:"price"`
	IsStablecoin bool            `json:"isStablecoin"`
}

// Market couples an asset with its governance controlled risk parameters and
// pool level accounting. CollateralFactor bounds borrowing power while
// LiquidationThreshold bounds solvency; the two weightings are deliberately
// distinct and LiquidationThreshold is always the greater.
type Market struct {
	Asset                Asset           `json:"asset"`
	CollateralFactor     decimal.Decimal `json:"collateralFactor"`
	LiquidationThreshold decimal.Decimal `json:"liquidationThreshold"`
	SupplyAPY            decimal.Decimal `json:"supplyAPY"`
	BorrowAPY            decimal.Decimal `json:"borrowAPY"`
	TotalSupplied        decimal.Decimal `json:"totalSupplied"`
	TotalBorrowed        decimal.Decimal `json:"totalBorrowed"`
}

// Available returns the pool liquidity still open to borrowers.
func (m Market) Available() decimal.Decimal {
	return m.TotalSupplied.Sub(m.TotalBorrowed)
}

// Position tracks one account's supplied and borrowed amounts for a single
// asset. A position exists while either balance is non-zero.
type Position struct {
	AssetID      string          `json:"assetId"`
	Supplied     decimal.Decimal `json:"supplied"`
	Borrowed     decimal.Decimal `json:"borrowed"`
	IsCollateral bool            `json:"isCollateral"`
}

func (p Position) empty() bool {
	return p.Supplied.IsZero() && p.Borrowed.IsZero()
}

// OpType enumerates the ledger mutating operations.
type OpType string

const (
	OpDeposit          OpType = "deposit"
	OpWithdraw         OpType = "withdraw"
	OpBorrow           OpType = "borrow"
	OpRepay            OpType = "repay"
	OpToggleCollateral OpType = "toggleCollateral"
	OpLiquidate        OpType = "liquidate"
)

// Operation is a requested ledger mutation prior to validation. Amount is
// ignored for collateral toggles.
type Operation struct {
	Account string          `json:"account"`
	Type    OpType          `json:"type"`
	AssetID string          `json:"assetId"`
	Amount  decimal.Decimal `json:"amount"`
}

// TxStatus tracks the settlement lifecycle of a transaction record.
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxError   TxStatus = "error"
)

// Transaction is an append-only record of a submitted operation. Created in
// pending and transitioned exactly once to success or error.
type Transaction struct {
	ID        string          `json:"id"`
	Type      OpType          `json:"type"`
	Account   string          `json:"account"`
	AssetID   string          `json:"assetId"`
	Amount    decimal.Decimal `json:"amount"`
	Status    TxStatus        `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Hash      string          `json:"hash,omitempty"`
	// Cause carries the failure reason when Status is error.
	Cause string `json:"cause,omitempty"`
}

// TxStore persists the append-only transaction log. Implementations live in
// the storage package; List returns records newest first.
type TxStore interface {
	Append(tx Transaction) error
	Update(tx Transaction) error
	List() ([]Transaction, error)
	Close() error
}

// LiquidationOpportunity is an ephemeral record of an under-collateralized
// borrower detected by the scanner. Recomputed each scan and removed once the
// position recovers or its debt clears.
type LiquidationOpportunity struct {
	ID                 string          `json:"id"`
	Borrower           string          `json:"borrower"`
	Health             HealthFactor    `json:"healthRatio"`
	CollateralAsset    string          `json:"collateralAsset"`
	DebtAsset          string          `json:"debtAsset"`
	CollateralAmount   decimal.Decimal `json:"collateralAmount"`
	CollateralValueUSD decimal.Decimal `json:"collateralValueUSD"`
	YouPay             decimal.Decimal `json:"youPay"`
	YouReceive         decimal.Decimal `json:"youReceive"`
	Profit             decimal.Decimal `json:"profit"`
	LastUpdated        time.Time       `json:"lastUpdated"`
}
