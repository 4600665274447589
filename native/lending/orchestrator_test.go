package lending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memTxLog is an in-package stand-in for the storage implementations.
type memTxLog struct {
	mu      sync.Mutex
	records []Transaction
}

func (l *memTxLog) Append(tx Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, tx)
	return nil
}

func (l *memTxLog) Update(tx Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.records {
		if l.records[i].ID == tx.ID {
			l.records[i] = tx
			return nil
		}
	}
	return errors.New("not found")
}

func (l *memTxLog) List() ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transaction, 0, len(l.records))
	for i := len(l.records) - 1; i >= 0; i-- {
		out = append(out, l.records[i])
	}
	return out, nil
}

func (l *memTxLog) Close() error { return nil }

type stubExecutor struct {
	mu    sync.Mutex
	hash  string
	err   error
	delay time.Duration
	calls int
}

func (e *stubExecutor) Submit(ctx context.Context, _ Operation) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.delay):
		}
	}
	if e.err != nil {
		return "", e.err
	}
	if e.hash == "" {
		return "0xstub", nil
	}
	return e.hash, nil
}

func newTestOrchestrator(t *testing.T, executor SettlementExecutor) (*Orchestrator, *memTxLog) {
	t.Helper()
	store := &memTxLog{}
	return NewOrchestrator(testRegistry(t), executor, store), store
}

func TestSubmitSettlesAndCommits(t *testing.T) {
	orc, store := newTestOrchestrator(t, &stubExecutor{hash: "0xabc"})

	tx, err := orc.Submit(context.Background(), Operation{
		Account: "alice", Type: OpDeposit, AssetID: "dot", Amount: dec(t, "100"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tx.Status != TxSuccess || tx.Hash != "0xabc" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	positions := orc.Positions("alice")
	if len(positions) != 1 || !positions[0].Supplied.Equal(dec(t, "100")) {
		t.Fatalf("ledger not committed: %+v", positions)
	}

	records, _ := store.List()
	if len(records) != 1 || records[0].Status != TxSuccess {
		t.Fatalf("unexpected log: %+v", records)
	}
}

func TestSubmitValidationRejectionLeavesNoRecord(t *testing.T) {
	executor := &stubExecutor{}
	orc, store := newTestOrchestrator(t, executor)

	_, err := orc.Submit(context.Background(), Operation{
		Account: "alice", Type: OpWithdraw, AssetID: "dot", Amount: dec(t, "10"),
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if executor.calls != 0 {
		t.Fatalf("settlement dispatched for rejected operation")
	}
	if records, _ := store.List(); len(records) != 0 {
		t.Fatalf("rejected operation recorded: %+v", records)
	}
}

func TestSubmitSettlementFailureLeavesLedgerUntouched(t *testing.T) {
	settleErr := errors.New("chain unreachable")
	orc, store := newTestOrchestrator(t, &stubExecutor{err: settleErr})

	tx, err := orc.Submit(context.Background(), Operation{
		Account: "alice", Type: OpDeposit, AssetID: "dot", Amount: dec(t, "100"),
	})
	if err == nil || !errors.Is(err, settleErr) {
		t.Fatalf("expected wrapped settlement error, got %v", err)
	}
	var external *ExternalError
	if !errors.As(err, &external) {
		t.Fatalf("expected ExternalError, got %T", err)
	}
	if tx.Status != TxError || tx.Cause == "" {
		t.Fatalf("unexpected terminal transaction: %+v", tx)
	}
	if positions := orc.Positions("alice"); len(positions) != 0 {
		t.Fatalf("failed settlement mutated the ledger: %+v", positions)
	}
	records, _ := store.List()
	if len(records) != 1 || records[0].Status != TxError {
		t.Fatalf("unexpected log: %+v", records)
	}
}

func TestSubmitSerializesAccountOperations(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &stubExecutor{delay: 20 * time.Millisecond})

	if _, err := orc.Submit(context.Background(), Operation{
		Account: "alice", Type: OpDeposit, AssetID: "dot", Amount: dec(t, "100"),
	}); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	// Borrowing power is 390.75 USD. Two concurrent 300 USD borrows are each
	// individually valid against the seed state; serialized validation must
	// reject exactly one of them.
	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orc.Submit(context.Background(), Operation{
				Account: "alice", Type: OpBorrow, AssetID: "usd", Amount: dec(t, "300"),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var failures int
	for err := range results {
		if err != nil {
			if !errors.Is(err, ErrInsufficientCollateral) {
				t.Fatalf("unexpected rejection: %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one rejected borrow, got %d", failures)
	}
	pos, _ := NewLedgerFromPositions("alice", orc.Positions("alice")).Position("usd")
	if !pos.Borrowed.Equal(dec(t, "300")) {
		t.Fatalf("expected total debt 300, got %s", pos.Borrowed)
	}
}

func TestSubmitCancelWhileQueued(t *testing.T) {
	orc, store := newTestOrchestrator(t, &stubExecutor{delay: 100 * time.Millisecond})

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = orc.Submit(context.Background(), Operation{
			Account: "alice", Type: OpDeposit, AssetID: "dot", Amount: dec(t, "1"),
		})
	}()
	<-started
	time.Sleep(10 * time.Millisecond) // let the first submit claim the slot

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := orc.Submit(ctx, Operation{
		Account: "alice", Type: OpDeposit, AssetID: "dot", Amount: dec(t, "2"),
	})
	if !errors.Is(err, ErrOperationCanceled) {
		t.Fatalf("expected ErrOperationCanceled, got %v", err)
	}

	// Only the first operation may ever reach the log.
	deadline := time.After(time.Second)
	for {
		records, _ := store.List()
		if len(records) == 1 && records[0].Status == TxSuccess {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("first operation never settled: %+v", records)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPreviewReportsBeforeAndAfter(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &stubExecutor{})
	if _, err := orc.Submit(context.Background(), Operation{
		Account: "alice", Type: OpDeposit, AssetID: "dot", Amount: dec(t, "100"),
	}); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	before, after, err := orc.Preview(Operation{
		Account: "alice", Type: OpBorrow, AssetID: "usd", Amount: dec(t, "300"),
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if before.Kind != HealthInfinite {
		t.Fatalf("expected infinite health before, got %s", before.Kind)
	}
	if after.Kind != HealthFinite || after.Status() != StatusWarning {
		t.Fatalf("unexpected simulated health: %+v", after)
	}
	// Preview never touches the ledger.
	if health := orc.Health("alice"); health.Kind != HealthInfinite {
		t.Fatalf("preview mutated state: %+v", health)
	}
}

func TestBorrowersListsDebtors(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &stubExecutor{})
	ctx := context.Background()
	for _, op := range []Operation{
		{Account: "alice", Type: OpDeposit, AssetID: "dot", Amount: dec(t, "100")},
		{Account: "alice", Type: OpBorrow, AssetID: "usd", Amount: dec(t, "50")},
		{Account: "bob", Type: OpDeposit, AssetID: "dot", Amount: dec(t, "10")},
	} {
		if _, err := orc.Submit(ctx, op); err != nil {
			t.Fatalf("seed %s: %v", op.Type, err)
		}
	}
	borrowers := orc.Borrowers()
	if len(borrowers) != 1 || borrowers[0] != "alice" {
		t.Fatalf("unexpected borrowers: %v", borrowers)
	}
}
