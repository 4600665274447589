// Package storage provides the persistence backends for the lending
// transaction log. A bbolt file store backs the daemon; an in-memory store
// backs tests and ephemeral sessions. Both satisfy lending.TxStore.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"

	"polkalend/native/lending"
)

var (
	bucketTransactions = []byte("transactions")
	bucketByID         = []byte("transactions_by_id")
)

// BoltTxLog is an append-only transaction log persisted in a bbolt file.
// Records are keyed by insertion sequence so listing newest-first is a
// reverse cursor walk.
type BoltTxLog struct {
	db *bolt.DB
}

// OpenBoltTxLog opens (or creates) the log file at path.
func OpenBoltTxLog(path string) (*BoltTxLog, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open transaction log: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTransactions); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketByID)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init transaction log: %w", err)
	}
	return &BoltTxLog{db: db}, nil
}

// Append stores a new transaction record at the next sequence number.
func (l *BoltTxLog) Append(record lending.Transaction) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTransactions)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := bucket.Put(key, payload); err != nil {
			return err
		}
		return tx.Bucket(bucketByID).Put([]byte(record.ID), key)
	})
}

// Update rewrites the record in place, keyed by its id. The log stays
// append-only in sequence: updates only flip lifecycle status and metadata.
func (l *BoltTxLog) Update(record lending.Transaction) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketByID).Get([]byte(record.ID))
		if key == nil {
			return fmt.Errorf("transaction %s not found", record.ID)
		}
		return tx.Bucket(bucketTransactions).Put(key, payload)
	})
}

// List returns every record newest first.
func (l *BoltTxLog) List() ([]lending.Transaction, error) {
	var out []lending.Transaction
	err := l.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketTransactions).Cursor()
		for key, value := cursor.Last(); key != nil; key, value = cursor.Prev() {
			var record lending.Transaction
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("decode transaction: %w", err)
			}
			out = append(out, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying file.
func (l *BoltTxLog) Close() error { return l.db.Close() }

// MemTxLog is the in-memory counterpart used by tests.
type MemTxLog struct {
	mu      sync.RWMutex
	seq     uint64
	order   map[string]uint64
	records map[string]lending.Transaction
}

// NewMemTxLog creates an empty in-memory log.
func NewMemTxLog() *MemTxLog {
	return &MemTxLog{
		order:   make(map[string]uint64),
		records: make(map[string]lending.Transaction),
	}
}

// Append stores a new record.
func (l *MemTxLog) Append(record lending.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.order[record.ID] = l.seq
	l.records[record.ID] = record
	return nil
}

// Update rewrites an existing record.
func (l *MemTxLog) Update(record lending.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[record.ID]; !ok {
		return fmt.Errorf("transaction %s not found", record.ID)
	}
	l.records[record.ID] = record
	return nil
}

// List returns every record newest first.
func (l *MemTxLog) List() ([]lending.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]lending.Transaction, 0, len(l.records))
	for _, record := range l.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		return l.order[out[i].ID] > l.order[out[j].ID]
	})
	return out, nil
}

// Close is a no-op for the in-memory log.
func (l *MemTxLog) Close() error { return nil }
