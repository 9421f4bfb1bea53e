// Package store persists payment transaction records to a local sqlite
// database guarded by a file lock, so concurrent CLI invocations do not
// clobber each other's writes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

type Record struct {
	PaymentID string          `json:"payment_id"`
	Intent    string          `json:"intent"`
	Status    string          `json:"status"`
	ChainID   int64           `json:"chain_id"`
	TxHash    string          `json:"tx_hash,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
	Payload   json.RawMessage `json:"payload"`
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create payment store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create payment lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open payment sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS payments (
			payment_id TEXT PRIMARY KEY,
			intent TEXT NOT NULL,
			status TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			tx_hash TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_payments_status_updated ON payments(status, updated_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_payments_tx_hash ON payments(tx_hash);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init payment schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(record Record) error {
	if strings.TrimSpace(record.PaymentID) == "" {
		return fmt.Errorf("save payment: missing payment id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock payment store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock payment store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	createdUnix, _ := parseRFC3339Unix(record.CreatedAt)
	updatedUnix, _ := parseRFC3339Unix(record.UpdatedAt)
	if createdUnix == 0 {
		createdUnix = time.Now().UTC().Unix()
	}
	if updatedUnix == 0 {
		updatedUnix = time.Now().UTC().Unix()
	}

	_, err = s.db.Exec(`
		INSERT INTO payments (payment_id, intent, status, chain_id, tx_hash, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payment_id) DO UPDATE SET
			intent=excluded.intent,
			status=excluded.status,
			chain_id=excluded.chain_id,
			tx_hash=excluded.tx_hash,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, record.PaymentID, record.Intent, record.Status, record.ChainID, record.TxHash, createdUnix, updatedUnix, []byte(record.Payload))
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}

func (s *Store) Get(paymentID string) (Record, error) {
	return s.queryOne("SELECT payment_id, intent, status, chain_id, tx_hash, created_at, updated_at, payload FROM payments WHERE payment_id = ?", paymentID)
}

func (s *Store) FindByTxHash(txHash string) (Record, error) {
	return s.queryOne("SELECT payment_id, intent, status, chain_id, tx_hash, created_at, updated_at, payload FROM payments WHERE tx_hash = ? ORDER BY updated_at DESC LIMIT 1", txHash)
}

func (s *Store) queryOne(query, arg string) (Record, error) {
	var record Record
	var createdUnix, updatedUnix int64
	var txHash sql.NullString
	err := s.db.QueryRow(query, arg).Scan(
		&record.PaymentID, &record.Intent, &record.Status, &record.ChainID,
		&txHash, &createdUnix, &updatedUnix, (*[]byte)(&record.Payload),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("payment not found: %s", arg)
		}
		return Record{}, fmt.Errorf("read payment: %w", err)
	}
	record.TxHash = txHash.String
	record.CreatedAt = time.Unix(createdUnix, 0).UTC().Format(time.RFC3339)
	record.UpdatedAt = time.Unix(updatedUnix, 0).UTC().Format(time.RFC3339)
	return record, nil
}

func (s *Store) List(status string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = s.db.Query("SELECT payment_id, intent, status, chain_id, tx_hash, created_at, updated_at, payload FROM payments ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query("SELECT payment_id, intent, status, chain_id, tx_hash, created_at, updated_at, payload FROM payments WHERE status = ? ORDER BY updated_at DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var record Record
		var createdUnix, updatedUnix int64
		var txHash sql.NullString
		if err := rows.Scan(&record.PaymentID, &record.Intent, &record.Status, &record.ChainID, &txHash, &createdUnix, &updatedUnix, (*[]byte)(&record.Payload)); err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		record.TxHash = txHash.String
		record.CreatedAt = time.Unix(createdUnix, 0).UTC().Format(time.RFC3339)
		record.UpdatedAt = time.Unix(updatedUnix, 0).UTC().Format(time.RFC3339)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return records, nil
}

func parseRFC3339Unix(v string) (int64, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}
