package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fulmine-labs/sparks/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	payment_hash TEXT PRIMARY KEY,
	images BYTEA[] NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS results_expires_at_idx ON results(expires_at);
`

func New(dbConnStr string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dbConnStr)
	if err != nil {
		return nil, fmt.Errorf("sqlx.Connect: %w", err)
	}

	// sqlx default is 0 (unlimited), while postgresql by default accepts up to 100 connections
	db.SetMaxOpenConns(80)

	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("db.Exec schema: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an open connection. The schema is assumed to exist.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{
		db:  db,
		now: time.Now,
	}
}

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

type resultRow struct {
	PaymentHash string        `db:"payment_hash"`
	Images      pq.ByteaArray `db:"images"`
	Metadata    []byte        `db:"metadata"`
	CreatedAt   time.Time     `db:"created_at"`
	ExpiresAt   time.Time     `db:"expires_at"`
}

func (s *Store) Put(ctx context.Context, r storage.Result) error {
	if err := storage.ValidateHash(r.PaymentHash); err != nil {
		return err
	}

	meta := r.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	const query = `INSERT INTO results (payment_hash, images, metadata, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (payment_hash) DO UPDATE SET images=EXCLUDED.images, metadata=EXCLUDED.metadata, created_at=EXCLUDED.created_at, expires_at=EXCLUDED.expires_at`

	_, err = s.db.ExecContext(ctx, query, r.PaymentHash, pq.ByteaArray(r.Images), string(metaJSON), r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db.Exec put result: %w", err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, paymentHash string) (*storage.Result, error) {
	const query = "SELECT payment_hash, images, metadata, created_at, expires_at FROM results WHERE payment_hash=$1 AND expires_at > $2;"

	var row resultRow
	if err := s.db.GetContext(ctx, &row, query, paymentHash, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("db.Get result: %w", err)
	}

	r := &storage.Result{
		PaymentHash: row.PaymentHash,
		Images:      [][]byte(row.Images),
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		if len(r.Metadata) == 0 {
			r.Metadata = nil
		}
	}

	return r, nil
}

// Sweep deletes expired results and reports how many rows were removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM results WHERE expires_at <= $1", s.now())
	if err != nil {
		return 0, fmt.Errorf("db.Exec sweep: %w", err)
	}
	return res.RowsAffected()
}
