package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the invoice ledger.
type DB interface {
	CreateInvoice(context.Context, CreateInvoiceRequest) (*Invoice, error)
	GetInvoice(context.Context, string) (*Invoice, error)
	GetInvoiceByHash(context.Context, string) (*Invoice, error)
	ListInvoices(context.Context) ([]Invoice, error)
	MarkSettled(ctx context.Context, paymentHash string, at time.Time) (bool, error)

	DB() *sql.DB
	Close() error
}

// New opens or creates the ledger at dbFile and applies the schema.
func New(dbFile string) (DB, error) {
	if dbFile == "" {
		return nil, fmt.Errorf("must set ledger_db")
	}
	if err := os.MkdirAll(filepath.Dir(dbFile), os.ModePerm); err != nil {
		return nil, fmt.Errorf("ledger dir: %w", err)
	}
	if _, err := os.Stat(dbFile); errors.Is(err, os.ErrNotExist) {
		log.Printf("creating ledger %v\n", dbFile)
	}

	db, err := sql.Open("sqlite3", dsn(dbFile))
	if err != nil {
		return nil, err
	}
	// sqlite only supports a single writer
	db.SetMaxOpenConns(1)

	l := &ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger schema: %w", err)
	}

	return l, nil
}

func dsn(dbFile string) string {
	return "file:" + dbFile + "?_busy_timeout=5000&_journal_mode=WAL"
}

type ledger struct {
	db *sql.DB
}

func (l *ledger) DB() *sql.DB {
	return l.db
}

func (l *ledger) Close() error {
	return l.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS invoices (
		id              TEXT PRIMARY KEY,
		payment_hash    TEXT NOT NULL UNIQUE,
		payment_request TEXT NOT NULL,
		sats            INTEGER NOT NULL CHECK (sats > 0),
		settled         BOOLEAN NOT NULL DEFAULT FALSE,
		provider        TEXT NOT NULL,
		model           TEXT NOT NULL,
		prompt          TEXT NOT NULL,
		num_outputs     INTEGER NOT NULL,
		created_at      DATETIME NOT NULL,
		expires_at      DATETIME NOT NULL,
		settled_at      DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_unsettled ON invoices(expires_at) WHERE settled = FALSE`,
}

func (l *ledger) migrate() error {
	for _, stmt := range migrations {
		if _, err := l.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
