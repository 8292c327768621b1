package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Invoice struct {
	ID             string
	PaymentHash    string
	PaymentRequest string
	Sats           int64
	Settled        bool
	Provider       string
	Model          string
	Prompt         string
	NumOutputs     int
	CreatedAt      time.Time
	ExpiresAt      time.Time
	SettledAt      sql.NullTime
}

type CreateInvoiceRequest struct {
	PaymentHash    string
	PaymentRequest string
	Sats           int64
	Provider       string
	Model          string
	Prompt         string
	NumOutputs     int
	ExpiresAt      time.Time
}

const invoiceColumns = "id, payment_hash, payment_request, sats, settled, provider, model, prompt, num_outputs, created_at, expires_at, settled_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(s scanner) (*Invoice, error) {
	var inv Invoice
	err := s.Scan(&inv.ID, &inv.PaymentHash, &inv.PaymentRequest, &inv.Sats, &inv.Settled, &inv.Provider,
		&inv.Model, &inv.Prompt, &inv.NumOutputs, &inv.CreatedAt, &inv.ExpiresAt, &inv.SettledAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (l *ledger) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	if req.PaymentHash == "" {
		return nil, fmt.Errorf("create invoice: payment hash required")
	}

	stmt, err := l.db.PrepareContext(ctx, "INSERT INTO invoices ("+invoiceColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	invoice := &Invoice{
		ID:             uuid.New().String(),
		PaymentHash:    req.PaymentHash,
		PaymentRequest: req.PaymentRequest,
		Sats:           req.Sats,
		Provider:       req.Provider,
		Model:          req.Model,
		Prompt:         req.Prompt,
		NumOutputs:     req.NumOutputs,
		CreatedAt:      time.Now().UTC(),
		ExpiresAt:      req.ExpiresAt.UTC(),
	}

	if _, err := stmt.ExecContext(ctx, invoice.ID, invoice.PaymentHash, invoice.PaymentRequest, invoice.Sats, invoice.Settled,
		invoice.Provider, invoice.Model, invoice.Prompt, invoice.NumOutputs, invoice.CreatedAt, invoice.ExpiresAt, invoice.SettledAt); err != nil {
		return nil, err
	}

	return invoice, nil
}

// GetInvoice returns nil, nil when no invoice has the id.
func (l *ledger) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id=?", id)

	invoice, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return invoice, nil
}

// GetInvoiceByHash returns nil, nil when no invoice has the payment hash.
func (l *ledger) GetInvoiceByHash(ctx context.Context, paymentHash string) (*Invoice, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE payment_hash=?", paymentHash)

	invoice, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return invoice, nil
}

func (l *ledger) ListInvoices(ctx context.Context) ([]Invoice, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT "+invoiceColumns+" FROM invoices ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice

	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *invoice)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return invoices, nil
}

// MarkSettled records settlement at. It reports false for an invoice that
// was already settled.
func (l *ledger) MarkSettled(ctx context.Context, paymentHash string, at time.Time) (bool, error) {
	res, err := l.db.ExecContext(ctx, "UPDATE invoices SET settled=TRUE, settled_at=? WHERE payment_hash=? AND settled=FALSE", at.UTC(), paymentHash)
	if err != nil {
		return false, fmt.Errorf("mark settled: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark settled: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	existing, err := l.GetInvoiceByHash(ctx, paymentHash)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("mark settled: no invoice %v", paymentHash)
	}
	return false, nil
}
