package payment

import (
	"context"
	"sync"
	"time"

	"github.com/fulmine-labs/sparks/internal/db/sqlite"
)

type mockLedger struct {
	mu sync.Mutex

	CreateInvoiceReq     *sqlite.CreateInvoiceRequest
	CreateInvoiceErr     error
	GetInvoiceByHashInv  *sqlite.Invoice
	GetInvoiceByHashErr  error
	MarkSettledErr       error
	MarkSettledCallCount int
}

func (m *mockLedger) CreateInvoice(ctx context.Context, req sqlite.CreateInvoiceRequest) (*sqlite.Invoice, error) {
	m.CreateInvoiceReq = &req
	if m.CreateInvoiceErr != nil {
		return nil, m.CreateInvoiceErr
	}
	return &sqlite.Invoice{ID: "id", PaymentHash: req.PaymentHash, Sats: req.Sats}, nil
}
func (m *mockLedger) GetInvoiceByHash(ctx context.Context, paymentHash string) (*sqlite.Invoice, error) {
	return m.GetInvoiceByHashInv, m.GetInvoiceByHashErr
}
// MarkSettled reports a change on the first call only, like the guarded
// UPDATE it stands in for.
func (m *mockLedger) MarkSettled(ctx context.Context, paymentHash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MarkSettledCallCount++
	if m.MarkSettledErr != nil {
		return false, m.MarkSettledErr
	}
	return m.MarkSettledCallCount == 1, nil
}

type mockLNProvider struct {
	mu sync.Mutex

	CreateInvoiceReq     *InvoiceRequest
	CreateInvoiceInvoice *Invoice
	CreateInvoiceErr     error
	GetInvoiceInvoice    *Invoice
	GetInvoiceErr        error
	GetInvoiceCallCount  int
}

func (m *mockLNProvider) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	m.CreateInvoiceReq = &req
	return m.CreateInvoiceInvoice, m.CreateInvoiceErr
}
func (m *mockLNProvider) GetInvoice(ctx context.Context, paymentHash string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetInvoiceCallCount++
	return m.GetInvoiceInvoice, m.GetInvoiceErr
}
