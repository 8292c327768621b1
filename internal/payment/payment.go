package payment

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fulmine-labs/sparks/internal/db/sqlite"
)

const DefaultExpiry = time.Hour

func New(ln Provider, ledger invoiceLedger, providerName string, expiry time.Duration) (*PaymentService, error) {
	if ln == nil {
		return nil, fmt.Errorf("payment: nil provider")
	}
	if ledger == nil {
		return nil, fmt.Errorf("payment: nil ledger")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	return &PaymentService{
		ln:       ln,
		ledger:   ledger,
		provider: providerName,
		expiry:   expiry,
		now:      time.Now,
	}, nil
}

type PaymentService struct {
	ln       Provider
	ledger   invoiceLedger
	provider string
	expiry   time.Duration
	onSettle []func(context.Context, Invoice)
	now      func() time.Time
}

// Provider is a Lightning backend that issues invoices and reports their
// settlement on request.
type Provider interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
	GetInvoice(ctx context.Context, paymentHash string) (*Invoice, error)
}

type invoiceLedger interface {
	CreateInvoice(ctx context.Context, req sqlite.CreateInvoiceRequest) (*sqlite.Invoice, error)
	GetInvoiceByHash(ctx context.Context, paymentHash string) (*sqlite.Invoice, error)
	MarkSettled(ctx context.Context, paymentHash string, at time.Time) (bool, error)
}

// OnSettle registers fn to run the first time an invoice is observed settled.
// Only the caller whose ledger update settled the invoice runs the hooks.
func (s *PaymentService) OnSettle(fn func(context.Context, Invoice)) {
	s.onSettle = append(s.onSettle, fn)
}

func (s *PaymentService) Provider() string {
	return s.provider
}

// CreateInvoice issues an invoice with the provider and records it in the
// ledger together with the work it pays for.
func (s *PaymentService) CreateInvoice(ctx context.Context, req CreateRequest) (*Invoice, error) {
	if req.AmountSats < 1 {
		return nil, fmt.Errorf("%w: amount %d", ErrInvalidAmount, req.AmountSats)
	}

	invoice, err := s.ln.CreateInvoice(ctx, InvoiceRequest{
		AmountSats:  req.AmountSats,
		Description: req.Description,
		Metadata:    req.Metadata,
		Expiry:      s.expiry,
	})
	if err != nil {
		return nil, fmt.Errorf("CreateInvoice: %w", err)
	}
	if invoice.PaymentHash == "" {
		return nil, fmt.Errorf("CreateInvoice: provider %v returned no payment hash", s.provider)
	}
	if invoice.AmountSats == 0 {
		invoice.AmountSats = req.AmountSats
	}
	if invoice.ExpiresAt.IsZero() {
		invoice.ExpiresAt = s.now().Add(s.expiry)
	}

	_, err = s.ledger.CreateInvoice(ctx, sqlite.CreateInvoiceRequest{
		PaymentHash:    invoice.PaymentHash,
		PaymentRequest: invoice.PaymentRequest,
		Sats:           invoice.AmountSats,
		Provider:       s.provider,
		Model:          req.Model,
		Prompt:         req.Prompt,
		NumOutputs:     req.NumOutputs,
		ExpiresAt:      invoice.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger.CreateInvoice: %w", err)
	}

	log.Printf("payment: created invoice %v for %d sats via %v", invoice.PaymentHash, invoice.AmountSats, s.provider)

	return invoice, nil
}

// GetInvoice returns the recorded invoice for paymentHash. Unsettled
// invoices are re-checked with the provider and the ledger is updated once
// settlement is observed.
func (s *PaymentService) GetInvoice(ctx context.Context, paymentHash string) (*Invoice, error) {
	rec, err := s.ledger.GetInvoiceByHash(ctx, paymentHash)
	if err != nil {
		return nil, fmt.Errorf("ledger.GetInvoice: %w", err)
	}
	if rec == nil {
		return nil, ErrInvoiceNotFound
	}

	invoice := fromRecord(rec)
	if invoice.Settled {
		return invoice, nil
	}

	// Has the invoice been paid since we last checked?
	remote, err := s.ln.GetInvoice(ctx, paymentHash)
	if err != nil {
		return nil, fmt.Errorf("GetInvoice: %w", err)
	}
	if !remote.Settled {
		return invoice, nil
	}

	invoice.Settled = true
	changed, err := s.ledger.MarkSettled(ctx, paymentHash, s.now())
	if err != nil {
		return nil, fmt.Errorf("ledger.MarkSettled: %w", err)
	}
	if !changed {
		// A concurrent lookup recorded the settlement first.
		return invoice, nil
	}
	log.Printf("payment: invoice %v settled", paymentHash)

	for _, fn := range s.onSettle {
		fn(ctx, *invoice)
	}

	return invoice, nil
}

// Status reports the lifecycle state of invoice at the current time.
func (s *PaymentService) Status(invoice *Invoice) Status {
	return invoice.StatusAt(s.now())
}

func fromRecord(rec *sqlite.Invoice) *Invoice {
	return &Invoice{
		PaymentHash:    rec.PaymentHash,
		PaymentRequest: rec.PaymentRequest,
		AmountSats:     rec.Sats,
		ExpiresAt:      rec.ExpiresAt,
		Settled:        rec.Settled,
		Model:          rec.Model,
		Prompt:         rec.Prompt,
		NumOutputs:     rec.NumOutputs,
	}
}

type InvoiceRequest struct {
	AmountSats  int64
	Description string
	Metadata    map[string]string
	Expiry      time.Duration
}

type CreateRequest struct {
	AmountSats  int64
	Description string
	Metadata    map[string]string
	Model       string
	Prompt      string
	NumOutputs  int
}

type Invoice struct {
	PaymentHash    string    `json:"payment_hash"`
	PaymentRequest string    `json:"payment_request"`
	AmountSats     int64     `json:"amount_sats"`
	ExpiresAt      time.Time `json:"expires_at"`
	Settled        bool      `json:"settled"`

	Model      string `json:"-"`
	Prompt     string `json:"-"`
	NumOutputs int    `json:"-"`
}

type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusExpired Status = "expired"
)

func (i Invoice) StatusAt(now time.Time) Status {
	switch {
	case i.Settled:
		return StatusSettled
	case !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt):
		return StatusExpired
	default:
		return StatusPending
	}
}
