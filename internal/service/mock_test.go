package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fulmine-labs/sparks/internal/imagegen"
	"github.com/fulmine-labs/sparks/internal/payment"
	"github.com/fulmine-labs/sparks/internal/priceoracle"
)

type mockGenerator struct {
	NotConfigured bool
	URLs          []string
	Err           error
	Calls         int
	LastParams    imagegen.Params
}

func (m *mockGenerator) Configured() bool {
	return !m.NotConfigured
}
func (m *mockGenerator) Generate(ctx context.Context, model imagegen.Model, p imagegen.Params) ([]string, error) {
	m.Calls++
	m.LastParams = p
	return m.URLs, m.Err
}

type mockDownloader struct {
	Images [][]byte
	Calls  int
}

func (m *mockDownloader) Fetch(ctx context.Context, urls []string) [][]byte {
	m.Calls++
	return m.Images
}

type mockOracle struct {
	USDPerBTC decimal.Decimal
}

func (m *mockOracle) Price(ctx context.Context) priceoracle.Quote {
	return priceoracle.Quote{USDPerBTC: m.USDPerBTC, FetchedAt: time.Now(), Source: "mock"}
}

type mockPayments struct {
	CreateInvoiceReq     *payment.CreateRequest
	CreateInvoiceInvoice *payment.Invoice
	CreateInvoiceErr     error
	GetInvoiceInvoice    *payment.Invoice
	GetInvoiceErr        error
	Now                  time.Time
}

func (m *mockPayments) CreateInvoice(ctx context.Context, req payment.CreateRequest) (*payment.Invoice, error) {
	m.CreateInvoiceReq = &req
	if m.CreateInvoiceErr != nil {
		return nil, m.CreateInvoiceErr
	}
	inv := *m.CreateInvoiceInvoice
	inv.AmountSats = req.AmountSats
	return &inv, nil
}
func (m *mockPayments) GetInvoice(ctx context.Context, paymentHash string) (*payment.Invoice, error) {
	return m.GetInvoiceInvoice, m.GetInvoiceErr
}
func (m *mockPayments) Status(invoice *payment.Invoice) payment.Status {
	now := m.Now
	if now.IsZero() {
		now = time.Now()
	}
	return invoice.StatusAt(now)
}
func (m *mockPayments) Provider() string {
	return "mock"
}
