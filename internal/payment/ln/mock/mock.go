// Package mock is an in-memory Lightning provider for local runs and tests.
package mock

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/fulmine-labs/sparks/internal/payment"
)

func New(autoSettle bool) *Client {
	return &Client{
		autoSettle: autoSettle,
		invoices:   make(map[string]*payment.Invoice),
	}
}

type Client struct {
	mu         sync.Mutex
	autoSettle bool
	invoices   map[string]*payment.Invoice
}

func (c *Client) CreateInvoice(ctx context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(preimage)
	hash := hex.EncodeToString(sum[:])

	invoice := &payment.Invoice{
		PaymentHash:    hash,
		PaymentRequest: fmt.Sprintf("lnbcrt%dn1mock%s", req.AmountSats*10, hash[:16]),
		AmountSats:     req.AmountSats,
		Settled:        c.autoSettle,
	}

	c.mu.Lock()
	c.invoices[hash] = invoice
	c.mu.Unlock()

	out := *invoice
	return &out, nil
}

func (c *Client) GetInvoice(ctx context.Context, hash string) (*payment.Invoice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	invoice, ok := c.invoices[hash]
	if !ok {
		return nil, fmt.Errorf("mock: unknown invoice %v", hash)
	}

	out := *invoice
	return &out, nil
}

// Settle marks an issued invoice paid.
func (c *Client) Settle(hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	invoice, ok := c.invoices[hash]
	if !ok {
		return fmt.Errorf("mock: unknown invoice %v", hash)
	}
	invoice.Settled = true

	return nil
}
