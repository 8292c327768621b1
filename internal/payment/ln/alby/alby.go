// Package alby issues invoices through the Alby wallet API.
package alby

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fulmine-labs/sparks/internal/payment"
)

const (
	DefaultBaseURL = "https://api.getalby.com"
	requestTimeout = 10 * time.Second
)

func New(baseURL, token string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("alby: api token required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(requestTimeout)

	return &Client{client: client}, nil
}

type Client struct {
	client *resty.Client
}

type createInvoiceRequest struct {
	Amount      int64             `json:"amount"`
	Description string            `json:"description,omitempty"`
	Currency    string            `json:"currency"`
	Expiry      int64             `json:"expiry,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type invoiceResponse struct {
	PaymentHash    string    `json:"payment_hash"`
	PaymentRequest string    `json:"payment_request"`
	Amount         int64     `json:"amount"`
	Settled        bool      `json:"settled"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (c *Client) CreateInvoice(ctx context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	var (
		out    invoiceResponse
		apiErr errorResponse
	)
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(createInvoiceRequest{
			Amount:      req.AmountSats,
			Description: req.Description,
			Currency:    "btc",
			Expiry:      int64(req.Expiry.Seconds()),
			Metadata:    req.Metadata,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/invoices")
	if err != nil {
		return nil, fmt.Errorf("alby: create invoice: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("alby: create invoice: http %d: %s", resp.StatusCode(), apiErr.Message)
	}

	return out.invoice(), nil
}

func (c *Client) GetInvoice(ctx context.Context, paymentHash string) (*payment.Invoice, error) {
	var (
		out    invoiceResponse
		apiErr errorResponse
	)
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("hash", paymentHash).
		SetResult(&out).
		SetError(&apiErr).
		Get("/invoices/{hash}")
	if err != nil {
		return nil, fmt.Errorf("alby: get invoice: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("alby: get invoice %v: http %d: %s", paymentHash, resp.StatusCode(), apiErr.Message)
	}

	return out.invoice(), nil
}

func (r invoiceResponse) invoice() *payment.Invoice {
	return &payment.Invoice{
		PaymentHash:    r.PaymentHash,
		PaymentRequest: r.PaymentRequest,
		AmountSats:     r.Amount,
		ExpiresAt:      r.ExpiresAt,
		Settled:        r.Settled,
	}
}
