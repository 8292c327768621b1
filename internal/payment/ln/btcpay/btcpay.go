// Package btcpay issues Lightning invoices through a BTCPay Server store
// using the Greenfield API.
package btcpay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fulmine-labs/sparks/internal/payment"
)

const requestTimeout = 30 * time.Second

func New(serverURL, apiKey, storeID string) (*Client, error) {
	if serverURL == "" || apiKey == "" || storeID == "" {
		return nil, fmt.Errorf("btcpay: server url, api key and store id required")
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(serverURL, "/")).
		SetAuthScheme("token").
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetPathParam("store", storeID).
		SetTimeout(requestTimeout)

	return &Client{client: client}, nil
}

type Client struct {
	client *resty.Client
}

type createInvoiceRequest struct {
	Amount   string            `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Checkout checkoutOptions   `json:"checkout"`
}

type checkoutOptions struct {
	ExpirationMinutes int      `json:"expirationMinutes,omitempty"`
	PaymentMethods    []string `json:"paymentMethods,omitempty"`
}

type invoiceResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         string `json:"amount"`
	ExpirationTime int64  `json:"expirationTime"`
}

type paymentMethodResponse struct {
	PaymentMethod   string `json:"paymentMethod"`
	PaymentMethodID string `json:"paymentMethodId"`
	Destination     string `json:"destination"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateInvoice creates a store invoice in SATS. The BTCPay invoice id
// stands in for the payment hash.
func (c *Client) CreateInvoice(ctx context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	body := createInvoiceRequest{
		Amount:   strconv.FormatInt(req.AmountSats, 10),
		Currency: "SATS",
		Metadata: map[string]string{"itemDesc": req.Description},
		Checkout: checkoutOptions{
			ExpirationMinutes: int(req.Expiry.Minutes()),
			PaymentMethods:    []string{"BTC-LightningNetwork"},
		},
	}
	for k, v := range req.Metadata {
		body.Metadata[k] = v
	}

	var (
		out    invoiceResponse
		apiErr errorResponse
	)
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/v1/stores/{store}/invoices")
	if err != nil {
		return nil, fmt.Errorf("btcpay: create invoice: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("btcpay: create invoice: http %d: %s", resp.StatusCode(), apiErr.Message)
	}

	bolt11, err := c.lightningDestination(ctx, out.ID)
	if err != nil {
		return nil, err
	}

	invoice := out.invoice()
	invoice.PaymentRequest = bolt11
	if invoice.AmountSats == 0 {
		invoice.AmountSats = req.AmountSats
	}
	return invoice, nil
}

func (c *Client) GetInvoice(ctx context.Context, id string) (*payment.Invoice, error) {
	var (
		out    invoiceResponse
		apiErr errorResponse
	)
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/v1/stores/{store}/invoices/{id}")
	if err != nil {
		return nil, fmt.Errorf("btcpay: get invoice: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("btcpay: get invoice %v: http %d: %s", id, resp.StatusCode(), apiErr.Message)
	}

	return out.invoice(), nil
}

func (c *Client) lightningDestination(ctx context.Context, id string) (string, error) {
	var methods []paymentMethodResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&methods).
		Get("/api/v1/stores/{store}/invoices/{id}/payment-methods")
	if err != nil {
		return "", fmt.Errorf("btcpay: payment methods: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("btcpay: payment methods %v: http %d", id, resp.StatusCode())
	}

	for _, m := range methods {
		name := m.PaymentMethod + m.PaymentMethodID
		if strings.Contains(name, "Lightning") || strings.HasSuffix(name, "-LN") {
			if m.Destination != "" {
				return m.Destination, nil
			}
		}
	}

	return "", fmt.Errorf("btcpay: invoice %v has no lightning payment method", id)
}

func (r invoiceResponse) invoice() *payment.Invoice {
	inv := &payment.Invoice{
		PaymentHash: r.ID,
		Settled:     settled(r.Status),
	}
	if sats, err := strconv.ParseFloat(r.Amount, 64); err == nil {
		inv.AmountSats = int64(sats)
	}
	if r.ExpirationTime > 0 {
		inv.ExpiresAt = time.Unix(r.ExpirationTime, 0).UTC()
	}
	return inv
}

func settled(status string) bool {
	switch strings.ToLower(status) {
	case "settled", "confirmed", "complete", "paid":
		return true
	default:
		return false
	}
}
