package zbd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	zebedee "github.com/zebedeeio/go-sdk"

	"github.com/fulmine-labs/sparks/internal/payment"
)

func New(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("zbd: api key required")
	}

	return &Client{
		Client: zebedee.New(apiKey),
	}, nil
}

type Client struct {
	*zebedee.Client
}

// CreateInvoice issues a charge. The charge id stands in for the payment
// hash. No callback URL is registered; settlement is polled.
func (c *Client) CreateInvoice(ctx context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	internalID := req.Metadata["request_id"]
	if internalID == "" {
		internalID = uuid.NewString()
	}

	invoice, err := c.Charge(&zebedee.Charge{
		InternalID:  internalID,
		Amount:      strconv.FormatInt(req.AmountSats*1000, 10), // millisats
		Description: req.Description,
		ExpiresIn:   int64(req.Expiry.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	return &payment.Invoice{
		PaymentHash:    invoice.ID,
		PaymentRequest: invoice.Invoice.Request,
		AmountSats:     req.AmountSats,
	}, nil
}

func (c *Client) GetInvoice(ctx context.Context, id string) (*payment.Invoice, error) {
	charge, err := c.GetCharge(id)
	if err != nil {
		return nil, fmt.Errorf("GetCharge: %w", err)
	}

	return &payment.Invoice{
		PaymentHash:    id,
		PaymentRequest: charge.Invoice.Request,
		Settled:        charge.Status == "completed",
	}, nil
}
