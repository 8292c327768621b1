package nodeless

import (
	"context"
	"fmt"

	"github.com/nodeless-io/go-nodeless"

	"github.com/fulmine-labs/sparks/internal/payment"
)

func New(apiKey, storeID string, testnet bool) (*Client, error) {
	if apiKey == "" || storeID == "" {
		return nil, fmt.Errorf("nodeless: api key and store id required")
	}

	c, err := nodeless.New(nodeless.Config{
		APIKey:     apiKey,
		UseTestnet: testnet,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		Client:  c,
		storeID: storeID,
	}, nil
}

type Client struct {
	*nodeless.Client
	storeID string
}

// CreateInvoice issues a store invoice. The nodeless invoice id stands in
// for the payment hash.
func (c *Client) CreateInvoice(ctx context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	invoice, err := c.CreateStoreInvoice(ctx, nodeless.CreateInvoiceRequest{
		StoreID:  c.storeID,
		Amount:   float64(req.AmountSats),
		Currency: "SATS",
	})
	if err != nil {
		return nil, err
	}

	return &payment.Invoice{
		PaymentHash:    invoice.ID,
		PaymentRequest: invoice.LightningInvoice,
		AmountSats:     req.AmountSats,
	}, nil
}

func (c *Client) GetInvoice(ctx context.Context, id string) (*payment.Invoice, error) {
	status, err := c.GetStoreInvoiceStatus(ctx, c.storeID, id)
	if err != nil {
		return nil, err
	}

	return &payment.Invoice{
		PaymentHash: id,
		Settled:     status == nodeless.InvoiceStatusPaid,
	}, nil
}
