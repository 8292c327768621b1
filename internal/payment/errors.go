package payment

import "errors"

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvalidAmount   = errors.New("invalid invoice amount")
)
