package service

import (
	"errors"
	"fmt"

	"github.com/fulmine-labs/sparks/internal/payment"
)

var (
	ErrValidation          = errors.New("invalid request")
	ErrNotFound            = errors.New("not found")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrUpstream            = errors.New("upstream failure")
	ErrTimeout             = errors.New("timed out")
	ErrNotConfigured       = errors.New("not configured")
)

// ModerationError rejects a prompt that scored at or above the threshold.
type ModerationError struct {
	Score  float64
	Reason string
}

func (e *ModerationError) Error() string {
	return fmt.Sprintf("prompt rejected by moderation: %s", e.Reason)
}

// PaymentError is returned while the invoice guarding a result is unpaid.
// It matches ErrPaymentNotConfirmed.
type PaymentError struct {
	Invoice payment.Invoice
	Expired bool
}

func (e *PaymentError) Error() string {
	if e.Expired {
		return fmt.Sprintf("invoice %v expired unpaid", e.Invoice.PaymentHash)
	}
	return fmt.Sprintf("invoice %v not paid", e.Invoice.PaymentHash)
}

func (e *PaymentError) Unwrap() error {
	return ErrPaymentNotConfirmed
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func upstreamErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
}
