// Package storage holds generated images keyed by the payment hash that
// unlocks them.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const DefaultTTL = 7 * 24 * time.Hour

var (
	ErrNotFound    = errors.New("result not found")
	ErrInvalidHash = errors.New("invalid payment hash")
)

// Store is a result store. Put overwrites an existing result for the same
// payment hash. Get returns ErrNotFound for unknown or expired results.
type Store interface {
	Put(ctx context.Context, r Result) error
	Get(ctx context.Context, paymentHash string) (*Result, error)
}

type Result struct {
	PaymentHash string            `json:"payment_hash"`
	Images      [][]byte          `json:"images"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

func NewResult(paymentHash string, images [][]byte, metadata map[string]string, ttl time.Duration) Result {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()
	return Result{
		PaymentHash: paymentHash,
		Images:      images,
		Metadata:    metadata,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func (r Result) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

var hashPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateHash rejects hashes that cannot be used as a file or object key.
func ValidateHash(paymentHash string) error {
	if !hashPattern.MatchString(paymentHash) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, paymentHash)
	}
	return nil
}

func Encode(r Result) ([]byte, error) {
	return json.Marshal(r)
}

func Decode(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}
