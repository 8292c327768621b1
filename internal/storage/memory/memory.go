package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fulmine-labs/sparks/internal/storage"
)

func New() *Store {
	return &Store{
		results: make(map[string]storage.Result),
		now:     time.Now,
	}
}

type Store struct {
	mu      sync.RWMutex
	results map[string]storage.Result
	now     func() time.Time
}

func (s *Store) Put(ctx context.Context, r storage.Result) error {
	if err := storage.ValidateHash(r.PaymentHash); err != nil {
		return err
	}

	s.mu.Lock()
	s.results[r.PaymentHash] = copyResult(r)
	s.mu.Unlock()

	return nil
}

func (s *Store) Get(ctx context.Context, paymentHash string) (*storage.Result, error) {
	s.mu.RLock()
	r, ok := s.results[paymentHash]
	s.mu.RUnlock()

	if !ok || r.Expired(s.now()) {
		return nil, storage.ErrNotFound
	}

	out := copyResult(r)
	return &out, nil
}

// Sweep drops expired results and reports how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	now := s.now()
	for hash, r := range s.results {
		if r.Expired(now) {
			delete(s.results, hash)
			n++
		}
	}
	return n
}

func copyResult(r storage.Result) storage.Result {
	images := make([][]byte, len(r.Images))
	for i, img := range r.Images {
		if img != nil {
			images[i] = append([]byte(nil), img...)
		}
	}
	r.Images = images

	if r.Metadata != nil {
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		r.Metadata = meta
	}
	return r
}
