package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fulmine-labs/sparks/internal/storage"
)

const resultExt = ".json"

// New returns a Store that keeps one JSON document per payment hash in dir.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("must set storage_dir")
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}

	return &Store{
		dir: dir,
		now: time.Now,
	}, nil
}

type Store struct {
	dir string
	now func() time.Time
}

func (s *Store) Put(ctx context.Context, r storage.Result) error {
	if err := storage.ValidateHash(r.PaymentHash); err != nil {
		return err
	}

	data, err := storage.Encode(r)
	if err != nil {
		return err
	}

	return s.write(s.path(r.PaymentHash), data)
}

func (s *Store) Get(ctx context.Context, paymentHash string) (*storage.Result, error) {
	if err := storage.ValidateHash(paymentHash); err != nil {
		return nil, storage.ErrNotFound
	}

	path := s.path(paymentHash)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	r, err := storage.Decode(data)
	if err != nil {
		return nil, err
	}

	if r.Expired(s.now()) {
		os.Remove(path)
		return nil, storage.ErrNotFound
	}

	return r, nil
}

// Sweep removes expired result files and reports how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*"+resultExt))
	if err != nil {
		return 0, err
	}

	var n int
	now := s.now()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		r, err := storage.Decode(data)
		if err != nil || !r.Expired(now) {
			continue
		}
		if err := os.Remove(path); err == nil {
			n++
		}
	}

	return n, nil
}

func (s *Store) path(paymentHash string) string {
	return filepath.Join(s.dir, paymentHash+resultExt)
}

// write replaces path atomically so concurrent readers never see a partial
// document.
func (s *Store) write(path string, data []byte) error {
	dir := filepath.Dir(path)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".result-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
