package sqlite

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) DB {
	t.Helper()

	r, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	return r
}

func testRequest(hash string) CreateInvoiceRequest {
	return CreateInvoiceRequest{
		PaymentHash:    hash,
		PaymentRequest: "lnbc1190n1" + hash,
		Sats:           119,
		Provider:       "mock",
		Model:          "stable-diffusion",
		Prompt:         "a cat in a hat",
		NumOutputs:     1,
		ExpiresAt:      time.Now().Add(time.Hour),
	}
}

func TestCreateInvoice(t *testing.T) {
	r := newTestDB(t)

	req := testRequest("123")
	result, err := r.CreateInvoice(context.TODO(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, req.PaymentHash, result.PaymentHash)
	assert.Equal(t, req.Sats, result.Sats)
	assert.Equal(t, req.Model, result.Model)
	assert.False(t, result.Settled)
	assert.False(t, result.SettledAt.Valid)
	assert.NotEmpty(t, result.CreatedAt)
}

func TestCreateInvoiceDuplicateHash(t *testing.T) {
	r := newTestDB(t)

	_, err := r.CreateInvoice(context.TODO(), testRequest("dup"))
	require.NoError(t, err)

	_, err = r.CreateInvoice(context.TODO(), testRequest("dup"))
	assert.Error(t, err)

	_, err = r.CreateInvoice(context.TODO(), testRequest(""))
	assert.Error(t, err)
}

func TestGetInvoice(t *testing.T) {
	r := newTestDB(t)

	req := testRequest("abc")
	m, err := r.CreateInvoice(context.TODO(), req)
	require.NoError(t, err)

	invoice, err := r.GetInvoice(context.TODO(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, invoice)
	assert.Equal(t, req.Prompt, invoice.Prompt)
	assert.Equal(t, req.PaymentRequest, invoice.PaymentRequest)
	assert.WithinDuration(t, req.ExpiresAt, invoice.ExpiresAt, time.Second)

	invoice, err = r.GetInvoiceByHash(context.TODO(), "abc")
	require.NoError(t, err)
	require.NotNil(t, invoice)
	assert.Equal(t, m.ID, invoice.ID)

	invoice, err = r.GetInvoiceByHash(context.TODO(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, invoice)
}

func TestMarkSettled(t *testing.T) {
	r := newTestDB(t)

	_, err := r.CreateInvoice(context.TODO(), testRequest("h1"))
	require.NoError(t, err)

	at := time.Now()
	changed, err := r.MarkSettled(context.TODO(), "h1", at)
	require.NoError(t, err)
	assert.True(t, changed)

	invoice, err := r.GetInvoiceByHash(context.TODO(), "h1")
	require.NoError(t, err)
	assert.True(t, invoice.Settled)
	assert.True(t, invoice.SettledAt.Valid)
	assert.WithinDuration(t, at, invoice.SettledAt.Time, time.Second)

	// settling twice keeps the first timestamp
	changed, err = r.MarkSettled(context.TODO(), "h1", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	invoice, err = r.GetInvoiceByHash(context.TODO(), "h1")
	require.NoError(t, err)
	assert.WithinDuration(t, at, invoice.SettledAt.Time, time.Second)

	_, err = r.MarkSettled(context.TODO(), "missing", at)
	assert.Error(t, err)
}

func TestMarkSettledConcurrent(t *testing.T) {
	r := newTestDB(t)

	_, err := r.CreateInvoice(context.TODO(), testRequest("h1"))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		changed atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.MarkSettled(context.TODO(), "h1", time.Now())
			assert.NoError(t, err)
			if ok {
				changed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, changed.Load())
}

func TestListInvoices(t *testing.T) {
	r := newTestDB(t)

	hashes := []string{"aaa", "bbb", "ccc"}
	for _, hash := range hashes {
		_, err := r.CreateInvoice(context.TODO(), testRequest(hash))
		require.NoError(t, err)
	}

	invoices, err := r.ListInvoices(context.TODO())
	require.NoError(t, err)
	assert.Len(t, invoices, len(hashes))

	var got []string
	for _, inv := range invoices {
		got = append(got, inv.PaymentHash)
	}
	sort.Strings(got)
	assert.Equal(t, hashes, got)
}
