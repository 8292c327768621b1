package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulmine-labs/sparks/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewWithDB(sqlx.NewDb(db, "postgres"))
	return s, mock
}

func TestPut(t *testing.T) {
	s, mock := newMockStore(t)

	r := storage.NewResult("abc", [][]byte{[]byte("png")}, map[string]string{"model": "sd"}, time.Hour)

	mock.ExpectExec("INSERT INTO results").
		WithArgs("abc", sqlmock.AnyArg(), `{"model":"sd"}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Put(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutInvalidHash(t *testing.T) {
	s, mock := newMockStore(t)

	err := s.Put(context.Background(), storage.Result{PaymentHash: "bad hash"})
	assert.ErrorIs(t, err, storage.ErrInvalidHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	s, mock := newMockStore(t)

	images, err := pq.ByteaArray{[]byte("png"), []byte("jpg")}.Value()
	require.NoError(t, err)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"payment_hash", "images", "metadata", "created_at", "expires_at"}).
		AddRow("abc", images, []byte(`{"model":"sd"}`), now, now.Add(time.Hour))

	mock.ExpectQuery("SELECT (.+) FROM results WHERE payment_hash").
		WithArgs("abc", sqlmock.AnyArg()).
		WillReturnRows(rows)

	r, err := s.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("png"), []byte("jpg")}, r.Images)
	assert.Equal(t, "sd", r.Metadata["model"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM results WHERE payment_hash").
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"payment_hash", "images", "metadata", "created_at", "expires_at"}))

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM results").
		WillReturnError(errors.New("connection reset"))

	_, err := s.Get(context.Background(), "abc")
	assert.ErrorContains(t, err, "connection reset")
}

func TestSweep(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM results WHERE expires_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
