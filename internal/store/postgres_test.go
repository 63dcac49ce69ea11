package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresBackend_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	backend := NewPostgresBackend(db)

	mock.ExpectQuery(regexp.QuoteMeta(selectValueSQL)).
		WithArgs("bierpass_current_token").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"token":"a.b"}`)))

	value, err := backend.Get(context.Background(), "bierpass_current_token")
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"a.b"}`, string(value))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_GetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	backend := NewPostgresBackend(db)

	mock.ExpectQuery(regexp.QuoteMeta(selectValueSQL)).
		WithArgs("bierpass_last_transaction").
		WillReturnError(sql.ErrNoRows)

	_, err = backend.Get(context.Background(), "bierpass_last_transaction")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_SetUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	backend := NewPostgresBackend(db)

	mock.ExpectExec("INSERT INTO kiosk_kv").
		WithArgs("bierpass_app_state", `{"state":"IDLE"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = backend.Set(context.Background(), "bierpass_app_state", []byte(`{"state":"IDLE"}`))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_DeleteError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	backend := NewPostgresBackend(db)
	dbErr := errors.New("connection refused")

	mock.ExpectExec("DELETE FROM kiosk_kv").
		WithArgs("bierpass_current_token").
		WillReturnError(dbErr)

	err = backend.Delete(context.Background(), "bierpass_current_token")
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_ThroughStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	s := New(NewPostgresBackend(db), DefaultPrefix, testLogger())

	mock.ExpectQuery(regexp.QuoteMeta(selectValueSQL)).
		WithArgs("bierpass_last_transaction").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).
			AddRow([]byte(`{"token":"a.b","ml_served":250.4,"ml_authorized":300,"sale_id":"SALE_7","beverage":{"id":"ipa","name":"IPA"},"finishedAt":"2025-03-14T18:31:00Z","synced":false}`)))

	tx, err := s.GetLastTransaction(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, "SALE_7", tx.SaleID)
	assert.InDelta(t, 250.4, tx.MLServed, 0.001)
	assert.False(t, tx.Synced)
	assert.NoError(t, mock.ExpectationsWereMet())
}
