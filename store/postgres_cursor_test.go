package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/intenus/preranking/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCursorStore(t *testing.T) (*PostgresCursorStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "failed to create mock db")
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresCursorStore(db), mock
}

func TestPostgresCursorStore_LoadNone(t *testing.T) {
	store, mock := setupCursorStore(t)

	mock.ExpectQuery(`SELECT event_seq, tx_digest FROM event_cursor`).
		WillReturnRows(sqlmock.NewRows([]string{"event_seq", "tx_digest"}))

	cursor, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.Cursor{}, cursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCursorStore_LoadExisting(t *testing.T) {
	store, mock := setupCursorStore(t)

	mock.ExpectQuery(`SELECT event_seq, tx_digest FROM event_cursor`).
		WillReturnRows(sqlmock.NewRows([]string{"event_seq", "tx_digest"}).AddRow(42, "0xabc"))

	cursor, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), cursor.EventSeq)
	assert.Equal(t, "0xabc", cursor.TxDigest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCursorStore_Store(t *testing.T) {
	store, mock := setupCursorStore(t)

	mock.ExpectExec(`INSERT INTO event_cursor`).
		WithArgs(uint64(7), "0xdef").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Store(context.Background(), models.Cursor{EventSeq: 7, TxDigest: "0xdef"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
