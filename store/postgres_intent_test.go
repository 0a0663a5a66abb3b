package store

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/intenus/preranking/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIntentStore(t *testing.T) (*PostgresIntentStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "failed to create mock db")
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresIntentStore(db), mock
}

func sampleIntent() models.Intent {
	return models.Intent{
		IntentID:      "intent-1",
		UserAddress:   "0xuser",
		WindowStartMS: 1000,
		WindowEndMS:   6000,
		Operation: models.Operation{
			Mode: "swap",
			Inputs: []models.Leg{
				{AssetID: "ETH", Amount: models.AmountSpec{Exact: big.NewInt(1)}, Decimals: 18},
			},
			Outputs: []models.Leg{
				{AssetID: "USDC", Amount: models.AmountSpec{Exact: big.NewInt(100000)}, Decimals: 6},
			},
		},
	}
}

func TestPostgresIntentStore_PutAndGetIntent(t *testing.T) {
	store, mock := setupIntentStore(t)
	intent := sampleIntent()

	mock.ExpectExec(`INSERT INTO intents`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.PutIntent(context.Background(), intent.IntentID, intent, time.Hour)
	require.NoError(t, err)

	body, err := marshalIntent(intent)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT body FROM intents`).
		WithArgs(intent.IntentID).
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(body))

	got, ok, err := store.GetIntent(context.Background(), intent.IntentID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, intent.IntentID, got.IntentID)
	assert.Equal(t, intent.WindowEndMS, got.WindowEndMS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIntentStore_GetIntentNotFound(t *testing.T) {
	store, mock := setupIntentStore(t)

	mock.ExpectQuery(`SELECT body FROM intents`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))

	_, ok, err := store.GetIntent(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresIntentStore_ListPassedAndCountFailed(t *testing.T) {
	store, mock := setupIntentStore(t)

	record := models.PassRecord{
		SolutionID: "sol-1",
		Solution:   models.Solution{SolutionID: "sol-1", IntentID: "intent-1"},
		Features:   models.Features{GasCost: big.NewInt(1000)},
	}
	body, err := marshalPassRecord(record)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT record FROM intent_passed`).
		WithArgs("intent-1").
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(body))

	records, err := store.ListPassed(context.Background(), "intent-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sol-1", records[0].SolutionID)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM intent_failed`).
		WithArgs("intent-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.CountFailed(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIntentStore_DeleteIntentTree(t *testing.T) {
	store, mock := setupIntentStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM intents`).WithArgs("intent-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM intent_passed`).WithArgs("intent-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM intent_failed`).WithArgs("intent-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.DeleteIntentTree(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
