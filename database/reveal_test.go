package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilstats/veil/model"
)

func newTestDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Datasource{Conn: db}, mock
}

func TestCompleteRevealRequestWinsTransition(t *testing.T) {
	ds, mock := newTestDatasource(t)

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Status:       model.StatusPending,
	}
	stat := &model.RevealedStatistic{
		StatisticID:       "stat_1",
		ExhibitionID:      "exh_1",
		RequestID:         "req_1",
		RawCount:          10,
		RawSum:            85,
		ObfuscatedAverage: 8500,
		CreatedAt:         time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs(req.RequestID, model.StatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO revealed_statistics").
		WithArgs(stat.StatisticID, stat.ExhibitionID, stat.RequestID, stat.RawCount, stat.RawSum, stat.ObfuscatedAverage, stat.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE exhibitions").
		WithArgs(req.ExhibitionID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	won, err := ds.CompleteRevealRequest(context.Background(), req, stat)
	require.NoError(t, err)
	assert.True(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRevealRequestLosesToEarlierFinalization(t *testing.T) {
	ds, mock := newTestDatasource(t)

	req := &model.RevealRequest{RequestID: "req_1", ExhibitionID: "exh_1"}
	stat := &model.RevealedStatistic{StatisticID: "stat_1", ExhibitionID: "exh_1", RequestID: "req_1"}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs(req.RequestID, model.StatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	won, err := ds.CompleteRevealRequest(context.Background(), req, stat)
	require.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeRevealRequestTimedOut(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs("req_1", model.StatusTimedOut, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE exhibitions").
		WithArgs("exh_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	won, err := ds.FinalizeRevealRequest(context.Background(), "req_1", "exh_1", model.StatusTimedOut, false)
	require.NoError(t, err)
	assert.True(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRefundClaimedOnlyOnce(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs("req_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := ds.MarkRefundClaimed(context.Background(), "req_1")
	require.NoError(t, err)
	assert.True(t, claimed)

	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs("req_1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err = ds.MarkRefundClaimed(context.Background(), "req_1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRevealPendingExcludesSecondRequest(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec("UPDATE exhibitions").
		WithArgs("exh_1", "req_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := ds.SetRevealPending(context.Background(), "exh_1", "req_1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE exhibitions").
		WithArgs("exh_1", "req_2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = ds.SetRevealPending(context.Background(), "exh_1", "req_2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordContributionRejectedWhilePending(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec("UPDATE exhibitions").
		WithArgs("exh_1", "ct", "st").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := ds.RecordContribution(context.Background(), "exh_1", "ct", "st")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceNoiseEpoch(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectQuery("UPDATE noise_epochs").
		WillReturnRows(sqlmock.NewRows([]string{"nonce"}).AddRow(3))

	nonce, err := ds.AdvanceNoiseEpoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), nonce)
	assert.NoError(t, mock.ExpectationsWereMet())
}
