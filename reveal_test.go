/*
Copyright 2025 Veil Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package veil

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"

	"github.com/veilstats/veil/config"
	"github.com/veilstats/veil/database"
	"github.com/veilstats/veil/model"
)

// testOracle signs reveal results the way the external oracle does.
type testOracle struct {
	keyPair *key.Pair
}

func newTestOracle(t *testing.T) *testOracle {
	t.Helper()
	return &testOracle{keyPair: key.NewKeyPair(suite)}
}

func (o *testOracle) publicKeyHex(t *testing.T) string {
	t.Helper()
	raw, err := o.keyPair.Public.MarshalBinary()
	require.NoError(t, err)
	return hex.EncodeToString(raw)
}

func (o *testOracle) sign(t *testing.T, requestID string, count, sum uint64) []byte {
	t.Helper()
	sig, err := schnorr.Sign(suite, o.keyPair.Private, ProofMessage(requestID, count, sum))
	require.NoError(t, err)
	return sig
}

func (o *testOracle) cleartexts(t *testing.T, count, sum uint64) []byte {
	t.Helper()
	raw, err := json.Marshal(model.Cleartexts{Count: count, Sum: sum})
	require.NoError(t, err)
	return raw
}

func newTestVeil(t *testing.T, oracle *testOracle) (*Veil, sqlmock.Sqlmock) {
	t.Helper()

	mr := miniredis.RunT(t)
	publicKey := ""
	if oracle != nil {
		publicKey = oracle.publicKeyHex(t)
	}
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Oracle: config.OracleConfig{
			Url:               "http://oracle.test/reveal",
			CallbackUrl:       "http://veil.test/oracle/callback",
			PublicKey:         publicKey,
			DecryptionTimeout: 24 * time.Hour,
			RefundWindow:      48 * time.Hour,
			AdminIdentity:     "admin",
		},
		Privacy: config.PrivacyConfig{
			PrecisionScale:       1000,
			SmallSampleThreshold: 5,
			MaxScaleValue:        1000000,
			NoiseRange:           500,
		},
		Queue: config.QueueConfig{
			WebhookQueue:      "new:webhook",
			OracleQueue:       "new:oracle",
			RevealExpiryQueue: "new:reveal-expiry",
		},
	})

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v, err := NewVeil(&database.Datasource{Conn: db})
	require.NoError(t, err)
	return v, mock
}

func exhibitionColumns() []string {
	return []string{"id", "exhibition_id", "name", "organizer", "encrypted_count", "encrypted_sum", "participation_count", "reveal_pending", "pending_request_id", "created_at", "meta_data"}
}

func revealRequestColumns() []string {
	return []string{"id", "request_id", "exhibition_id", "requester", "status", "callback_consumed", "refund_claimed", "created_at", "meta_data"}
}

func expectExhibitionFetch(mock sqlmock.Sqlmock, exhibitionID, organizer string, participants uint64, pending bool) {
	mock.ExpectQuery("FROM exhibitions").
		WithArgs(exhibitionID).
		WillReturnRows(sqlmock.NewRows(exhibitionColumns()).
			AddRow(1, exhibitionID, gofakeit.Company(), organizer, "ct-blob", "st-blob", participants, pending, "", time.Now(), nil))
}

func expectRequestFetch(mock sqlmock.Sqlmock, req *model.RevealRequest) {
	mock.ExpectQuery("FROM reveal_requests").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(revealRequestColumns()).
			AddRow(1, req.RequestID, req.ExhibitionID, req.Requester, req.Status, req.CallbackConsumed, req.RefundClaimed, req.CreatedAt, nil))
}

func TestRequestReveal(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	expectExhibitionFetch(mock, "exh_1", "alice", 10, false)
	mock.ExpectExec("UPDATE exhibitions").
		WithArgs("exh_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reveal_requests").
		WillReturnResult(sqlmock.NewResult(1, 1))

	req, err := v.RequestReveal(context.Background(), "exh_1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, req.Status)
	assert.Equal(t, "exh_1", req.ExhibitionID)
	assert.Equal(t, "alice", req.Requester)
	assert.Contains(t, req.RequestID, "req_")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRevealNotAuthorized(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	expectExhibitionFetch(mock, "exh_1", "alice", 10, false)

	_, err := v.RequestReveal(context.Background(), "exh_1", "mallory")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestRequestRevealAdminAllowed(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	expectExhibitionFetch(mock, "exh_1", "alice", 10, false)
	mock.ExpectExec("UPDATE exhibitions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reveal_requests").
		WillReturnResult(sqlmock.NewResult(1, 1))

	req, err := v.RequestReveal(context.Background(), "exh_1", "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", req.Requester)
}

func TestRequestRevealNoParticipants(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	expectExhibitionFetch(mock, "exh_1", "alice", 0, false)

	_, err := v.RequestReveal(context.Background(), "exh_1", "alice")
	assert.ErrorIs(t, err, ErrNoParticipants)
}

func TestRequestRevealAlreadyPending(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	expectExhibitionFetch(mock, "exh_1", "alice", 10, true)

	_, err := v.RequestReveal(context.Background(), "exh_1", "alice")
	assert.ErrorIs(t, err, ErrRequestAlreadyPending)
}

func TestRequestRevealLosesPendingRace(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	expectExhibitionFetch(mock, "exh_1", "alice", 10, false)
	mock.ExpectExec("UPDATE exhibitions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := v.RequestReveal(context.Background(), "exh_1", "alice")
	assert.ErrorIs(t, err, ErrRequestAlreadyPending)
}

func TestRequestRevealExhibitionNotFound(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	mock.ExpectQuery("FROM exhibitions").
		WithArgs("exh_missing").
		WillReturnRows(sqlmock.NewRows(exhibitionColumns()))

	_, err := v.RequestReveal(context.Background(), "exh_missing", "alice")
	assert.ErrorIs(t, err, ErrExhibitionNotFound)
}

func TestSubmitRevealResult(t *testing.T) {
	oracle := newTestOracle(t)
	v, mock := newTestVeil(t, oracle)

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusPending,
		CreatedAt:    time.Now(),
	}

	expectRequestFetch(mock, req)
	mock.ExpectQuery("SELECT nonce FROM noise_epochs").
		WillReturnRows(sqlmock.NewRows([]string{"nonce"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs(req.RequestID, model.StatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO revealed_statistics").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE exhibitions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resolved, err := v.SubmitRevealResult(context.Background(), "req_1", oracle.cleartexts(t, 10, 85), oracle.sign(t, "req_1", 10, 85))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, resolved.Status)
	assert.True(t, resolved.CallbackConsumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitRevealResultBadProof(t *testing.T) {
	oracle := newTestOracle(t)
	v, mock := newTestVeil(t, oracle)

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusPending,
		CreatedAt:    time.Now(),
	}

	expectRequestFetch(mock, req)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs(req.RequestID, model.StatusFailed, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE exhibitions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Signature over different cleartexts than the payload claims.
	resolved, err := v.SubmitRevealResult(context.Background(), "req_1", oracle.cleartexts(t, 10, 85), oracle.sign(t, "req_1", 10, 9999))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, resolved.Status)
	assert.True(t, resolved.CallbackConsumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitRevealResultMalformedCleartexts(t *testing.T) {
	oracle := newTestOracle(t)
	v, mock := newTestVeil(t, oracle)

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusPending,
		CreatedAt:    time.Now(),
	}

	expectRequestFetch(mock, req)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs(req.RequestID, model.StatusFailed, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE exhibitions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resolved, err := v.SubmitRevealResult(context.Background(), "req_1", []byte("not json"), oracle.sign(t, "req_1", 10, 85))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, resolved.Status)
}

func TestSubmitRevealResultReplay(t *testing.T) {
	oracle := newTestOracle(t)
	v, mock := newTestVeil(t, oracle)

	req := &model.RevealRequest{
		RequestID:        "req_1",
		ExhibitionID:     "exh_1",
		Requester:        "alice",
		Status:           model.StatusCompleted,
		CallbackConsumed: true,
		CreatedAt:        time.Now(),
	}

	expectRequestFetch(mock, req)

	_, err := v.SubmitRevealResult(context.Background(), "req_1", oracle.cleartexts(t, 10, 85), oracle.sign(t, "req_1", 10, 85))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestSubmitRevealResultLosesFinalizationRace(t *testing.T) {
	oracle := newTestOracle(t)
	v, mock := newTestVeil(t, oracle)

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusPending,
		CreatedAt:    time.Now(),
	}

	expectRequestFetch(mock, req)
	mock.ExpectQuery("SELECT nonce FROM noise_epochs").
		WillReturnRows(sqlmock.NewRows([]string{"nonce"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reveal_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := v.SubmitRevealResult(context.Background(), "req_1", oracle.cleartexts(t, 10, 85), oracle.sign(t, "req_1", 10, 85))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestForceTimeoutBeforeDeadline(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	start := time.Now()
	v.now = func() time.Time { return start.Add(23 * time.Hour) }

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusPending,
		CreatedAt:    start,
	}
	expectRequestFetch(mock, req)

	_, err := v.ForceTimeout(context.Background(), "req_1")
	assert.ErrorIs(t, err, ErrNotTimedOut)
}

func TestForceTimeoutAfterDeadline(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	start := time.Now()
	v.now = func() time.Time { return start.Add(25 * time.Hour) }

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusPending,
		CreatedAt:    start,
	}
	expectRequestFetch(mock, req)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs("req_1", model.StatusTimedOut, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE exhibitions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	timedOut, err := v.ForceTimeout(context.Background(), "req_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimedOut, timedOut.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestForceTimeoutAlreadyFinalized(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusCompleted,
		CreatedAt:    time.Now().Add(-30 * time.Hour),
	}
	expectRequestFetch(mock, req)

	_, err := v.ForceTimeout(context.Background(), "req_1")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestIsRequestTimedOut(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	start := time.Now()
	v.now = func() time.Time { return start.Add(25 * time.Hour) }

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusPending,
		CreatedAt:    start,
	}
	expectRequestFetch(mock, req)

	timedOut, err := v.IsRequestTimedOut(context.Background(), "req_1")
	require.NoError(t, err)
	assert.True(t, timedOut)
}

func TestClaimRefundNormalizesExpiredPending(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	start := time.Now()
	v.now = func() time.Time { return start.Add(30 * time.Hour) }

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusPending,
		CreatedAt:    start,
	}
	expectRequestFetch(mock, req)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs("req_1", model.StatusTimedOut, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE exhibitions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs("req_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := v.ClaimRefund(context.Background(), "exh_1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimedOut, claimed.Status)
	assert.True(t, claimed.RefundClaimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRefundFailedRequest(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusFailed,
		CreatedAt:    time.Now().Add(-time.Hour),
	}
	expectRequestFetch(mock, req)
	mock.ExpectExec("UPDATE reveal_requests").
		WithArgs("req_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := v.ClaimRefund(context.Background(), "exh_1", "alice")
	require.NoError(t, err)
	assert.True(t, claimed.RefundClaimed)
}

func TestClaimRefundNotEligibleCompleted(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusCompleted,
		CreatedAt:    time.Now().Add(-time.Hour),
	}
	expectRequestFetch(mock, req)

	_, err := v.ClaimRefund(context.Background(), "exh_1", "alice")
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestClaimRefundNotEligiblePending(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	start := time.Now()
	v.now = func() time.Time { return start.Add(time.Hour) }

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusPending,
		CreatedAt:    start,
	}
	expectRequestFetch(mock, req)

	_, err := v.ClaimRefund(context.Background(), "exh_1", "alice")
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestClaimRefundWindowExpired(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	start := time.Now()
	v.now = func() time.Time { return start.Add(49 * time.Hour) }

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusTimedOut,
		CreatedAt:    start,
	}
	expectRequestFetch(mock, req)

	_, err := v.ClaimRefund(context.Background(), "exh_1", "alice")
	assert.ErrorIs(t, err, ErrWindowExpired)
}

func TestClaimRefundTwice(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	req := &model.RevealRequest{
		RequestID:     "req_1",
		ExhibitionID:  "exh_1",
		Requester:     "alice",
		Status:        model.StatusTimedOut,
		RefundClaimed: true,
		CreatedAt:     time.Now().Add(-time.Hour),
	}
	expectRequestFetch(mock, req)

	_, err := v.ClaimRefund(context.Background(), "exh_1", "alice")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestClaimRefundWrongClaimant(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	req := &model.RevealRequest{
		RequestID:    "req_1",
		ExhibitionID: "exh_1",
		Requester:    "alice",
		Status:       model.StatusTimedOut,
		CreatedAt:    time.Now().Add(-time.Hour),
	}
	expectRequestFetch(mock, req)

	_, err := v.ClaimRefund(context.Background(), "exh_1", "mallory")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestClaimRefundNoRequest(t *testing.T) {
	v, mock := newTestVeil(t, nil)

	mock.ExpectQuery("FROM reveal_requests").
		WithArgs("exh_1").
		WillReturnRows(sqlmock.NewRows(revealRequestColumns()))

	_, err := v.ClaimRefund(context.Background(), "exh_1", "alice")
	assert.ErrorIs(t, err, ErrNoRequest)
}
