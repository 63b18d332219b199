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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilstats/veil/config"
	redlock "github.com/veilstats/veil/internal/lock"
	"github.com/veilstats/veil/model"
)

const (
	lockDuration    = 30 * time.Second
	lockWaitTimeout = 5 * time.Second
)

// acquireLock takes the redis lock that serializes state-mutating
// operations for one exhibition's reveal lifecycle. Callbacks, forced
// timeouts and refund claims for the same exhibition cannot interleave
// while a holder is inside the critical section.
func (l *Veil) acquireLock(ctx context.Context, exhibitionID string) (*redlock.Locker, error) {
	locker := redlock.NewLocker(l.redis, fmt.Sprintf("reveal:%s", exhibitionID), model.GenerateUUIDWithSuffix("loc"))
	err := locker.WaitLock(ctx, lockDuration, lockWaitTimeout)
	if err != nil {
		return nil, err
	}
	return locker, nil
}

func (l *Veil) releaseLock(ctx context.Context, locker *redlock.Locker) {
	if err := locker.Unlock(ctx); err != nil {
		logrus.Error("failed to release lock: ", err)
	}
}

// RequestReveal issues a new decryption request for an exhibition's
// encrypted aggregates. The requester must be the exhibition organizer
// or the configured admin identity, the exhibition must have at least
// one participant, and no other request may be pending.
//
// On success the request is persisted as PENDING, the oracle dispatch
// and the expiry sweep are enqueued, and a reveal.requested event is
// emitted. The request will resolve through exactly one of: the oracle
// callback (COMPLETED or FAILED) or a timeout (TIMED_OUT).
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - exhibitionID string: The ID of the exhibition to reveal.
// - requester string: The identity issuing the request.
//
// Returns:
// - *model.RevealRequest: The newly created PENDING request.
// - error: ErrExhibitionNotFound, ErrNotAuthorized, ErrNoParticipants,
//   ErrRequestAlreadyPending, or an internal error.
func (l *Veil) RequestReveal(ctx context.Context, exhibitionID, requester string) (*model.RevealRequest, error) {
	ctx, span := tracer.Start(ctx, "Requesting reveal")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	exhibition, err := l.GetExhibition(ctx, exhibitionID)
	if err != nil {
		return nil, err
	}
	if requester != exhibition.Organizer && requester != cfg.Oracle.AdminIdentity {
		return nil, ErrNotAuthorized
	}
	if exhibition.ParticipationCount == 0 {
		return nil, ErrNoParticipants
	}
	if exhibition.RevealPending {
		return nil, ErrRequestAlreadyPending
	}

	locker, err := l.acquireLock(ctx, exhibitionID)
	if err != nil {
		return nil, logAndRecordError(span, "acquire lock error: ", err)
	}
	defer l.releaseLock(ctx, locker)

	req := &model.RevealRequest{
		RequestID:    model.GenerateUUIDWithSuffix("req"),
		ExhibitionID: exhibitionID,
		Requester:    requester,
		Status:       model.StatusPending,
		CreatedAt:    l.now(),
	}

	// The pending flag is the authoritative exclusion gate; losing the
	// conditional flip means another request won the slot.
	ok, err := l.datasource.SetRevealPending(ctx, exhibitionID, req.RequestID)
	if err != nil {
		return nil, logAndRecordError(span, "set reveal pending error: ", err)
	}
	if !ok {
		return nil, ErrRequestAlreadyPending
	}

	if _, err := l.datasource.CreateRevealRequest(ctx, req); err != nil {
		if clearErr := l.datasource.ClearRevealPending(ctx, exhibitionID); clearErr != nil {
			logrus.Error("failed to roll back pending flag: ", clearErr)
		}
		return nil, logAndRecordError(span, "create reveal request error: ", err)
	}

	span.AddEvent("reveal request persisted")

	if err := l.queue.queueOracleDispatch(OracleDispatch{
		RequestID:      req.RequestID,
		ExhibitionID:   exhibitionID,
		EncryptedCount: exhibition.EncryptedCount,
		EncryptedSum:   exhibition.EncryptedSum,
		CallbackURL:    cfg.Oracle.CallbackUrl,
	}); err != nil {
		return nil, logAndRecordError(span, "enqueue oracle dispatch error: ", err)
	}

	if err := l.queue.queueRevealExpiry(req.RequestID, req.CreatedAt.Add(cfg.Oracle.DecryptionTimeout)); err != nil {
		// The permissionless ForceTimeout endpoint remains as the
		// liveness backstop when the sweep could not be scheduled.
		logrus.Error("failed to schedule reveal expiry: ", err)
	}

	if err := SendWebhook(NewWebhook{Event: EventRevealRequested, Payload: req}); err != nil {
		logrus.Error("failed to send webhook: ", err)
	}

	return req, nil
}
