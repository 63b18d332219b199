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

	"github.com/sirupsen/logrus"

	"github.com/veilstats/veil/config"
	"github.com/veilstats/veil/model"
)

// IsRequestTimedOut reports whether a reveal request is pending and
// past its decryption deadline. Read-only; the request is not mutated.
func (l *Veil) IsRequestTimedOut(ctx context.Context, requestID string) (bool, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return false, err
	}
	req, err := l.datasource.GetRevealRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	return req.TimedOut(l.now(), cfg.Oracle.DecryptionTimeout), nil
}

// ForceTimeout transitions an expired pending request to TIMED_OUT and
// releases the exhibition's pending slot. Anyone may call it; the
// timeout guard, not the caller's identity, is the authorization.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - requestID string: The ID of the reveal request.
//
// Returns:
// - *model.RevealRequest: The request in its TIMED_OUT state.
// - error: ErrNotTimedOut when the deadline has not elapsed,
//   ErrAlreadyFinalized when the request already left PENDING.
func (l *Veil) ForceTimeout(ctx context.Context, requestID string) (*model.RevealRequest, error) {
	ctx, span := tracer.Start(ctx, "Forcing reveal timeout")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	req, err := l.datasource.GetRevealRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return nil, ErrAlreadyFinalized
	}
	if !req.TimedOut(l.now(), cfg.Oracle.DecryptionTimeout) {
		return nil, ErrNotTimedOut
	}

	locker, err := l.acquireLock(ctx, req.ExhibitionID)
	if err != nil {
		return nil, logAndRecordError(span, "acquire lock error: ", err)
	}
	defer l.releaseLock(ctx, locker)

	// The callback is NOT consumed here: the status flip alone shuts
	// out a late oracle answer.
	won, err := l.datasource.FinalizeRevealRequest(ctx, req.RequestID, req.ExhibitionID, model.StatusTimedOut, false)
	if err != nil {
		return nil, logAndRecordError(span, "finalize reveal request error: ", err)
	}
	if !won {
		return nil, ErrAlreadyFinalized
	}

	req.Status = model.StatusTimedOut

	if err := SendWebhook(NewWebhook{Event: EventRevealTimedOut, Payload: req}); err != nil {
		logrus.Error("failed to send webhook: ", err)
	}

	return req, nil
}

// ClaimRefund records the one-time compensation claim for a reveal that
// ended FAILED or TIMED_OUT. The claimant must be the original
// requester or the admin identity, and the claim must land inside the
// refund window measured from the request's creation.
//
// A request that is still PENDING but past its decryption deadline is
// normalized to TIMED_OUT as part of the claim, so a requester never
// has to call ForceTimeout first.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - exhibitionID string: The exhibition whose latest request is claimed.
// - claimant string: The identity claiming the refund.
//
// Returns:
// - *model.RevealRequest: The request with refund_claimed set.
// - error: ErrNoRequest, ErrNotAuthorized, ErrNotEligible,
//   ErrAlreadyClaimed, ErrWindowExpired, or an internal error.
func (l *Veil) ClaimRefund(ctx context.Context, exhibitionID, claimant string) (*model.RevealRequest, error) {
	ctx, span := tracer.Start(ctx, "Claiming refund")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	req, err := l.datasource.GetRevealRequestByExhibition(ctx, exhibitionID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNoRequest
		}
		return nil, err
	}
	if claimant != req.Requester && claimant != cfg.Oracle.AdminIdentity {
		return nil, ErrNotAuthorized
	}
	if req.RefundClaimed {
		return nil, ErrAlreadyClaimed
	}

	locker, err := l.acquireLock(ctx, exhibitionID)
	if err != nil {
		return nil, logAndRecordError(span, "acquire lock error: ", err)
	}
	defer l.releaseLock(ctx, locker)

	now := l.now()

	if req.TimedOut(now, cfg.Oracle.DecryptionTimeout) {
		won, err := l.datasource.FinalizeRevealRequest(ctx, req.RequestID, req.ExhibitionID, model.StatusTimedOut, false)
		if err != nil {
			return nil, logAndRecordError(span, "finalize reveal request error: ", err)
		}
		if won {
			req.Status = model.StatusTimedOut
			if err := SendWebhook(NewWebhook{Event: EventRevealTimedOut, Payload: req}); err != nil {
				logrus.Error("failed to send webhook: ", err)
			}
		} else {
			// A callback or forced timeout beat the normalization;
			// re-read to judge eligibility against the real state.
			req, err = l.datasource.GetRevealRequest(ctx, req.RequestID)
			if err != nil {
				return nil, err
			}
		}
	}

	if req.Status != model.StatusFailed && req.Status != model.StatusTimedOut {
		return nil, ErrNotEligible
	}
	if !req.WithinRefundWindow(now, cfg.Oracle.RefundWindow) {
		return nil, ErrWindowExpired
	}

	claimed, err := l.datasource.MarkRefundClaimed(ctx, req.RequestID)
	if err != nil {
		return nil, logAndRecordError(span, "mark refund claimed error: ", err)
	}
	if !claimed {
		return nil, ErrAlreadyClaimed
	}

	req.RefundClaimed = true

	if err := SendWebhook(NewWebhook{Event: EventRefundClaimed, Payload: req}); err != nil {
		logrus.Error("failed to send webhook: ", err)
	}

	return req, nil
}

// RefreshNoiseEpoch advances the process-wide noise nonce. Statistics
// revealed after the refresh use the new epoch; already recorded
// averages are immutable. Exposed only on the admin-gated API route.
func (l *Veil) RefreshNoiseEpoch(ctx context.Context) (uint64, error) {
	return l.datasource.AdvanceNoiseEpoch(ctx)
}

// GetRevealRequest retrieves a reveal request by ID.
func (l *Veil) GetRevealRequest(ctx context.Context, requestID string) (*model.RevealRequest, error) {
	return l.datasource.GetRevealRequest(ctx, requestID)
}

// GetRevealedStatistic retrieves the revealed statistic for an
// exhibition. The API layer exposes only the obfuscated average and
// the raw count; the raw sum stays in the audit record.
func (l *Veil) GetRevealedStatistic(ctx context.Context, exhibitionID string) (*model.RevealedStatistic, error) {
	stat, err := l.datasource.GetRevealedStatistic(ctx, exhibitionID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrStatisticNotFound
		}
		return nil, err
	}
	return stat, nil
}
