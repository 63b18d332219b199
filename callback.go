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

// SubmitRevealResult processes the oracle's callback for a pending
// reveal request. The cleartext payload and proof decide the outcome:
// a valid proof over well-formed cleartexts completes the request and
// records the obfuscated statistic; a bad proof or malformed payload
// finalizes the request as FAILED. Either way the callback is consumed
// exactly once; a replay or a callback arriving after a timeout gets
// ErrAlreadyFinalized and mutates nothing.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - requestID string: The ID of the reveal request being resolved.
// - cleartexts []byte: The oracle's JSON cleartext payload {count, sum}.
// - proof []byte: The Schnorr signature over (requestID, count, sum).
//
// Returns:
// - *model.RevealRequest: The request in its terminal state.
// - error: ErrAlreadyFinalized, a not-found error, or an internal error.
func (l *Veil) SubmitRevealResult(ctx context.Context, requestID string, cleartexts, proof []byte) (*model.RevealRequest, error) {
	ctx, span := tracer.Start(ctx, "Processing reveal callback")
	defer span.End()

	req, err := l.datasource.GetRevealRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() || req.CallbackConsumed {
		return nil, ErrAlreadyFinalized
	}

	locker, err := l.acquireLock(ctx, req.ExhibitionID)
	if err != nil {
		return nil, logAndRecordError(span, "acquire lock error: ", err)
	}
	defer l.releaseLock(ctx, locker)

	decoded, decodeErr := model.DecodeCleartexts(cleartexts)
	if decodeErr != nil {
		span.AddEvent("malformed cleartext payload")
		return l.failReveal(ctx, req)
	}

	if err := l.verifier.Verify(requestID, decoded.Count, decoded.Sum, proof); err != nil {
		span.AddEvent("proof verification failed")
		logrus.Warnf("rejecting reveal result for %s: %v", requestID, err)
		return l.failReveal(ctx, req)
	}

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	nonce, err := l.datasource.GetNoiseEpoch(ctx)
	if err != nil {
		return nil, logAndRecordError(span, "read noise epoch error: ", err)
	}

	stat := &model.RevealedStatistic{
		StatisticID:  model.GenerateUUIDWithSuffix("stat"),
		ExhibitionID: req.ExhibitionID,
		RequestID:    req.RequestID,
		RawCount:     decoded.Count,
		RawSum:       decoded.Sum,
		ObfuscatedAverage: model.ComputeObfuscatedAverage(decoded.Sum, decoded.Count, req.ExhibitionID, nonce, model.PrivacyParams{
			PrecisionScale:       cfg.Privacy.PrecisionScale,
			SmallSampleThreshold: cfg.Privacy.SmallSampleThreshold,
			MaxScaleValue:        cfg.Privacy.MaxScaleValue,
			NoiseRange:           cfg.Privacy.NoiseRange,
		}),
		CreatedAt: l.now(),
	}

	won, err := l.datasource.CompleteRevealRequest(ctx, req, stat)
	if err != nil {
		return nil, logAndRecordError(span, "complete reveal request error: ", err)
	}
	if !won {
		return nil, ErrAlreadyFinalized
	}

	req.Status = model.StatusCompleted
	req.CallbackConsumed = true

	if err := SendWebhook(NewWebhook{Event: EventRevealCompleted, Payload: map[string]interface{}{
		"request":   req,
		"statistic": stat,
	}}); err != nil {
		logrus.Error("failed to send webhook: ", err)
	}

	return req, nil
}

// failReveal finalizes a request as FAILED on the callback path. The
// callback is consumed: the oracle answered, the answer was just not
// acceptable, so a corrected replay is not allowed either.
func (l *Veil) failReveal(ctx context.Context, req *model.RevealRequest) (*model.RevealRequest, error) {
	won, err := l.datasource.FinalizeRevealRequest(ctx, req.RequestID, req.ExhibitionID, model.StatusFailed, true)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyFinalized
	}

	req.Status = model.StatusFailed
	req.CallbackConsumed = true

	if err := SendWebhook(NewWebhook{Event: EventRevealFailed, Payload: req}); err != nil {
		logrus.Error("failed to send webhook: ", err)
	}
	return req, nil
}
