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

	"github.com/veilstats/veil/internal/apierror"
	"github.com/veilstats/veil/model"
)

func isNotFound(err error) bool {
	apiErr, ok := err.(apierror.APIError)
	return ok && apiErr.Code == apierror.ErrNotFound
}

// CreateExhibition registers a new exhibition with zeroed encrypted
// aggregates. Contributions and reveal requests reference it by the
// generated exhibition ID.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - exhibition model.Exhibition: The exhibition details (name, organizer, metadata).
//
// Returns:
// - model.Exhibition: The created exhibition with its generated ID.
// - error: An error if the creation fails.
func (l *Veil) CreateExhibition(ctx context.Context, exhibition model.Exhibition) (model.Exhibition, error) {
	ctx, span := tracer.Start(ctx, "Creating exhibition")
	defer span.End()

	exhibition.CreatedAt = l.now()
	created, err := l.datasource.CreateExhibition(ctx, exhibition)
	if err != nil {
		return model.Exhibition{}, logAndRecordError(span, "create exhibition error: ", err)
	}
	return created, nil
}

// GetExhibition retrieves an exhibition by its ID.
func (l *Veil) GetExhibition(ctx context.Context, id string) (*model.Exhibition, error) {
	ctx, span := tracer.Start(ctx, "Fetching exhibition")
	defer span.End()

	exhibition, err := l.datasource.GetExhibition(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrExhibitionNotFound
		}
		return nil, logAndRecordError(span, "fetch exhibition error: ", err)
	}
	return exhibition, nil
}

// GetAllExhibitions retrieves a page of exhibitions.
func (l *Veil) GetAllExhibitions(ctx context.Context, limit, offset int) ([]model.Exhibition, error) {
	return l.datasource.GetAllExhibitions(ctx, limit, offset)
}

// RecordContribution replaces the exhibition's opaque encrypted
// aggregates with the caller's updated ciphertexts and increments the
// participation counter. The homomorphic addition happens in the
// encryption domain before the ciphertexts reach this service.
//
// Rejected with ErrRequestAlreadyPending while a reveal is in flight,
// so the aggregates handed to the oracle cannot drift under an open
// request.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - exhibitionID string: The ID of the exhibition.
// - encryptedCount string: The updated encrypted participation count.
// - encryptedSum string: The updated encrypted value sum.
//
// Returns:
// - *model.Exhibition: The exhibition after the contribution.
// - error: An error if the contribution could not be recorded.
func (l *Veil) RecordContribution(ctx context.Context, exhibitionID, encryptedCount, encryptedSum string) (*model.Exhibition, error) {
	ctx, span := tracer.Start(ctx, "Recording contribution")
	defer span.End()

	exhibition, err := l.datasource.GetExhibition(ctx, exhibitionID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrExhibitionNotFound
		}
		return nil, logAndRecordError(span, "fetch exhibition error: ", err)
	}
	if exhibition.RevealPending {
		return nil, ErrRequestAlreadyPending
	}

	updated, err := l.datasource.RecordContribution(ctx, exhibitionID, encryptedCount, encryptedSum)
	if err != nil {
		// The conditional update loses when a reveal request slipped in
		// between the check above and the write.
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
			return nil, ErrRequestAlreadyPending
		}
		return nil, logAndRecordError(span, "record contribution error: ", err)
	}
	return updated, nil
}
