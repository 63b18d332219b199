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

package database

import (
	"context"

	"github.com/veilstats/veil/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	exhibition // Interface for exhibition ledger operations
	reveal     // Interface for reveal request lifecycle operations
	noiseEpoch // Interface for privacy noise epoch operations
}

// exhibition defines methods for the exhibition ledger: the registry of
// groups, their opaque encrypted aggregates and the pending-reveal flag.
type exhibition interface {
	CreateExhibition(ctx context.Context, exhibition model.Exhibition) (model.Exhibition, error)            // Creates a new exhibition
	GetExhibition(ctx context.Context, id string) (*model.Exhibition, error)                                // Retrieves an exhibition by ID
	GetAllExhibitions(ctx context.Context, limit, offset int) ([]model.Exhibition, error)                   // Retrieves all exhibitions
	RecordContribution(ctx context.Context, id, encryptedCount, encryptedSum string) (*model.Exhibition, error) // Replaces the encrypted aggregates and bumps the participation counter
	SetRevealPending(ctx context.Context, exhibitionID, requestID string) (bool, error)                     // Atomically flips the pending flag; false when a request is already pending
	ClearRevealPending(ctx context.Context, exhibitionID string) error                                      // Clears the pending flag (idempotent)
}

// reveal defines methods for handling reveal requests and their derived
// statistics. Terminal transitions are conditional updates: the boolean
// result reports whether this caller won the transition.
type reveal interface {
	CreateRevealRequest(ctx context.Context, req *model.RevealRequest) (*model.RevealRequest, error)                     // Records a new PENDING request
	GetRevealRequest(ctx context.Context, requestID string) (*model.RevealRequest, error)                                // Retrieves a request by ID
	GetRevealRequestByExhibition(ctx context.Context, exhibitionID string) (*model.RevealRequest, error)                 // Retrieves the most recent request for an exhibition
	CompleteRevealRequest(ctx context.Context, req *model.RevealRequest, stat *model.RevealedStatistic) (bool, error)    // PENDING -> COMPLETED plus statistic row, one transaction
	FinalizeRevealRequest(ctx context.Context, requestID, exhibitionID, status string, consumeCallback bool) (bool, error) // PENDING -> FAILED or TIMED_OUT
	MarkRefundClaimed(ctx context.Context, requestID string) (bool, error)                                               // Flips refund_claimed exactly once
	GetRevealedStatistic(ctx context.Context, exhibitionID string) (*model.RevealedStatistic, error)                     // Retrieves the revealed statistic for an exhibition
}

// noiseEpoch defines methods for the process-wide privacy nonce.
type noiseEpoch interface {
	GetNoiseEpoch(ctx context.Context) (uint64, error)     // Reads the current nonce
	AdvanceNoiseEpoch(ctx context.Context) (uint64, error) // Increments the nonce, returns the new value
}
