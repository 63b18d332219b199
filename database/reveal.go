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
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/veilstats/veil/internal/apierror"
	"github.com/veilstats/veil/model"
)

// CreateRevealRequest persists a freshly created PENDING request.
func (d Datasource) CreateRevealRequest(ctx context.Context, req *model.RevealRequest) (*model.RevealRequest, error) {
	metaDataJSON, err := json.Marshal(req.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO reveal_requests (request_id, exhibition_id, requester, status, callback_consumed, refund_claimed, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, req.RequestID, req.ExhibitionID, req.Requester, req.Status, req.CallbackConsumed, req.RefundClaimed, req.CreatedAt, metaDataJSON)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create reveal request", err)
	}

	return req, nil
}

func (d Datasource) GetRevealRequest(ctx context.Context, requestID string) (*model.RevealRequest, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, request_id, exhibition_id, requester, status, callback_consumed, refund_claimed, created_at, meta_data
		FROM reveal_requests
		WHERE request_id = $1
	`, requestID)

	return scanRevealRequest(row, fmt.Sprintf("Reveal request with ID '%s' not found", requestID))
}

// GetRevealRequestByExhibition returns the most recent request for an
// exhibition. Earlier terminal requests remain on record but only the
// latest one matters to the protocol.
func (d Datasource) GetRevealRequestByExhibition(ctx context.Context, exhibitionID string) (*model.RevealRequest, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, request_id, exhibition_id, requester, status, callback_consumed, refund_claimed, created_at, meta_data
		FROM reveal_requests
		WHERE exhibition_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, exhibitionID)

	return scanRevealRequest(row, fmt.Sprintf("No reveal request found for exhibition '%s'", exhibitionID))
}

func scanRevealRequest(row *sql.Row, notFoundMsg string) (*model.RevealRequest, error) {
	req := &model.RevealRequest{}
	var metaDataJSON []byte
	err := row.Scan(
		&req.ID,
		&req.RequestID,
		&req.ExhibitionID,
		&req.Requester,
		&req.Status,
		&req.CallbackConsumed,
		&req.RefundClaimed,
		&req.CreatedAt,
		&metaDataJSON,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, notFoundMsg, err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve reveal request", err)
	}

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &req.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	return req, nil
}

// CompleteRevealRequest moves a request from PENDING to COMPLETED,
// writes the derived statistic and releases the exhibition's pending
// slot, all in one transaction. The status flip is conditional; a false
// return means another path (a duplicate callback or a timeout) already
// finalized the request and nothing was written.
func (d Datasource) CompleteRevealRequest(ctx context.Context, req *model.RevealRequest, stat *model.RevealedStatistic) (bool, error) {
	ctx, span := otel.Tracer("reveal.database").Start(ctx, "CompleteRevealRequest")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			logrus.Error("transaction rollback failed: ", err)
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE reveal_requests
		SET status = $2, callback_consumed = TRUE
		WHERE request_id = $1 AND status = 'PENDING' AND callback_consumed = FALSE
	`, req.RequestID, model.StatusCompleted)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete reveal request", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO revealed_statistics (statistic_id, exhibition_id, request_id, raw_count, raw_sum, obfuscated_average, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, stat.StatisticID, stat.ExhibitionID, stat.RequestID, stat.RawCount, stat.RawSum, stat.ObfuscatedAverage, stat.CreatedAt)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record revealed statistic", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE exhibitions
		SET reveal_pending = FALSE, pending_request_id = NULL
		WHERE exhibition_id = $1
	`, req.ExhibitionID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to clear reveal pending flag", err)
	}

	if err := tx.Commit(); err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	d.invalidateExhibition(ctx, req.ExhibitionID)
	return true, nil
}

// FinalizeRevealRequest moves a request from PENDING to the given
// terminal status (FAILED or TIMED_OUT) and releases the exhibition's
// pending slot. consumeCallback marks the callback as spent and is set
// only on the callback path; the timeout path leaves it untouched since
// the status guard alone excludes late callbacks. Returns false when the
// request already left PENDING.
func (d Datasource) FinalizeRevealRequest(ctx context.Context, requestID, exhibitionID, status string, consumeCallback bool) (bool, error) {
	ctx, span := otel.Tracer("reveal.database").Start(ctx, "FinalizeRevealRequest")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			logrus.Error("transaction rollback failed: ", err)
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE reveal_requests
		SET status = $2, callback_consumed = callback_consumed OR $3
		WHERE request_id = $1 AND status = 'PENDING' AND callback_consumed = FALSE
	`, requestID, status, consumeCallback)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to finalize reveal request", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE exhibitions
		SET reveal_pending = FALSE, pending_request_id = NULL
		WHERE exhibition_id = $1
	`, exhibitionID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to clear reveal pending flag", err)
	}

	if err := tx.Commit(); err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	d.invalidateExhibition(ctx, exhibitionID)
	return true, nil
}

// MarkRefundClaimed flips refund_claimed exactly once. The eligibility
// checks (terminal non-completed status, refund window) live in the
// service layer; the conditional update is the last line of defense
// against double claims racing past those checks.
func (d Datasource) MarkRefundClaimed(ctx context.Context, requestID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE reveal_requests
		SET refund_claimed = TRUE
		WHERE request_id = $1 AND refund_claimed = FALSE AND status IN ('FAILED', 'TIMED_OUT')
	`, requestID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark refund claimed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	return rowsAffected > 0, nil
}

func (d Datasource) GetRevealedStatistic(ctx context.Context, exhibitionID string) (*model.RevealedStatistic, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, statistic_id, exhibition_id, request_id, raw_count, raw_sum, obfuscated_average, created_at
		FROM revealed_statistics
		WHERE exhibition_id = $1
	`, exhibitionID)

	stat := &model.RevealedStatistic{}
	err := row.Scan(
		&stat.ID,
		&stat.StatisticID,
		&stat.ExhibitionID,
		&stat.RequestID,
		&stat.RawCount,
		&stat.RawSum,
		&stat.ObfuscatedAverage,
		&stat.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No revealed statistic for exhibition '%s'", exhibitionID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve revealed statistic", err)
	}

	return stat, nil
}

// GetNoiseEpoch reads the process-wide noise nonce.
func (d Datasource) GetNoiseEpoch(ctx context.Context) (uint64, error) {
	var nonce uint64
	err := d.Conn.QueryRowContext(ctx, `SELECT nonce FROM noise_epochs WHERE id = 1`).Scan(&nonce)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read noise epoch", err)
	}
	return nonce, nil
}

// AdvanceNoiseEpoch increments the noise nonce and returns the new
// value. Only the administrative refresh operation calls this; revealed
// averages computed before the refresh stay as recorded.
func (d Datasource) AdvanceNoiseEpoch(ctx context.Context) (uint64, error) {
	var nonce uint64
	err := d.Conn.QueryRowContext(ctx, `
		UPDATE noise_epochs
		SET nonce = nonce + 1, updated_at = NOW()
		WHERE id = 1
		RETURNING nonce
	`).Scan(&nonce)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to advance noise epoch", err)
	}
	return nonce, nil
}
