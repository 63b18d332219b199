package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veilstats/veil/internal/apierror"
	"github.com/veilstats/veil/model"
)

const exhibitionCacheTTL = 5 * time.Minute

func exhibitionCacheKey(id string) string {
	return fmt.Sprintf("exhibition:%s", id)
}

func (d Datasource) CreateExhibition(ctx context.Context, exhibition model.Exhibition) (model.Exhibition, error) {
	metaDataJSON, err := json.Marshal(exhibition.MetaData)
	if err != nil {
		return model.Exhibition{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	exhibition.ExhibitionID = model.GenerateUUIDWithSuffix("exh")
	if exhibition.CreatedAt.IsZero() {
		exhibition.CreatedAt = time.Now()
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO exhibitions (exhibition_id, name, organizer, encrypted_count, encrypted_sum, participation_count, reveal_pending, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, exhibition.ExhibitionID, exhibition.Name, exhibition.Organizer, exhibition.EncryptedCount, exhibition.EncryptedSum, exhibition.ParticipationCount, false, exhibition.CreatedAt, metaDataJSON)
	if err != nil {
		return model.Exhibition{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create exhibition", err)
	}

	return exhibition, nil
}

func (d Datasource) GetExhibition(ctx context.Context, id string) (*model.Exhibition, error) {
	if d.Cache != nil {
		cached := &model.Exhibition{}
		if err := d.Cache.Get(ctx, exhibitionCacheKey(id), cached); err == nil && cached.ExhibitionID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, exhibition_id, name, organizer, encrypted_count, encrypted_sum, participation_count, reveal_pending, COALESCE(pending_request_id, ''), created_at, meta_data
		FROM exhibitions
		WHERE exhibition_id = $1
	`, id)

	exhibition := &model.Exhibition{}
	var metaDataJSON []byte
	err := row.Scan(
		&exhibition.ID,
		&exhibition.ExhibitionID,
		&exhibition.Name,
		&exhibition.Organizer,
		&exhibition.EncryptedCount,
		&exhibition.EncryptedSum,
		&exhibition.ParticipationCount,
		&exhibition.RevealPending,
		&exhibition.PendingRequestID,
		&exhibition.CreatedAt,
		&metaDataJSON,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Exhibition with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve exhibition", err)
	}

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &exhibition.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, exhibitionCacheKey(id), exhibition, exhibitionCacheTTL); err != nil {
			// Cache misses are tolerable; the database stays authoritative.
			fmt.Println(err)
		}
	}

	return exhibition, nil
}

func (d Datasource) GetAllExhibitions(ctx context.Context, limit, offset int) ([]model.Exhibition, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, exhibition_id, name, organizer, encrypted_count, encrypted_sum, participation_count, reveal_pending, COALESCE(pending_request_id, ''), created_at, meta_data
		FROM exhibitions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve exhibitions", err)
	}
	defer rows.Close()

	var exhibitions []model.Exhibition
	for rows.Next() {
		exhibition := model.Exhibition{}
		var metaDataJSON []byte
		err = rows.Scan(
			&exhibition.ID,
			&exhibition.ExhibitionID,
			&exhibition.Name,
			&exhibition.Organizer,
			&exhibition.EncryptedCount,
			&exhibition.EncryptedSum,
			&exhibition.ParticipationCount,
			&exhibition.RevealPending,
			&exhibition.PendingRequestID,
			&exhibition.CreatedAt,
			&metaDataJSON,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan exhibition data", err)
		}
		if len(metaDataJSON) > 0 {
			if err := json.Unmarshal(metaDataJSON, &exhibition.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
			}
		}
		exhibitions = append(exhibitions, exhibition)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over exhibitions", err)
	}

	return exhibitions, nil
}

// RecordContribution replaces the opaque encrypted aggregates with the
// caller-supplied running ciphertexts and bumps the visible counter.
// Rejected while a reveal is pending so the aggregates handed to the
// oracle stay stable for the lifetime of the request.
func (d Datasource) RecordContribution(ctx context.Context, id, encryptedCount, encryptedSum string) (*model.Exhibition, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE exhibitions
		SET encrypted_count = $2, encrypted_sum = $3, participation_count = participation_count + 1
		WHERE exhibition_id = $1 AND reveal_pending = FALSE
	`, id, encryptedCount, encryptedSum)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record contribution", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Exhibition '%s' not found or has a reveal in progress", id), nil)
	}

	d.invalidateExhibition(ctx, id)
	return d.GetExhibition(ctx, id)
}

// SetRevealPending atomically claims the exhibition's single pending
// slot for requestID. Returns false when another request already holds
// it; this is the mutual-exclusion mechanism behind "at most one
// outstanding request per exhibition".
func (d Datasource) SetRevealPending(ctx context.Context, exhibitionID, requestID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE exhibitions
		SET reveal_pending = TRUE, pending_request_id = $2
		WHERE exhibition_id = $1 AND reveal_pending = FALSE
	`, exhibitionID, requestID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set reveal pending flag", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	d.invalidateExhibition(ctx, exhibitionID)
	return rowsAffected > 0, nil
}

// ClearRevealPending releases the pending slot. Idempotent: clearing an
// already-clear flag is not an error, which keeps refund claims safe
// after a callback or timeout has already released it.
func (d Datasource) ClearRevealPending(ctx context.Context, exhibitionID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE exhibitions
		SET reveal_pending = FALSE, pending_request_id = NULL
		WHERE exhibition_id = $1
	`, exhibitionID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to clear reveal pending flag", err)
	}

	d.invalidateExhibition(ctx, exhibitionID)
	return nil
}

func (d Datasource) invalidateExhibition(ctx context.Context, id string) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.Delete(ctx, exhibitionCacheKey(id)); err != nil {
		fmt.Println(err)
	}
}
