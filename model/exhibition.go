package model

import (
	"encoding/json"
	"time"
)

// Exhibition is the logical group whose encrypted aggregates may be
// revealed. The encrypted count and sum are opaque ciphertexts owned by
// the encryption domain; this service only carries them to the oracle.
// The participation counter is the only plaintext aggregate.
type Exhibition struct {
	ID                 int64                  `json:"-"`
	ExhibitionID       string                 `json:"exhibition_id"`
	Name               string                 `json:"name"`
	Organizer          string                 `json:"organizer"`
	EncryptedCount     string                 `json:"encrypted_count"`
	EncryptedSum       string                 `json:"encrypted_sum"`
	ParticipationCount uint64                 `json:"participation_count"`
	RevealPending      bool                   `json:"reveal_pending"`
	PendingRequestID   string                 `json:"pending_request_id,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	MetaData           map[string]interface{} `json:"meta_data,omitempty"`
}

func (e *Exhibition) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
