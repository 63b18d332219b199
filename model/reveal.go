package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"
)

const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusTimedOut  = "TIMED_OUT"
)

// RevealRequest tracks one outstanding decryption request against the
// oracle. Status starts at PENDING and moves exactly once to one of the
// terminal states; the record is never deleted and serves as a permanent
// audit trail.
type RevealRequest struct {
	ID               int64                  `json:"-"`
	RequestID        string                 `json:"id"`
	ExhibitionID     string                 `json:"exhibition_id"`
	Requester        string                 `json:"requester"`
	Status           string                 `json:"status"`
	CallbackConsumed bool                   `json:"callback_consumed"`
	RefundClaimed    bool                   `json:"refund_claimed"`
	CreatedAt        time.Time              `json:"created_at"`
	MetaData         map[string]interface{} `json:"meta_data,omitempty"`
}

// IsTerminal reports whether the request has left PENDING.
func (r *RevealRequest) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed || r.Status == StatusTimedOut
}

// TimedOut reports whether the request is still pending and its
// decryption deadline has elapsed.
func (r *RevealRequest) TimedOut(now time.Time, timeout time.Duration) bool {
	return r.Status == StatusPending && !now.Before(r.CreatedAt.Add(timeout))
}

// WithinRefundWindow reports whether a refund claim filed at now is
// still inside the compensation window.
func (r *RevealRequest) WithinRefundWindow(now time.Time, window time.Duration) bool {
	return !now.After(r.CreatedAt.Add(window))
}

func (r *RevealRequest) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// RevealedStatistic is the post-processed cleartext result of a
// completed reveal. Written at most once per exhibition, immutable
// afterwards.
type RevealedStatistic struct {
	ID                int64     `json:"-"`
	StatisticID       string    `json:"statistic_id"`
	ExhibitionID      string    `json:"exhibition_id"`
	RequestID         string    `json:"request_id"`
	RawCount          uint64    `json:"raw_count"`
	RawSum            uint64    `json:"raw_sum"`
	ObfuscatedAverage uint64    `json:"obfuscated_average"`
	CreatedAt         time.Time `json:"created_at"`
}

// Cleartexts is the decoded oracle payload: the decrypted participation
// count and value sum for one exhibition.
type Cleartexts struct {
	Count uint64 `json:"count"`
	Sum   uint64 `json:"sum"`
}

// DecodeCleartexts parses the oracle's cleartext payload. A payload that
// does not decode is treated by the caller as a failed reveal, not a
// transport error.
func DecodeCleartexts(raw []byte) (Cleartexts, error) {
	var c Cleartexts
	if len(raw) == 0 {
		return c, errors.New("empty cleartext payload")
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, err
	}
	return c, nil
}

// PrivacyParams holds the constants that shape the obfuscated average.
type PrivacyParams struct {
	PrecisionScale       uint64
	SmallSampleThreshold uint64
	MaxScaleValue        uint64
	NoiseRange           uint64
}

// ComputeObfuscatedAverage derives the publishable average from the
// revealed sum and count. The sum is scaled before dividing so integer
// arithmetic keeps fractional precision; consumers divide by
// PrecisionScale to recover the human-readable value.
//
// Below the small-sample threshold a deterministic noise offset, derived
// from the exhibition ID and the current noise epoch, is added and the
// result wrapped modulo MaxScaleValue*PrecisionScale. Two observers of a
// thin exhibition therefore never see the exact sum/count pair, while
// consumers who know the epoch can still reproduce the offset.
func ComputeObfuscatedAverage(sum, count uint64, exhibitionID string, nonce uint64, p PrivacyParams) uint64 {
	if count == 0 {
		return 0
	}
	base := sum * p.PrecisionScale / count
	if count >= p.SmallSampleThreshold {
		return base
	}
	return (base + noiseOffset(exhibitionID, nonce, p.NoiseRange)) % (p.MaxScaleValue * p.PrecisionScale)
}

// noiseOffset hashes the exhibition ID together with the noise epoch and
// reduces the digest into [0, bound).
func noiseOffset(exhibitionID string, nonce uint64, bound uint64) uint64 {
	if bound == 0 {
		return 0
	}
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	h := sha256.New()
	h.Write([]byte(exhibitionID))
	h.Write(nonceBytes[:])
	digest := h.Sum(nil)
	return binary.BigEndian.Uint64(digest[:8]) % bound
}
