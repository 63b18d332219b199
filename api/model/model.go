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
package model

import (
	"encoding/json"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/veilstats/veil/model"
)

// CreateExhibition is the request body for registering an exhibition.
type CreateExhibition struct {
	Name      string                 `json:"name"`
	Organizer string                 `json:"organizer"`
	MetaData  map[string]interface{} `json:"meta_data,omitempty"`
}

func (e *CreateExhibition) ValidateCreateExhibition() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.Name, validation.Required),
		validation.Field(&e.Organizer, validation.Required),
	)
}

func (e *CreateExhibition) ToExhibition() model.Exhibition {
	return model.Exhibition{
		Name:      e.Name,
		Organizer: e.Organizer,
		MetaData:  e.MetaData,
	}
}

// RecordContribution carries the contributor's updated running
// ciphertexts. The homomorphic addition happened client-side; the
// service only stores the opaque blobs.
type RecordContribution struct {
	EncryptedCount string `json:"encrypted_count"`
	EncryptedSum   string `json:"encrypted_sum"`
}

func (r *RecordContribution) ValidateRecordContribution() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.EncryptedCount, validation.Required),
		validation.Field(&r.EncryptedSum, validation.Required),
	)
}

// RequestReveal is the request body for issuing a decryption request.
type RequestReveal struct {
	Requester string `json:"requester"`
}

func (r *RequestReveal) ValidateRequestReveal() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Requester, validation.Required),
	)
}

// OracleCallback is the oracle's reveal result: the raw cleartext
// payload and the base64 Schnorr proof over it. Cleartexts stay a raw
// message so a malformed payload reaches the service layer and is
// judged there, not rejected at binding.
type OracleCallback struct {
	RequestID  string          `json:"request_id"`
	Cleartexts json.RawMessage `json:"cleartexts"`
	Proof      string          `json:"proof"`
}

func (o *OracleCallback) ValidateOracleCallback() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.RequestID, validation.Required),
		validation.Field(&o.Proof, validation.Required),
	)
}

// ClaimRefund is the request body for claiming compensation on a
// failed or timed-out reveal.
type ClaimRefund struct {
	Claimant string `json:"claimant"`
}

func (c *ClaimRefund) ValidateClaimRefund() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Claimant, validation.Required),
	)
}
