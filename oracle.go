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
	"encoding/binary"
	"encoding/hex"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/suites"
	"golang.org/x/xerrors"
)

var suite = suites.MustFind("Ed25519")

// OracleDispatch is the payload handed to the oracle worker: everything
// the external decryption oracle needs to process one reveal request
// and call back with the result.
type OracleDispatch struct {
	RequestID      string `json:"request_id"`
	ExhibitionID   string `json:"exhibition_id"`
	EncryptedCount string `json:"encrypted_count"`
	EncryptedSum   string `json:"encrypted_sum"`
	CallbackURL    string `json:"callback_url"`
}

// ProofVerifier checks the Schnorr signature the oracle attaches to
// every reveal result. The signed message binds the cleartexts to the
// request ID, so a valid proof for one request can never be replayed
// against another.
type ProofVerifier struct {
	public kyber.Point
}

// NewProofVerifier builds a verifier from the hex-encoded Ed25519
// public key in the oracle configuration. An empty key is allowed and
// yields a verifier that rejects every proof; it keeps a misconfigured
// deployment from silently accepting forged results.
func NewProofVerifier(publicKeyHex string) (*ProofVerifier, error) {
	if publicKeyHex == "" {
		return &ProofVerifier{}, nil
	}
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, xerrors.Errorf("couldn't decode oracle public key: %v", err)
	}
	point := suite.Point()
	if err := point.UnmarshalBinary(raw); err != nil {
		return nil, xerrors.Errorf("couldn't unmarshal oracle public key: %v", err)
	}
	return &ProofVerifier{public: point}, nil
}

// Verify returns nil if the proof is a valid oracle signature over
// (requestID, count, sum).
func (v *ProofVerifier) Verify(requestID string, count, sum uint64, proof []byte) error {
	if v.public == nil {
		return xerrors.New("no oracle public key configured")
	}
	err := schnorr.Verify(suite, v.public, ProofMessage(requestID, count, sum), proof)
	if err != nil {
		return xerrors.Errorf("schnorr verify failed: %v", err)
	}
	return nil
}

// ProofMessage is the canonical byte encoding the oracle signs:
// the request ID followed by the big-endian count and sum.
func ProofMessage(requestID string, count, sum uint64) []byte {
	msg := make([]byte, 0, len(requestID)+16)
	msg = append(msg, []byte(requestID)...)
	msg = binary.BigEndian.AppendUint64(msg, count)
	msg = binary.BigEndian.AppendUint64(msg, sum)
	return msg
}
