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
package api

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/veilstats/veil/api/model"
)

// RequestReveal issues a decryption request for an exhibition's
// encrypted aggregates.
//
// Responses:
// - 400 Bad Request: If binding or validation fails, or the exhibition is empty.
// - 403 Forbidden: If the requester is not the organizer or admin.
// - 404 Not Found: If the exhibition does not exist.
// - 409 Conflict: If a request is already pending.
// - 201 Created: The new PENDING reveal request.
func (a Api) RequestReveal(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var reveal model2.RequestReveal
	if err := c.ShouldBindJSON(&reveal); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := reveal.ValidateRequestReveal(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.veil.RequestReveal(c.Request.Context(), id, reveal.Requester)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// OracleCallback receives the oracle's reveal result. The route is
// unauthenticated; a result is accepted or rejected purely on the
// validity of its proof, which makes the endpoint safe to expose and
// keeps the oracle from needing service credentials.
//
// Responses:
// - 400 Bad Request: If binding or validation fails, or the proof is not base64.
// - 404 Not Found: If no such request exists.
// - 409 Conflict: If the request was already finalized (replay, late callback).
// - 200 OK: The request in its terminal state (COMPLETED or FAILED).
func (a Api) OracleCallback(c *gin.Context) {
	var callback model2.OracleCallback
	if err := c.ShouldBindJSON(&callback); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := callback.ValidateOracleCallback(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	proof, err := base64.StdEncoding.DecodeString(callback.Proof)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "proof must be base64 encoded"})
		return
	}

	resp, err := a.veil.SubmitRevealResult(c.Request.Context(), callback.RequestID, callback.Cleartexts, proof)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetRevealRequest returns a reveal request's current state plus the
// derived is_timed_out flag.
func (a Api) GetRevealRequest(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.veil.GetRevealRequest(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}

	timedOut, err := a.veil.IsRequestTimedOut(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request":      resp,
		"is_timed_out": timedOut,
	})
}

// ForceTimeout transitions an expired pending request to TIMED_OUT.
// Permissionless by design: anyone may trigger the transition once the
// deadline has elapsed.
//
// Responses:
// - 404 Not Found: If no such request exists.
// - 409 Conflict: If the request has not timed out or is already terminal.
// - 200 OK: The TIMED_OUT request.
func (a Api) ForceTimeout(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.veil.ForceTimeout(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ClaimRefund records the one-time compensation claim for a failed or
// timed-out reveal of the exhibition's latest request.
//
// Responses:
// - 400 Bad Request: If binding fails or the request is not eligible.
// - 403 Forbidden: If the claimant is not the requester or admin.
// - 404 Not Found: If the exhibition has no reveal request.
// - 409 Conflict: If the refund was already claimed.
// - 410 Gone: If the refund window has expired.
// - 200 OK: The request with refund_claimed set.
func (a Api) ClaimRefund(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var claim model2.ClaimRefund
	if err := c.ShouldBindJSON(&claim); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := claim.ValidateClaimRefund(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.veil.ClaimRefund(c.Request.Context(), id, claim.Claimant)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetRevealedStatistic returns the published statistic for an
// exhibition: the obfuscated average and the raw participation count.
// The raw sum is never exposed here; it stays in the audit record.
func (a Api) GetRevealedStatistic(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	stat, err := a.veil.GetRevealedStatistic(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exhibition_id":      stat.ExhibitionID,
		"obfuscated_average": stat.ObfuscatedAverage,
		"raw_count":          stat.RawCount,
		"revealed_at":        stat.CreatedAt,
	})
}

// RefreshNoiseEpoch advances the process-wide noise nonce. Admin only.
func (a Api) RefreshNoiseEpoch(c *gin.Context) {
	nonce, err := a.veil.RefreshNoiseEpoch(c.Request.Context())
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"noise_epoch": nonce})
}
