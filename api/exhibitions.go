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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/veilstats/veil/api/model"
)

// CreateExhibition handles the registration of a new exhibition.
//
// Responses:
// - 400 Bad Request: If there's an error in binding JSON or validation.
// - 201 Created: If the exhibition is successfully created.
func (a Api) CreateExhibition(c *gin.Context) {
	var newExhibition model2.CreateExhibition
	if err := c.ShouldBindJSON(&newExhibition); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newExhibition.ValidateCreateExhibition(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.veil.CreateExhibition(c.Request.Context(), newExhibition.ToExhibition())
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetExhibition retrieves an exhibition by its ID.
func (a Api) GetExhibition(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.veil.GetExhibition(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetAllExhibitions retrieves a page of exhibitions.
func (a Api) GetAllExhibitions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	resp, err := a.veil.GetAllExhibitions(c.Request.Context(), limit, offset)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RecordContribution stores a contributor's updated encrypted
// aggregates for an exhibition.
//
// Responses:
// - 400 Bad Request: If binding or validation fails.
// - 409 Conflict: If a reveal request is pending for the exhibition.
// - 200 OK: If the contribution is recorded.
func (a Api) RecordContribution(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var contribution model2.RecordContribution
	if err := c.ShouldBindJSON(&contribution); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := contribution.ValidateRecordContribution(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.veil.RecordContribution(c.Request.Context(), id, contribution.EncryptedCount, contribution.EncryptedSum)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
