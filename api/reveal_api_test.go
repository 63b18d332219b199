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
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilstats/veil"
	"github.com/veilstats/veil/api/middleware"
	"github.com/veilstats/veil/config"
	"github.com/veilstats/veil/database"
)

type TestRequest struct {
	Payload io.Reader
	Router  *gin.Engine
	Method  string
	Route   string
	Header  map[string]string
}

func SetUpTestRequest(s TestRequest) *httptest.ResponseRecorder {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)
	return resp
}

func setupRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Server: config.ServerConfig{
			SecretKey: "test-secret",
		},
		Oracle: config.OracleConfig{
			DecryptionTimeout: 24 * time.Hour,
			RefundWindow:      48 * time.Hour,
			AdminIdentity:     "admin",
		},
		Privacy: config.PrivacyConfig{
			PrecisionScale:       1000,
			SmallSampleThreshold: 5,
			MaxScaleValue:        1000000,
			NoiseRange:           500,
		},
		Queue: config.QueueConfig{
			WebhookQueue:      "new:webhook",
			OracleQueue:       "new:oracle",
			RevealExpiryQueue: "new:reveal-expiry",
		},
	})

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	service, err := veil.NewVeil(&database.Datasource{Conn: db})
	require.NoError(t, err)

	router := NewAPI(service).Router()
	return router, mock
}

func toJSON(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func TestCreateExhibitionAPI(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectExec("INSERT INTO exhibitions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	resp := SetUpTestRequest(TestRequest{
		Method: "POST",
		Route:  "/exhibitions",
		Router: router,
		Payload: toJSON(t, map[string]interface{}{
			"name":      gofakeit.Company(),
			"organizer": "alice",
		}),
	})
	assert.Equal(t, http.StatusCreated, resp.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Contains(t, body["exhibition_id"], "exh_")
}

func TestCreateExhibitionAPIValidation(t *testing.T) {
	router, _ := setupRouter(t)

	resp := SetUpTestRequest(TestRequest{
		Method:  "POST",
		Route:   "/exhibitions",
		Router:  router,
		Payload: toJSON(t, map[string]interface{}{"name": "no organizer"}),
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRequestRevealAPIValidation(t *testing.T) {
	router, _ := setupRouter(t)

	resp := SetUpTestRequest(TestRequest{
		Method:  "POST",
		Route:   "/exhibitions/exh_1/reveal",
		Router:  router,
		Payload: toJSON(t, map[string]interface{}{}),
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestOracleCallbackRejectsBadProofEncoding(t *testing.T) {
	router, _ := setupRouter(t)

	resp := SetUpTestRequest(TestRequest{
		Method: "POST",
		Route:  "/oracle/callback",
		Router: router,
		Payload: toJSON(t, map[string]interface{}{
			"request_id": "req_1",
			"cleartexts": map[string]uint64{"count": 10, "sum": 85},
			"proof":      "%%% not base64 %%%",
		}),
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetRevealedStatisticHidesRawSum(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectQuery("FROM revealed_statistics").
		WithArgs("exh_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "statistic_id", "exhibition_id", "request_id", "raw_count", "raw_sum", "obfuscated_average", "created_at"}).
			AddRow(1, "stat_1", "exh_1", "req_1", 10, 85, 8500, time.Now()))

	resp := SetUpTestRequest(TestRequest{
		Method: "GET",
		Route:  "/exhibitions/exh_1/statistic",
		Router: router,
	})
	assert.Equal(t, http.StatusOK, resp.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, float64(8500), body["obfuscated_average"])
	assert.Equal(t, float64(10), body["raw_count"])
	assert.NotContains(t, body, "raw_sum")
}

func TestGetRevealedStatisticNotFound(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectQuery("FROM revealed_statistics").
		WithArgs("exh_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	resp := SetUpTestRequest(TestRequest{
		Method: "GET",
		Route:  "/exhibitions/exh_1/statistic",
		Router: router,
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRefreshNoiseEpochRequiresSecretKey(t *testing.T) {
	router, mock := setupRouter(t)

	resp := SetUpTestRequest(TestRequest{
		Method: "POST",
		Route:  "/admin/refresh-noise-epoch",
		Router: router,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	mock.ExpectQuery("UPDATE noise_epochs").
		WillReturnRows(sqlmock.NewRows([]string{"nonce"}).AddRow(1))

	resp = SetUpTestRequest(TestRequest{
		Method: "POST",
		Route:  "/admin/refresh-noise-epoch",
		Router: router,
		Header: map[string]string{middleware.KeyHeader: "test-secret"},
	})
	assert.Equal(t, http.StatusOK, resp.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["noise_epoch"])
}
