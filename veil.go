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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sirupsen/logrus"

	"github.com/veilstats/veil/config"
	"github.com/veilstats/veil/database"
	redis_db "github.com/veilstats/veil/internal/redis-db"
)

var tracer = otel.Tracer("veil.reveal")

// Veil represents the main struct for the Veil application. All reveal
// protocol operations are methods on it.
type Veil struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	verifier   *ProofVerifier

	// now is the protocol clock. Timeout and refund-window math goes
	// through it so tests can shift time without sleeping.
	now func() time.Time
}

// NewVeil initializes a new instance of Veil with the provided database datasource.
// It fetches the configuration and initializes the Redis client, the task
// queue and the oracle proof verifier.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
//
// Returns:
// - *Veil: A pointer to the newly created Veil instance.
// - error: An error if any of the initialization steps fail.
func NewVeil(db database.IDataSource) (*Veil, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	verifier, err := NewProofVerifier(configuration.Oracle.PublicKey)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	newVeil := &Veil{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		verifier:   verifier,
		now:        time.Now,
	}
	return newVeil, nil
}

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}
