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
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"

	"github.com/veilstats/veil/config"
	redis_db "github.com/veilstats/veil/internal/redis-db"
)

// Queue wraps the asynq client used to hand work to the background
// workers: oracle dispatches, scheduled reveal expiries and webhook
// deliveries.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueOracleDispatch enqueues the oracle invocation for a new reveal
// request. The worker POSTs the payload to the configured oracle URL;
// asynq retries cover the HTTP handoff only, a delivered request is
// never re-issued.
//
// Parameters:
// - dispatch OracleDispatch: The payload for the oracle worker.
//
// Returns:
// - error: An error if the task could not be enqueued.
func (q *Queue) queueOracleDispatch(dispatch OracleDispatch) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(dispatch)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(dispatch.RequestID),
		asynq.Queue(cfg.Queue.OracleQueue),
	}
	task := asynq.NewTask(cfg.Queue.OracleQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return errors.Wrap(err, "failed to enqueue oracle dispatch")
	}
	log.Printf(" [*] Successfully enqueued oracle dispatch: %+v", dispatch.RequestID)
	return nil
}

// queueRevealExpiry schedules the automatic timeout sweep for a reveal
// request. The task fires once the decryption deadline passes and the
// worker force-times-out the request if it is still pending.
//
// Parameters:
// - requestID string: The ID of the reveal request.
// - expiresAt time.Time: When the decryption deadline elapses.
//
// Returns:
// - error: An error if the task could not be enqueued.
func (q *Queue) queueRevealExpiry(requestID string, expiresAt time.Time) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(requestID)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(requestID),
		asynq.Queue(cfg.Queue.RevealExpiryQueue),
		asynq.ProcessIn(time.Until(expiresAt)),
	}
	task := asynq.NewTask(cfg.Queue.RevealExpiryQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return errors.Wrap(err, "failed to enqueue reveal expiry")
	}
	log.Printf(" [*] Successfully enqueued reveal expiry: %+v", requestID)
	return nil
}
