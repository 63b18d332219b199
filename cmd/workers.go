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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/veilstats/veil"
	"github.com/veilstats/veil/config"
	redis_db "github.com/veilstats/veil/internal/redis-db"
	"github.com/veilstats/veil/internal/request"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

// processOracleDispatch delivers a reveal request to the external
// decryption oracle. Delivery is retried with exponential backoff
// inside the task; the protocol itself never re-issues a request, so
// only the HTTP handoff is retried, never the reveal.
func (b *veilInstance) processOracleDispatch(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("veil.oracle.worker").Start(ctx, "Dispatch Reveal To Oracle")
	defer span.End()

	var dispatch veil.OracleDispatch
	if err := json.Unmarshal(t.Payload(), &dispatch); err != nil {
		logrus.Error(err)
		return err
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	operation := func() error {
		payload, err := request.ToJsonReq(&dispatch)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Oracle.Url, payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		for key, value := range cfg.Oracle.Headers {
			req.Header.Set(key, value)
		}
		resp, err := request.Call(req, nil)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("oracle returned status %d", resp.StatusCode)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		logrus.Errorf("oracle dispatch for %s failed: %v", dispatch.RequestID, err)
		return err
	}

	log.Println(" [*] Reveal dispatched to oracle", dispatch.RequestID)
	return nil
}

// processRevealExpiry fires when a request's decryption deadline
// passes and force-times-out the request if it is still pending. A
// request the oracle already resolved is left alone.
func (b *veilInstance) processRevealExpiry(ctx context.Context, t *asynq.Task) error {
	var requestID string
	if err := json.Unmarshal(t.Payload(), &requestID); err != nil {
		logrus.Error(err)
		return err
	}

	_, err := b.veil.ForceTimeout(ctx, requestID)
	if err != nil {
		if errors.Is(err, veil.ErrAlreadyFinalized) || errors.Is(err, veil.ErrNotTimedOut) {
			log.Printf(" [*] Reveal %s already resolved, expiry skipped", requestID)
			return nil
		}
		return err
	}

	logrus.Printf(" [*] Reveal Request Timed Out %s", requestID)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.OracleQueue] = 1
	queues[cfg.Queue.RevealExpiryQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *veilInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.OracleQueue, b.processOracleDispatch)
	mux.HandleFunc(cfg.Queue.RevealExpiryQueue, b.processRevealExpiry)
	mux.HandleFunc(cfg.Queue.WebhookQueue, veil.ProcessWebhook)
}

// workerCommands defines the "workers" command to start worker
// processes for oracle dispatch, reveal expiry and webhook delivery.
func workerCommands(b *veilInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start veil workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeTracing(ctx)
			if err != nil {
				log.Printf("Tracing initialization error: %v", err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
