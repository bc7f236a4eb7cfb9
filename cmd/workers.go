/*
Copyright 2025 Rotaflow Authors.

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
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rotaflow/rotaflow"
	"github.com/rotaflow/rotaflow/config"
	redis_db "github.com/rotaflow/rotaflow/internal/redis-db"
	"github.com/rotaflow/rotaflow/internal/request"
)

// relayAnnouncement returns a handler that forwards a queued announcement to
// the automation agent's webhook. This is the wake-up push: the agent learns
// there is work (or stuck work) and pulls job details itself. With no webhook
// configured the announcement is dropped; the agent can still poll.
func (b *rotaflowInstance) relayAnnouncement(event string) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload rotaflow.AnnouncementPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logrus.Error(err)
			return err
		}

		if b.cnf.Notification.Webhook.Url == "" {
			log.Printf(" [*] No agent webhook configured, dropping announcement of %d jobs", len(payload.JobIDs))
			return nil
		}

		body, err := request.ToJsonReq(map[string]interface{}{
			"event":   event,
			"payload": payload,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, "POST", b.cnf.Notification.Webhook.Url, body)
		if err != nil {
			return err
		}
		for key, value := range b.cnf.Notification.Webhook.Headers {
			req.Header.Set(key, value)
		}

		var response map[string]interface{}
		resp, err := request.Call(req, &response)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("agent webhook returned %d", resp.StatusCode)
		}

		log.Printf(" [*] Announced %d jobs (%s)", len(payload.JobIDs), event)
		return nil
	}
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.NewJobsQueue] = 3
	queues[cfg.Queue.StaleJobsQueue] = 1
	queues[cfg.Queue.WebhookQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
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

func initializeTaskHandlers(b *rotaflowInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(rotaflow.TaskAnnounceNewJobs, b.relayAnnouncement("jobs.announced"))
	mux.HandleFunc(rotaflow.TaskAnnounceStaleJobs, b.relayAnnouncement("jobs.stale"))
	mux.HandleFunc(rotaflow.TaskDeliverWebhook, rotaflow.ProcessWebhook)
}

// serveMonitoring exposes the asynqmon dashboard for queue inspection.
func serveMonitoring(conf *config.Configuration) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Printf("Error parsing Redis URL for monitoring: %v", err)
		return
	}

	h := asynqmon.New(asynqmon.Options{
		RootPath: "/monitoring",
		RedisConnOpt: asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
	})

	mux := http.NewServeMux()
	mux.Handle(h.RootPath()+"/", h)

	go func() {
		log.Printf("Queue monitoring on http://localhost:%s/monitoring", conf.Queue.MonitoringPort)
		if err := http.ListenAndServe(":"+conf.Queue.MonitoringPort, mux); err != nil {
			log.Printf("Monitoring server stopped: %v", err)
		}
	}()
}

// workerCommands defines the "workers" command that consumes the announcement
// and webhook queues.
func workerCommands(b *rotaflowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start rotaflow workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeTracing(ctx)
			if err != nil {
				log.Printf("Tracing disabled: %v", err)
			} else {
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

			serveMonitoring(conf)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run worker server: %v", err)
			}
		},
	}
	return cmd
}
