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

package rotaflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/rotaflow/rotaflow/config"
	"github.com/rotaflow/rotaflow/internal/request"
)

// Webhook event names emitted by the engine.
const (
	EventJobCreated       = "job.created"
	EventJobCompleted     = "job.completed"
	EventPaymentConfirmed = "payment.confirmed"
)

// WebhookEvent is the envelope delivered to the configured webhook URL.
type WebhookEvent struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// SendWebhook queues a webhook event for asynchronous delivery. With no
// webhook URL configured the event is dropped silently; webhooks are an
// optional integration surface, not part of any state transition.
func (q *Queue) SendWebhook(event string, payload interface{}) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		logrus.Infof("No webhook URL configured. Skipping webhook event %s.", event)
		return nil
	}

	data, err := json.Marshal(WebhookEvent{
		Event:     event,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskDeliverWebhook, data)
	_, err = q.Client.Enqueue(task,
		asynq.Queue(conf.Queue.WebhookQueue),
		asynq.TaskID(uuid.New().String()),
	)
	if err != nil {
		logrus.Errorf("Error enqueuing webhook event %s: %v", event, err)
		return err
	}
	return nil
}

// ProcessWebhook delivers one queued webhook event to the configured URL.
// Registered against TaskDeliverWebhook by the workers process; a returned
// error lets asynq retry with its own backoff.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	var event WebhookEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return err
	}

	payload, err := request.ToJsonReq(&event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", conf.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	var response map[string]interface{}
	resp, err := request.Call(req, &response)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook endpoint returned %d for event %s", resp.StatusCode, event.Event)
	}

	logrus.Infof("Delivered webhook event %s", event.Event)
	return nil
}
