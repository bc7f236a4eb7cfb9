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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	"github.com/rotaflow/rotaflow/config"
)

func queueTestConfig(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Queue: config.QueueConfig{
			NewJobsQueue:   "new:jobs",
			StaleJobsQueue: "stale:jobs",
			WebhookQueue:   "webhook:rotaflow",
		},
		Notification: config.Notification{
			Webhook: struct {
				Url     string            `json:"url"`
				Headers map[string]string `json:"headers"`
			}{Url: "https://agent.example.com/events"},
		},
	})
	return mr
}

func TestAnnounceNewJobs_EnqueuesBatchedTask(t *testing.T) {
	queueTestConfig(t)
	conf, err := config.Fetch()
	assert.NoError(t, err)

	queue := NewQueue(conf)
	defer func() { _ = queue.Client.Close() }()

	queue.AnnounceNewJobs(context.Background(), []string{"job_1", "job_2", "job_3"})

	tasks, err := queue.Inspector.ListPendingTasks("new:jobs")
	assert.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, TaskAnnounceNewJobs, tasks[0].Type)

	var payload AnnouncementPayload
	assert.NoError(t, json.Unmarshal(tasks[0].Payload, &payload))
	assert.Equal(t, []string{"job_1", "job_2", "job_3"}, payload.JobIDs)
}

func TestAnnounceStaleJobs_UsesSeparateQueue(t *testing.T) {
	queueTestConfig(t)
	conf, err := config.Fetch()
	assert.NoError(t, err)

	queue := NewQueue(conf)
	defer func() { _ = queue.Client.Close() }()

	queue.AnnounceNewJobs(context.Background(), []string{"job_new"})
	queue.AnnounceStaleJobs(context.Background(), []string{"job_stuck"})

	staleTasks, err := queue.Inspector.ListPendingTasks("stale:jobs")
	assert.NoError(t, err)
	assert.Len(t, staleTasks, 1)
	assert.Equal(t, TaskAnnounceStaleJobs, staleTasks[0].Type)

	newTasks, err := queue.Inspector.ListPendingTasks("new:jobs")
	assert.NoError(t, err)
	assert.Len(t, newTasks, 1)
}

func TestAnnounceNewJobs_EmptyBatchIsNoOp(t *testing.T) {
	queueTestConfig(t)
	conf, err := config.Fetch()
	assert.NoError(t, err)

	queue := NewQueue(conf)
	defer func() { _ = queue.Client.Close() }()

	queue.AnnounceNewJobs(context.Background(), nil)

	queues, err := queue.Inspector.Queues()
	assert.NoError(t, err)
	assert.Empty(t, queues)
}

func TestSendWebhook_Enqueues(t *testing.T) {
	queueTestConfig(t)
	conf, err := config.Fetch()
	assert.NoError(t, err)

	queue := NewQueue(conf)
	defer func() { _ = queue.Client.Close() }()

	err = queue.SendWebhook(EventJobCreated, map[string]string{"job_id": "job_1"})
	assert.NoError(t, err)

	tasks, err := queue.Inspector.ListPendingTasks("webhook:rotaflow")
	assert.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, TaskDeliverWebhook, tasks[0].Type)

	var event WebhookEvent
	assert.NoError(t, json.Unmarshal(tasks[0].Payload, &event))
	assert.Equal(t, EventJobCreated, event.Event)
}

func TestSendWebhook_NoURLConfiguredIsSkipped(t *testing.T) {
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Queue: config.QueueConfig{WebhookQueue: "webhook:rotaflow"},
	})
	conf, err := config.Fetch()
	assert.NoError(t, err)

	queue := NewQueue(conf)
	defer func() { _ = queue.Client.Close() }()

	err = queue.SendWebhook(EventJobCreated, map[string]string{"job_id": "job_1"})
	assert.NoError(t, err)

	queues, err := queue.Inspector.Queues()
	assert.NoError(t, err)
	assert.Empty(t, queues)
}
