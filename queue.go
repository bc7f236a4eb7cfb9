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
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/rotaflow/rotaflow/config"
)

// Task type names carried on the queue wire. Workers register handlers
// against these.
const (
	TaskAnnounceNewJobs   = "jobs:announce:new"
	TaskAnnounceStaleJobs = "jobs:announce:stale"
	TaskDeliverWebhook    = "webhook:deliver"
)

// Queue is the outbound announcement transport: batches of job ids are pushed
// onto Redis-backed queues and relayed to the worker pool's webhook by the
// workers process.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// AnnouncementPayload is the body of a wake-up task. New-work and stale-work
// announcements ride separate queues so a consumer can tell them apart.
type AnnouncementPayload struct {
	JobIDs      []string  `json:"job_ids"`
	AnnouncedAt time.Time `json:"announced_at"`
}

func NewQueue(conf *config.Configuration) *Queue {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: conf.Redis.Dns})
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: conf.Redis.Dns})
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// AnnounceNewJobs announces freshly created job ids in one batched task.
// Best-effort: transport failure is logged, never returned, since the batch
// that called this must still complete and report its counts.
func (q *Queue) AnnounceNewJobs(ctx context.Context, jobIDs []string) {
	conf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}
	q.announce(ctx, TaskAnnounceNewJobs, conf.Queue.NewJobsQueue, jobIDs)
}

// AnnounceStaleJobs announces pending jobs that were never picked up, on a
// separate queue from new work.
func (q *Queue) AnnounceStaleJobs(ctx context.Context, jobIDs []string) {
	conf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}
	q.announce(ctx, TaskAnnounceStaleJobs, conf.Queue.StaleJobsQueue, jobIDs)
}

func (q *Queue) announce(ctx context.Context, taskType, queueName string, jobIDs []string) {
	if len(jobIDs) == 0 {
		return
	}

	payload, err := json.Marshal(AnnouncementPayload{JobIDs: jobIDs, AnnouncedAt: time.Now()})
	if err != nil {
		logrus.Errorf("Error marshaling announcement payload: %v", err)
		return
	}

	task := asynq.NewTask(taskType, payload)
	info, err := q.Client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.TaskID(uuid.New().String()),
	)
	if err != nil {
		logrus.Errorf("Error announcing %d jobs on queue %s: %v", len(jobIDs), queueName, err)
		return
	}

	logrus.Infof("Announced %d jobs on queue %s: task %s", len(jobIDs), queueName, info.ID)
}
