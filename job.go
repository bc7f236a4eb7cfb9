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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rotaflow/rotaflow/config"
	"github.com/rotaflow/rotaflow/internal/apierror"
	"github.com/rotaflow/rotaflow/model"
)

var tracer = otel.Tracer("rotaflow.service")

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// JobCreationResult is returned to the on-demand caller: the new job's id and
// a rough position in the global pending queue as an ETA signal.
type JobCreationResult struct {
	JobID         string `json:"job_id"`
	QueuePosition int64  `json:"queue_position"`
}

// CreateJob is the on-demand creation path. Each gate short-circuits with a
// typed error and no partial writes; the insert itself is the only write and
// relies on the jobs table's partial unique index for duplicate protection.
// No transaction wrapping happens here; callers needing atomicity with their
// own side effects compose this inside their own boundary.
func (r *Rotaflow) CreateJob(ctx context.Context, userID, serviceID string, action model.Action) (*JobCreationResult, error) {
	ctx, span := tracer.Start(ctx, "Creating on-demand job")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if serviceID == "" || !action.Valid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Service id and a valid action (cancel or resume) are required", nil)
	}

	user, err := r.datasource.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.DebtSats > 0 {
		return nil, apierror.Forbidden("Outstanding balance must be paid before creating new jobs", user.DebtSats)
	}

	if user.AbandonCount >= conf.Abuse.AbandonLimit && user.LastAbandonAt != nil {
		cooldownEnd := user.LastAbandonAt.Add(time.Duration(conf.Abuse.AbandonCooldownHrs) * time.Hour)
		if time.Now().Before(cooldownEnd) {
			return nil, apierror.NewAPIError(apierror.ErrRateLimited,
				fmt.Sprintf("Too many abandoned jobs. Try again after %s", cooldownEnd.Format(time.RFC3339)), nil)
		}
	}

	service, err := r.datasource.GetService(ctx, serviceID)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrNotFound {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Unknown service '%s'", serviceID), nil)
		}
		return nil, err
	}

	cred, err := r.datasource.GetCredential(ctx, userID, serviceID)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrNotFound {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "no credentials", nil)
		}
		return nil, err
	}

	if cred.CredentialFailures >= conf.Abuse.StrikeLimit {
		return nil, apierror.NewAPIError(apierror.ErrRateLimited,
			"Too many login failures for this service. Update your credentials to continue", nil)
	}
	if cred.CredentialFailures >= conf.Abuse.StrikeSoftThreshold && cred.LastFailureAt != nil {
		cooldownEnd := cred.LastFailureAt.Add(time.Duration(conf.Abuse.StrikeCooldownHrs) * time.Hour)
		if time.Now().Before(cooldownEnd) {
			return nil, apierror.NewAPIError(apierror.ErrRateLimited,
				fmt.Sprintf("Recent login failures for this service. Try again after %s", cooldownEnd.Format(time.RFC3339)), nil)
		}
	}

	verdict, err := r.blocklist.CheckEmailBlocklist(ctx, userID, serviceID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrUpstreamFailure, "Blocklist check unavailable", err)
	}
	if verdict.Blocked {
		return nil, apierror.Forbidden("This service login carries an unpaid balance", verdict.DebtSats)
	}

	job := model.NewJob(userID, service.ServiceID, action, model.TriggerOnDemand)
	created, err := r.datasource.InsertJob(ctx, job)
	if err != nil {
		return nil, logAndRecordError(span, "error inserting job: ", err)
	}
	if !created {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("A job for service '%s' is already in progress", serviceID), nil)
	}

	position, err := r.datasource.CountPendingJobs(ctx)
	if err != nil {
		// The job exists; a failed count must not fail the creation.
		logrus.Errorf("Error counting pending jobs after creating %s: %v", job.JobID, err)
		position = 0
	}

	r.queue.AnnounceNewJobs(ctx, []string{job.JobID})
	if err := r.queue.SendWebhook(EventJobCreated, job); err != nil {
		logrus.Error(err)
	}

	return &JobCreationResult{JobID: job.JobID, QueuePosition: position}, nil
}

func (r *Rotaflow) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return r.datasource.GetJobByID(ctx, jobID)
}

// UpdateJobStatus is the automation agent's callback path: non-terminal
// advancement (dispatched, active, awaiting_otp, outreach_sent, snoozed) and
// the direct terminal short-circuits (user_skip, user_abandon, implied_skip,
// failed, completed_reneged). Exits from terminal states are rejected by the
// store; the reconciler owns the single reneged exception.
func (r *Rotaflow) UpdateJobStatus(ctx context.Context, jobID string, status model.Status) (*model.Job, error) {
	ctx, span := tracer.Start(ctx, "Updating job status")
	defer span.End()

	job, err := r.datasource.UpdateJobStatus(ctx, jobID, status)
	if err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		if err := r.queue.SendWebhook(EventJobCompleted, job); err != nil {
			logrus.Error(err)
		}
	}
	return job, nil
}
