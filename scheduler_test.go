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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wacul/ptr"

	"github.com/rotaflow/rotaflow/model"
)

func batchDataSource() *mockDataSource {
	billing := time.Now().AddDate(0, 0, 5)
	return &mockDataSource{
		cancelCandidates: func(ctx context.Context, from, to time.Time) ([]model.RotationQueueEntry, error) {
			return []model.RotationQueueEntry{
				{UserID: "usr_1", ServiceID: "svc_netflix", Position: 1, NextBillingDate: ptr.Time(billing)},
				{UserID: "usr_2", ServiceID: "svc_hulu", Position: 2, NextBillingDate: ptr.Time(billing)},
			}, nil
		},
		resumeCandidates: func(ctx context.Context, from, to time.Time) ([]model.RotationQueueEntry, error) {
			return []model.RotationQueueEntry{
				{UserID: "usr_3", ServiceID: "svc_max", Position: 1},
			}, nil
		},
		insertJob: func(ctx context.Context, job *model.Job) (bool, error) {
			return true, nil
		},
		stalePendingJobIDs: func(ctx context.Context, olderThan time.Time) ([]string, error) {
			return []string{"job_stuck"}, nil
		},
		prune: func(ctx context.Context, table string, olderThan time.Time) (int64, error) {
			return 3, nil
		},
	}
}

func TestRunDailyBatch_CreatesAnnouncesAndPrunes(t *testing.T) {
	mockTestConfig()
	ds := batchDataSource()
	var inserted []*model.Job
	ds.insertJob = func(ctx context.Context, job *model.Job) (bool, error) {
		inserted = append(inserted, job)
		return true, nil
	}
	engine, announcer := newTestRotaflow(ds)

	report, err := engine.RunDailyBatch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, report.CancelJobsCreated)
	assert.Equal(t, 1, report.ResumeJobsCreated)
	assert.Equal(t, 1, report.StaleJobsNudged)

	// All new ids announced together, stale ids separately.
	assert.Len(t, announcer.newJobs, 1)
	assert.Len(t, announcer.newJobs[0], 3)
	assert.Len(t, announcer.staleJobs, 1)
	assert.Equal(t, []string{"job_stuck"}, announcer.staleJobs[0])

	// Scheduled cancels carry the billing date through; resumes do not.
	assert.Equal(t, model.TriggerScheduled, inserted[0].Trigger)
	assert.NotNil(t, inserted[0].BillingDate)
	assert.Nil(t, inserted[2].BillingDate)

	assert.Equal(t, int64(3), report.PrunedRows["execution_audit"])
	assert.Equal(t, int64(3), report.PrunedRows["job_status_history"])
	assert.Equal(t, int64(3), report.PrunedRows["operator_alerts"])
	assert.Equal(t, int64(3), report.PrunedRows["operator_audit_log"])
}

func TestRunDailyBatch_SecondRunCreatesNothing(t *testing.T) {
	mockTestConfig()
	ds := batchDataSource()
	// Unchanged store: every insert now hits an open-job conflict.
	ds.insertJob = func(ctx context.Context, job *model.Job) (bool, error) {
		return false, nil
	}
	ds.stalePendingJobIDs = func(ctx context.Context, olderThan time.Time) ([]string, error) {
		return nil, nil
	}
	engine, announcer := newTestRotaflow(ds)

	report, err := engine.RunDailyBatch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, report.CancelJobsCreated)
	assert.Equal(t, 0, report.ResumeJobsCreated)
	assert.Empty(t, announcer.newJobs)
	assert.Empty(t, announcer.staleJobs)
}

func TestRunDailyBatch_SingleRowFailureIsNotFatal(t *testing.T) {
	mockTestConfig()
	ds := batchDataSource()
	calls := 0
	ds.insertJob = func(ctx context.Context, job *model.Job) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("constraint violated")
		}
		return true, nil
	}
	engine, _ := newTestRotaflow(ds)

	report, err := engine.RunDailyBatch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, report.CancelJobsCreated)
	assert.Equal(t, 1, report.ResumeJobsCreated)
}

func TestRunDailyBatch_ScanFailureAborts(t *testing.T) {
	mockTestConfig()
	ds := batchDataSource()
	ds.cancelCandidates = func(ctx context.Context, from, to time.Time) ([]model.RotationQueueEntry, error) {
		return nil, errors.New("connection refused")
	}
	engine, announcer := newTestRotaflow(ds)

	_, err := engine.RunDailyBatch(context.Background())
	assert.Error(t, err)
	assert.Empty(t, announcer.newJobs)
}
