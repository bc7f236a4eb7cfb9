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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rotaflow/rotaflow/config"
	"github.com/rotaflow/rotaflow/internal/notification"
	"github.com/rotaflow/rotaflow/model"
)

// BatchReport summarizes one daily batch run for logging and the execution
// audit trail.
type BatchReport struct {
	CancelJobsCreated int              `json:"cancel_jobs_created"`
	ResumeJobsCreated int              `json:"resume_jobs_created"`
	StaleJobsNudged   int              `json:"stale_jobs_nudged"`
	PrunedRows        map[string]int64 `json:"pruned_rows"`
	MarginCalls       int              `json:"margin_calls"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
}

// RunDailyBatch executes the full scheduled cycle: produce cancel and resume
// jobs, nudge stale pending work, prune aged audit rows, and sweep for margin
// calls. Job creation is fault-isolated per candidate row; a hard failure in
// the scans, prunes, or announcements aborts the rest of the run; the next
// scheduled tick retries naturally since every step is idempotent.
func (r *Rotaflow) RunDailyBatch(ctx context.Context) (*BatchReport, error) {
	ctx, span := tracer.Start(ctx, "Running daily batch")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	report := &BatchReport{
		PrunedRows: make(map[string]int64),
		StartedAt:  time.Now(),
	}

	newJobIDs, err := r.produceScheduledJobs(ctx, conf, report)
	if err != nil {
		return nil, err
	}
	r.queue.AnnounceNewJobs(ctx, newJobIDs)

	staleCutoff := time.Now().Add(-time.Duration(conf.Scheduler.StaleAfterMinutes) * time.Minute)
	staleIDs, err := r.datasource.GetStalePendingJobIDs(ctx, staleCutoff)
	if err != nil {
		return nil, err
	}
	report.StaleJobsNudged = len(staleIDs)
	r.queue.AnnounceStaleJobs(ctx, staleIDs)

	r.pruneAgedRows(ctx, conf, report)

	calls, err := r.RunMarginSweep(ctx)
	if err != nil {
		// Margin calls are advisory; a failed sweep should not fail the run.
		logrus.Errorf("Error running margin sweep: %v", err)
		notification.NotifyError(err)
	}
	report.MarginCalls = len(calls)

	report.FinishedAt = time.Now()
	if err := r.datasource.RecordExecutionAudit(ctx, "daily_batch", map[string]interface{}{
		"cancel_jobs_created": report.CancelJobsCreated,
		"resume_jobs_created": report.ResumeJobsCreated,
		"stale_jobs_nudged":   report.StaleJobsNudged,
		"pruned_rows":         report.PrunedRows,
		"margin_calls":        report.MarginCalls,
		"duration_ms":         report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	}); err != nil {
		logrus.Errorf("Error recording execution audit: %v", err)
	}

	logrus.Infof("Daily batch complete: %d cancel, %d resume, %d stale, %d margin calls",
		report.CancelJobsCreated, report.ResumeJobsCreated, report.StaleJobsNudged, report.MarginCalls)
	return report, nil
}

// produceScheduledJobs runs the two candidate scans and creates one job per
// surviving row. Each insert funnels through the same conflict-skip primitive
// as the on-demand path, so re-running against unchanged state creates zero
// duplicates. A single row's failure is logged and skipped, never fatal.
func (r *Rotaflow) produceScheduledJobs(ctx context.Context, conf *config.Configuration, report *BatchReport) ([]string, error) {
	now := time.Now()
	var created []string

	cancelCandidates, err := r.datasource.GetUpcomingCancelCandidates(ctx, now, now.AddDate(0, 0, conf.Scheduler.CancelLeadDays))
	if err != nil {
		return nil, err
	}
	for _, candidate := range cancelCandidates {
		job := model.NewJob(candidate.UserID, candidate.ServiceID, model.ActionCancel, model.TriggerScheduled)
		job.BillingDate = candidate.NextBillingDate
		ok, err := r.datasource.InsertJob(ctx, job)
		if err != nil {
			logrus.Errorf("Error creating scheduled cancel for %s/%s: %v", candidate.UserID, candidate.ServiceID, err)
			continue
		}
		if ok {
			created = append(created, job.JobID)
			report.CancelJobsCreated++
		}
	}

	resumeCandidates, err := r.datasource.GetUpcomingResumeCandidates(ctx, now, now.AddDate(0, 0, conf.Scheduler.ResumeLeadDays))
	if err != nil {
		return nil, err
	}
	for _, candidate := range resumeCandidates {
		job := model.NewJob(candidate.UserID, candidate.ServiceID, model.ActionResume, model.TriggerScheduled)
		ok, err := r.datasource.InsertJob(ctx, job)
		if err != nil {
			logrus.Errorf("Error creating scheduled resume for %s/%s: %v", candidate.UserID, candidate.ServiceID, err)
			continue
		}
		if ok {
			created = append(created, job.JobID)
			report.ResumeJobsCreated++
		}
	}

	return created, nil
}

// pruneAgedRows deletes audit rows past the retention window. The four tables
// are independent logs, so the deletes run concurrently with no shared
// transaction; partial completion is acceptable. The transactions table is
// never touched here.
func (r *Rotaflow) pruneAgedRows(ctx context.Context, conf *config.Configuration, report *BatchReport) {
	cutoff := time.Now().AddDate(0, 0, -conf.Scheduler.RetentionDays)

	prunes := []struct {
		table string
		fn    func(context.Context, time.Time) (int64, error)
	}{
		{"execution_audit", r.datasource.PruneExecutionAudit},
		{"job_status_history", r.datasource.PruneStatusHistory},
		{"operator_alerts", r.datasource.PruneOperatorAlerts},
		{"operator_audit_log", r.datasource.PruneOperatorAuditLog},
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, prune := range prunes {
		wg.Add(1)
		go func(table string, fn func(context.Context, time.Time) (int64, error)) {
			defer wg.Done()
			deleted, err := fn(ctx, cutoff)
			if err != nil {
				logrus.Errorf("Error pruning %s: %v", table, err)
				return
			}
			mu.Lock()
			report.PrunedRows[table] = deleted
			mu.Unlock()
		}(prune.table, prune.fn)
	}
	wg.Wait()
}
