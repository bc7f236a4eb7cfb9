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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/rotaflow/rotaflow/internal/apierror"
	"github.com/rotaflow/rotaflow/model"
)

// InsertJob inserts a job, relying on the partial unique index over
// (user_id, service_id) scoped to non-terminal statuses. The expected
// conflict (another job for the pair is still open) is not an error: the
// result is tri-state (created / conflicted / error), with conflict reported
// as (false, nil). Both the on-demand path and the batch producer funnel
// through this one primitive, so they cannot race each other into duplicates.
func (d Datasource) InsertJob(ctx context.Context, job *model.Job) (bool, error) {
	ctx, span := otel.Tracer("job.database").Start(ctx, "Inserting job with conflict skip")
	defer span.End()

	metaDataJSON, err := json.Marshal(job.MetaData)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO jobs (job_id, user_id, service_id, action, trigger_source, status, status_updated_at, invoice_id, amount_sats, billing_date, access_end_date, access_end_approximate, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, service_id) WHERE status NOT IN (%s) DO NOTHING
	`, quotedTerminalStatuses()),
		job.JobID, job.UserID, job.ServiceID, job.Action, job.Trigger, job.Status, job.StatusUpdatedAt, job.InvoiceID, job.AmountSats, job.BillingDate, job.AccessEndDate, job.AccessEndApproximate, job.CreatedAt, metaDataJSON,
	)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert job", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		// Another non-terminal job already holds the pair.
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_status_history (job_id, status, created_at) VALUES ($1, $2, NOW())
	`, job.JobID, job.Status)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to append status history", err)
	}

	if err := tx.Commit(); err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return true, nil
}

const jobColumns = `job_id, user_id, service_id, action, trigger_source, status, status_updated_at, invoice_id, amount_sats, billing_date, access_end_date, access_end_approximate, created_at, meta_data`

func scanJob(row *sql.Row) (*model.Job, error) {
	job := &model.Job{}
	var invoiceID sql.NullString
	var amountSats sql.NullInt64
	var billingDate, accessEndDate sql.NullTime
	var metaDataJSON []byte

	err := row.Scan(
		&job.JobID, &job.UserID, &job.ServiceID, &job.Action, &job.Trigger,
		&job.Status, &job.StatusUpdatedAt, &invoiceID, &amountSats,
		&billingDate, &accessEndDate, &job.AccessEndApproximate,
		&job.CreatedAt, &metaDataJSON,
	)
	if err != nil {
		return nil, err
	}

	if invoiceID.Valid {
		job.InvoiceID = &invoiceID.String
	}
	if amountSats.Valid {
		job.AmountSats = &amountSats.Int64
	}
	if billingDate.Valid {
		job.BillingDate = &billingDate.Time
	}
	if accessEndDate.Valid {
		job.AccessEndDate = &accessEndDate.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &job.MetaData); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (d Datasource) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM jobs WHERE job_id = $1
	`, jobColumns), jobID)

	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with ID '%s' not found", jobID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve job", err)
	}
	return job, nil
}

// UpdateJobStatus advances a job to the given status under a row lock and
// appends the parallel history row. Transitions out of a terminal status are
// rejected here; the reconciler's reneged to eventual conversion is the single
// exception and lives in ConfirmJobPayment, not this path.
func (d Datasource) UpdateJobStatus(ctx context.Context, jobID string, status model.Status) (*model.Job, error) {
	ctx, span := otel.Tracer("job.database").Start(ctx, "Updating job status")
	defer span.End()

	if !status.Valid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Unknown job status '%s'", status), nil)
	}
	if status == model.StatusCompletedPaid || status == model.StatusCompletedEventual {
		// Only payment confirmation may produce the paid terminals; it owns
		// the row lock and the ledger update.
		return nil, apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Status '%s' is set by payment confirmation, not the status callback", status), nil)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM jobs WHERE job_id = $1 FOR UPDATE
	`, jobColumns), jobID)

	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with ID '%s' not found", jobID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan job data", err)
	}

	if job.Status.IsTerminal() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState, fmt.Sprintf("Job '%s' is already terminal (%s)", jobID, job.Status), nil)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = $2, status_updated_at = $3 WHERE job_id = $1
	`, jobID, status, now)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update job status", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_status_history (job_id, status, created_at) VALUES ($1, $2, $3)
	`, jobID, status, now)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to append status history", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	job.Status = status
	job.StatusUpdatedAt = now
	return job, nil
}

// SetJobInvoice attaches an issued invoice to a job. Only a job that is still
// in flight and has no invoice can take one; otherwise the invoice was issued
// against stale state and must not be recorded.
func (d Datasource) SetJobInvoice(ctx context.Context, jobID, invoiceID string, amountSats int64) error {
	result, err := d.Conn.ExecContext(ctx, fmt.Sprintf(`
		UPDATE jobs SET invoice_id = $2, amount_sats = $3
		WHERE job_id = $1 AND invoice_id IS NULL AND status NOT IN (%s)
	`, quotedTerminalStatuses()), jobID, invoiceID, amountSats)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set job invoice", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrInvalidState, fmt.Sprintf("Job '%s' cannot take an invoice", jobID), nil)
	}
	return nil
}

// CountPendingJobs returns the size of the global pending queue. Used as a
// rough position/ETA signal for newly created jobs.
func (d Datasource) CountPendingJobs(ctx context.Context) (int64, error) {
	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status = 'pending'
	`).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count pending jobs", err)
	}
	return count, nil
}

// GetStalePendingJobIDs finds jobs that have sat in pending past the
// staleness cutoff, work that was announced but never picked up.
func (d Datasource) GetStalePendingJobIDs(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT job_id FROM jobs WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
	`, olderThan)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stale jobs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan job id", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over stale jobs", err)
	}
	return ids, nil
}

// GetUpcomingCancelCandidates scans rotation-queue entries whose next billing
// date falls inside the lead window, restricted to debt-free onboarded users
// with no open job for the pair. The NOT EXISTS filter and the partial unique
// index are independent, redundant safety nets against double creation.
func (d Datasource) GetUpcomingCancelCandidates(ctx context.Context, from, to time.Time) ([]model.RotationQueueEntry, error) {
	ctx, span := otel.Tracer("job.database").Start(ctx, "Scanning upcoming cancel candidates")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT rq.user_id, rq.service_id, rq.position, COALESCE(rq.plan_id, ''), rq.next_billing_date
		FROM rotation_queue rq
		JOIN users u ON u.user_id = rq.user_id
		WHERE rq.next_billing_date BETWEEN $1 AND $2
		  AND u.debt_sats = 0
		  AND u.onboarded_at IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.user_id = rq.user_id
			  AND j.service_id = rq.service_id
			  AND j.status NOT IN (%s)
		  )
		ORDER BY rq.next_billing_date ASC
	`, quotedTerminalStatuses()), from, to)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan cancel candidates", err)
	}
	defer rows.Close()

	return scanRotationEntries(rows)
}

// GetUpcomingResumeCandidates finds users whose most recent terminal cancel
// job has an access-end date inside the window, joined to the head of their
// rotation queue (position = 1), the next service to bring back.
func (d Datasource) GetUpcomingResumeCandidates(ctx context.Context, from, to time.Time) ([]model.RotationQueueEntry, error) {
	ctx, span := otel.Tracer("job.database").Start(ctx, "Scanning upcoming resume candidates")
	defer span.End()

	terminal := quotedTerminalStatuses()
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT rq.user_id, rq.service_id, rq.position, COALESCE(rq.plan_id, ''), NULL
		FROM rotation_queue rq
		JOIN users u ON u.user_id = rq.user_id
		JOIN LATERAL (
			SELECT j.access_end_date
			FROM jobs j
			WHERE j.user_id = rq.user_id
			  AND j.action = 'cancel'
			  AND j.status IN (%s)
			ORDER BY j.created_at DESC
			LIMIT 1
		) last_cancel ON TRUE
		WHERE rq.position = 1
		  AND last_cancel.access_end_date IS NOT NULL
		  AND last_cancel.access_end_date BETWEEN $1 AND $2
		  AND u.debt_sats = 0
		  AND u.onboarded_at IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.user_id = rq.user_id
			  AND j.service_id = rq.service_id
			  AND j.status NOT IN (%s)
		  )
	`, terminal, terminal), from, to)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan resume candidates", err)
	}
	defer rows.Close()

	return scanRotationEntries(rows)
}

func scanRotationEntries(rows *sql.Rows) ([]model.RotationQueueEntry, error) {
	var entries []model.RotationQueueEntry
	for rows.Next() {
		var entry model.RotationQueueEntry
		var nextBilling sql.NullTime
		if err := rows.Scan(&entry.UserID, &entry.ServiceID, &entry.Position, &entry.PlanID, &nextBilling); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan rotation entry", err)
		}
		if nextBilling.Valid {
			entry.NextBillingDate = &nextBilling.Time
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over rotation entries", err)
	}
	return entries, nil
}
