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

// ConfirmJobPayment reconciles an incoming payment against a job inside a
// single database transaction. The job row is taken FOR UPDATE so concurrent
// confirmations for the same job serialize; the second one observes the
// already-paid state and gets a Conflict, which callers treat as idempotent
// success.
//
// Three reconciliation paths exist:
//   - job already completed_paid or completed_eventual: Conflict, no writes.
//   - job completed_reneged: the user paid after walking away. The job
//     converts to completed_eventual and the payment amount is subtracted
//     from the user's debt, floored at zero.
//   - job non-terminal with an invoice attached: the expected path. The job
//     completes as paid; no debt is touched.
//
// Anything else is an invalid state and the whole transaction rolls back.
func (d Datasource) ConfirmJobPayment(ctx context.Context, jobID string, zapEventID *string) (*model.Job, error) {
	ctx, span := otel.Tracer("payment.database").Start(ctx, "Confirming job payment")
	defer span.End()

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

	now := time.Now()

	switch {
	case job.Status == model.StatusCompletedPaid || job.Status == model.StatusCompletedEventual:
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Already paid", nil)

	case job.Status == model.StatusCompletedReneged:
		// Late payment on a reneged job. Clear what debt the amount covers,
		// never below zero. A job with no recorded amount still converts,
		// but cannot safely touch the debt balance.
		if job.AmountSats != nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE users SET debt_sats = GREATEST(0, debt_sats - $2) WHERE user_id = $1
			`, job.UserID, *job.AmountSats)
			if err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reduce user debt", err)
			}
		}
		if err := confirmTransition(ctx, tx, job, model.StatusCompletedEventual, model.TransactionEventual, zapEventID, now); err != nil {
			return nil, err
		}

	case !job.Status.IsTerminal() && job.InvoiceID != nil:
		// The invoice path. Payment matches an outstanding invoice on a live
		// job; no debt was ever booked, so none is written.
		if err := confirmTransition(ctx, tx, job, model.StatusCompletedPaid, model.TransactionPaid, zapEventID, now); err != nil {
			return nil, err
		}

	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Job '%s' in status '%s' cannot accept a payment", jobID, job.Status), nil)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	job.StatusUpdatedAt = now
	return job, nil
}

// confirmTransition applies the status flip, history row, and revenue-ledger
// update for a successful reconciliation, all on the caller's transaction.
// The ledger write flips the linked invoice_sent row in place; a fresh row is
// appended only when no invoice row exists, which happens on reneged jobs
// that were never invoiced.
func confirmTransition(ctx context.Context, tx *sql.Tx, job *model.Job, status model.Status, txnStatus string, zapEventID *string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $2, status_updated_at = $3 WHERE job_id = $1
	`, job.JobID, status, now)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update job status", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_status_history (job_id, status, created_at) VALUES ($1, $2, $3)
	`, job.JobID, status, now)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to append status history", err)
	}

	var amountSats int64
	if job.AmountSats != nil {
		amountSats = *job.AmountSats
	}

	metaData := map[string]interface{}{}
	if zapEventID != nil {
		metaData["zap_event_id"] = *zapEventID
	}
	if job.InvoiceID != nil {
		metaData["invoice_id"] = *job.InvoiceID
	}
	metaDataJSON, err := json.Marshal(metaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE transactions SET status = $2, meta_data = $3
		WHERE job_id = $1 AND status = 'invoice_sent'
	`, job.JobID, txnStatus, metaDataJSON)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if updated == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (transaction_id, job_id, user_id, service_id, action, amount_sats, status, created_at, meta_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, model.GenerateUUIDWithSuffix("txn"), job.JobID, job.UserID, job.ServiceID, job.Action, amountSats, txnStatus, now, metaDataJSON)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", err)
		}
	}

	job.Status = status
	return nil
}
