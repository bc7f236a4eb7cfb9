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

	"github.com/rotaflow/rotaflow/config"
	"github.com/rotaflow/rotaflow/internal/apierror"
	"github.com/rotaflow/rotaflow/model"
)

// InvoiceResult is returned to the caller that requested an invoice.
type InvoiceResult struct {
	JobID          string `json:"job_id"`
	InvoiceID      string `json:"invoice_id"`
	PaymentRequest string `json:"payment_request"`
	AmountSats     int64  `json:"amount_sats"`
}

// IssueInvoice creates a platform-fee invoice for a job and attaches it. The
// provider call happens first: on provider failure the job stays pre-invoice
// and nothing is written. Only after a usable invoice comes back does the job
// take the invoice id and a ledger row get appended.
func (r *Rotaflow) IssueInvoice(ctx context.Context, jobID string) (*InvoiceResult, error) {
	ctx, span := tracer.Start(ctx, "Issuing job invoice")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	job, err := r.datasource.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Job '%s' is already terminal (%s)", jobID, job.Status), nil)
	}
	if job.InvoiceID != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Job '%s' already has an invoice", jobID), nil)
	}

	amountSats := conf.Billing.PlatformFeeSats
	memo := fmt.Sprintf("rotaflow %s fee for job %s", job.Action, job.JobID)
	invoice, err := r.invoices.CreateInvoice(ctx, amountSats, memo, map[string]interface{}{
		"job_id":     job.JobID,
		"user_id":    job.UserID,
		"service_id": job.ServiceID,
	})
	if err != nil {
		return nil, logAndRecordError(span, "invoice provider failed: ",
			apierror.NewAPIError(apierror.ErrUpstreamFailure, "Invoice provider unavailable", err))
	}

	if err := r.datasource.SetJobInvoice(ctx, job.JobID, invoice.ID, amountSats); err != nil {
		return nil, err
	}

	_, err = r.datasource.RecordTransaction(ctx, &model.Transaction{
		TransactionID: model.GenerateUUIDWithSuffix("txn"),
		JobID:         job.JobID,
		UserID:        job.UserID,
		ServiceID:     job.ServiceID,
		Action:        job.Action,
		AmountSats:    amountSats,
		Status:        model.TransactionInvoiceSent,
		CreatedAt:     time.Now(),
		MetaData:      map[string]interface{}{"invoice_id": invoice.ID},
	})
	if err != nil {
		return nil, err
	}

	return &InvoiceResult{
		JobID:          job.JobID,
		InvoiceID:      invoice.ID,
		PaymentRequest: invoice.PaymentRequest,
		AmountSats:     amountSats,
	}, nil
}

// ConfirmPayment reconciles a payment notification against a job. The store
// does all the work under a row lock; this wrapper only adds the outbound
// webhook on success. A Conflict from the store means the job was already
// finalized; callers treat that as success-adjacent on retry.
func (r *Rotaflow) ConfirmPayment(ctx context.Context, jobID string, zapEventID *string) (*model.Job, error) {
	ctx, span := tracer.Start(ctx, "Confirming job payment")
	defer span.End()

	job, err := r.datasource.ConfirmJobPayment(ctx, jobID, zapEventID)
	if err != nil {
		return nil, err
	}

	if err := r.queue.SendWebhook(EventPaymentConfirmed, job); err != nil {
		logrus.Error(err)
	}
	if err := r.queue.SendWebhook(EventJobCompleted, job); err != nil {
		logrus.Error(err)
	}
	return job, nil
}
