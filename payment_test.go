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

	"github.com/stretchr/testify/assert"

	"github.com/rotaflow/rotaflow/internal/apierror"
	"github.com/rotaflow/rotaflow/model"
)

func TestIssueInvoice_Success(t *testing.T) {
	mockTestConfig()
	job := model.NewJob("usr_1", "svc_netflix", model.ActionCancel, model.TriggerOnDemand)

	var recorded *model.Transaction
	ds := &mockDataSource{
		getJobByID: func(ctx context.Context, jobID string) (*model.Job, error) {
			return job, nil
		},
		recordTransaction: func(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
			recorded = txn
			return txn, nil
		},
	}
	engine, _ := newTestRotaflow(ds)

	result, err := engine.IssueInvoice(context.Background(), job.JobID)
	assert.NoError(t, err)
	assert.Equal(t, "inv_test", result.InvoiceID)
	assert.Equal(t, "lnbc1test", result.PaymentRequest)
	assert.Equal(t, int64(3000), result.AmountSats)

	assert.NotNil(t, recorded)
	assert.Equal(t, model.TransactionInvoiceSent, recorded.Status)
	assert.Equal(t, int64(3000), recorded.AmountSats)
}

func TestIssueInvoice_ProviderFailureLeavesJobPreInvoice(t *testing.T) {
	mockTestConfig()
	job := model.NewJob("usr_1", "svc_netflix", model.ActionCancel, model.TriggerOnDemand)

	ds := &mockDataSource{
		getJobByID: func(ctx context.Context, jobID string) (*model.Job, error) {
			return job, nil
		},
		setJobInvoice: func(ctx context.Context, jobID, invoiceID string, amountSats int64) error {
			t.Fatal("job must stay pre-invoice when the provider fails")
			return nil
		},
	}
	engine, _ := newTestRotaflow(ds)
	engine.invoices = &mockInvoiceIssuer{err: errors.New("provider down")}

	_, err := engine.IssueInvoice(context.Background(), job.JobID)
	assertCode(t, err, apierror.ErrUpstreamFailure)
}

func TestIssueInvoice_RejectsTerminalJob(t *testing.T) {
	mockTestConfig()
	job := model.NewJob("usr_1", "svc_netflix", model.ActionCancel, model.TriggerOnDemand)
	job.Status = model.StatusFailed

	ds := &mockDataSource{
		getJobByID: func(ctx context.Context, jobID string) (*model.Job, error) {
			return job, nil
		},
	}
	engine, _ := newTestRotaflow(ds)

	_, err := engine.IssueInvoice(context.Background(), job.JobID)
	assertCode(t, err, apierror.ErrInvalidState)
}

func TestIssueInvoice_RejectsDoubleIssue(t *testing.T) {
	mockTestConfig()
	job := model.NewJob("usr_1", "svc_netflix", model.ActionCancel, model.TriggerOnDemand)
	invoiceID := "inv_existing"
	job.InvoiceID = &invoiceID

	ds := &mockDataSource{
		getJobByID: func(ctx context.Context, jobID string) (*model.Job, error) {
			return job, nil
		},
	}
	engine, _ := newTestRotaflow(ds)

	_, err := engine.IssueInvoice(context.Background(), job.JobID)
	assertCode(t, err, apierror.ErrConflict)
}

func TestConfirmPayment_EmitsWebhooks(t *testing.T) {
	mockTestConfig()
	ds := &mockDataSource{
		confirmJobPayment: func(ctx context.Context, jobID string, zapEventID *string) (*model.Job, error) {
			job := model.NewJob("usr_1", "svc_netflix", model.ActionCancel, model.TriggerOnDemand)
			job.JobID = jobID
			job.Status = model.StatusCompletedPaid
			return job, nil
		},
	}
	engine, announcer := newTestRotaflow(ds)

	job, err := engine.ConfirmPayment(context.Background(), "job_1", nil)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompletedPaid, job.Status)
	assert.Contains(t, announcer.webhooks, EventPaymentConfirmed)
	assert.Contains(t, announcer.webhooks, EventJobCompleted)
}

func TestConfirmPayment_PassesConflictThrough(t *testing.T) {
	mockTestConfig()
	ds := &mockDataSource{
		confirmJobPayment: func(ctx context.Context, jobID string, zapEventID *string) (*model.Job, error) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Already paid", nil)
		},
	}
	engine, announcer := newTestRotaflow(ds)

	_, err := engine.ConfirmPayment(context.Background(), "job_1", nil)
	assertCode(t, err, apierror.ErrConflict)
	assert.Empty(t, announcer.webhooks)
}
