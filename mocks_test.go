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
	"time"

	"github.com/rotaflow/rotaflow/database"
	"github.com/rotaflow/rotaflow/internal/blocklist"
	"github.com/rotaflow/rotaflow/internal/lightning"
	"github.com/rotaflow/rotaflow/model"
)

// mockDataSource implements database.IDataSource with overridable function
// fields, so each test supplies only the calls it cares about.
type mockDataSource struct {
	insertJob          func(ctx context.Context, job *model.Job) (bool, error)
	getJobByID         func(ctx context.Context, jobID string) (*model.Job, error)
	updateJobStatus    func(ctx context.Context, jobID string, status model.Status) (*model.Job, error)
	countPendingJobs   func(ctx context.Context) (int64, error)
	stalePendingJobIDs func(ctx context.Context, olderThan time.Time) ([]string, error)
	cancelCandidates   func(ctx context.Context, from, to time.Time) ([]model.RotationQueueEntry, error)
	resumeCandidates   func(ctx context.Context, from, to time.Time) ([]model.RotationQueueEntry, error)
	setJobInvoice      func(ctx context.Context, jobID, invoiceID string, amountSats int64) error
	getUserByID        func(ctx context.Context, userID string) (*model.User, error)
	getCredential      func(ctx context.Context, userID, serviceID string) (*model.CredentialRecord, error)
	recordTransaction  func(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	txnByJobID         func(ctx context.Context, jobID string) (*model.Transaction, error)
	confirmJobPayment  func(ctx context.Context, jobID string, zapEventID *string) (*model.Job, error)
	getService         func(ctx context.Context, serviceID string) (*model.Service, error)
	giftCards          func(ctx context.Context, serviceID string) ([]model.GiftCardDenomination, error)
	rotationHeads      func(ctx context.Context, from, to time.Time) ([]database.RotationHead, error)
	operatorAlert      func(ctx context.Context, call *model.MarginCall) error
	executionAudit     func(ctx context.Context, phase string, details map[string]interface{}) error
	prune              func(ctx context.Context, table string, olderThan time.Time) (int64, error)
}

func (m *mockDataSource) InsertJob(ctx context.Context, job *model.Job) (bool, error) {
	return m.insertJob(ctx, job)
}

func (m *mockDataSource) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	return m.getJobByID(ctx, jobID)
}

func (m *mockDataSource) UpdateJobStatus(ctx context.Context, jobID string, status model.Status) (*model.Job, error) {
	return m.updateJobStatus(ctx, jobID, status)
}

func (m *mockDataSource) CountPendingJobs(ctx context.Context) (int64, error) {
	if m.countPendingJobs == nil {
		return 0, nil
	}
	return m.countPendingJobs(ctx)
}

func (m *mockDataSource) GetStalePendingJobIDs(ctx context.Context, olderThan time.Time) ([]string, error) {
	if m.stalePendingJobIDs == nil {
		return nil, nil
	}
	return m.stalePendingJobIDs(ctx, olderThan)
}

func (m *mockDataSource) GetUpcomingCancelCandidates(ctx context.Context, from, to time.Time) ([]model.RotationQueueEntry, error) {
	if m.cancelCandidates == nil {
		return nil, nil
	}
	return m.cancelCandidates(ctx, from, to)
}

func (m *mockDataSource) GetUpcomingResumeCandidates(ctx context.Context, from, to time.Time) ([]model.RotationQueueEntry, error) {
	if m.resumeCandidates == nil {
		return nil, nil
	}
	return m.resumeCandidates(ctx, from, to)
}

func (m *mockDataSource) SetJobInvoice(ctx context.Context, jobID, invoiceID string, amountSats int64) error {
	if m.setJobInvoice == nil {
		return nil
	}
	return m.setJobInvoice(ctx, jobID, invoiceID, amountSats)
}

func (m *mockDataSource) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	return m.getUserByID(ctx, userID)
}

func (m *mockDataSource) GetCredential(ctx context.Context, userID, serviceID string) (*model.CredentialRecord, error) {
	return m.getCredential(ctx, userID, serviceID)
}

func (m *mockDataSource) RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if m.recordTransaction == nil {
		return txn, nil
	}
	return m.recordTransaction(ctx, txn)
}

func (m *mockDataSource) GetTransactionByJobID(ctx context.Context, jobID string) (*model.Transaction, error) {
	return m.txnByJobID(ctx, jobID)
}

func (m *mockDataSource) ConfirmJobPayment(ctx context.Context, jobID string, zapEventID *string) (*model.Job, error) {
	return m.confirmJobPayment(ctx, jobID, zapEventID)
}

func (m *mockDataSource) GetService(ctx context.Context, serviceID string) (*model.Service, error) {
	return m.getService(ctx, serviceID)
}

func (m *mockDataSource) GetGiftCardDenominations(ctx context.Context, serviceID string) ([]model.GiftCardDenomination, error) {
	return m.giftCards(ctx, serviceID)
}

func (m *mockDataSource) GetMaturingRotationHeads(ctx context.Context, from, to time.Time) ([]database.RotationHead, error) {
	if m.rotationHeads == nil {
		return nil, nil
	}
	return m.rotationHeads(ctx, from, to)
}

func (m *mockDataSource) RecordOperatorAlert(ctx context.Context, call *model.MarginCall) error {
	if m.operatorAlert == nil {
		return nil
	}
	return m.operatorAlert(ctx, call)
}

func (m *mockDataSource) RecordExecutionAudit(ctx context.Context, phase string, details map[string]interface{}) error {
	if m.executionAudit == nil {
		return nil
	}
	return m.executionAudit(ctx, phase, details)
}

func (m *mockDataSource) PruneExecutionAudit(ctx context.Context, olderThan time.Time) (int64, error) {
	if m.prune == nil {
		return 0, nil
	}
	return m.prune(ctx, "execution_audit", olderThan)
}

func (m *mockDataSource) PruneStatusHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	if m.prune == nil {
		return 0, nil
	}
	return m.prune(ctx, "job_status_history", olderThan)
}

func (m *mockDataSource) PruneOperatorAlerts(ctx context.Context, olderThan time.Time) (int64, error) {
	if m.prune == nil {
		return 0, nil
	}
	return m.prune(ctx, "operator_alerts", olderThan)
}

func (m *mockDataSource) PruneOperatorAuditLog(ctx context.Context, olderThan time.Time) (int64, error) {
	if m.prune == nil {
		return 0, nil
	}
	return m.prune(ctx, "operator_audit_log", olderThan)
}

// mockAnnouncer records announcements instead of touching Redis.
type mockAnnouncer struct {
	newJobs   [][]string
	staleJobs [][]string
	webhooks  []string
}

func (m *mockAnnouncer) AnnounceNewJobs(ctx context.Context, jobIDs []string) {
	if len(jobIDs) == 0 {
		return
	}
	m.newJobs = append(m.newJobs, jobIDs)
}

func (m *mockAnnouncer) AnnounceStaleJobs(ctx context.Context, jobIDs []string) {
	if len(jobIDs) == 0 {
		return
	}
	m.staleJobs = append(m.staleJobs, jobIDs)
}

func (m *mockAnnouncer) SendWebhook(event string, payload interface{}) error {
	m.webhooks = append(m.webhooks, event)
	return nil
}

// mockInvoiceIssuer returns a canned invoice or error.
type mockInvoiceIssuer struct {
	invoice *lightning.Invoice
	err     error
	calls   int
}

func (m *mockInvoiceIssuer) CreateInvoice(ctx context.Context, amountSats int64, memo string, metadata map[string]interface{}) (*lightning.Invoice, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.invoice, nil
}

// mockOracle converts at a fixed sats-per-cent rate.
type mockOracle struct {
	satsPerCent int64
}

func (m *mockOracle) UsdCentsToSats(ctx context.Context, cents int64) (int64, error) {
	return cents * m.satsPerCent, nil
}

func (m *mockOracle) SatsToUsdCents(ctx context.Context, sats int64) (int64, error) {
	return sats / m.satsPerCent, nil
}

// mockBlocklist returns a fixed verdict.
type mockBlocklist struct {
	result *blocklist.Result
	err    error
}

func (m *mockBlocklist) CheckEmailBlocklist(ctx context.Context, userID, serviceID string) (*blocklist.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &blocklist.Result{}, nil
	}
	return m.result, nil
}

// newTestRotaflow wires an engine from test doubles.
func newTestRotaflow(ds database.IDataSource) (*Rotaflow, *mockAnnouncer) {
	announcer := &mockAnnouncer{}
	return &Rotaflow{
		queue:      announcer,
		datasource: ds,
		invoices:   &mockInvoiceIssuer{invoice: &lightning.Invoice{ID: "inv_test", PaymentRequest: "lnbc1test"}},
		oracle:     &mockOracle{satsPerCent: 10},
		blocklist:  &mockBlocklist{},
	}, announcer
}
