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
	"time"

	"github.com/rotaflow/rotaflow/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	job         // Interface for job store operations
	user        // Interface for user and credential reads
	transaction // Interface for revenue-ledger rows
	payment     // Interface for the locked payment reconciliation
	rotation    // Interface for rotation queue and catalog reads
	maintenance // Interface for audit writes and retention pruning
}

// job defines methods for the job store.
type job interface {
	InsertJob(ctx context.Context, job *model.Job) (bool, error)                                             // Inserts a job, skipping on open-job conflict; returns whether a row was created
	GetJobByID(ctx context.Context, jobID string) (*model.Job, error)                                        // Retrieves a job by ID
	UpdateJobStatus(ctx context.Context, jobID string, status model.Status) (*model.Job, error)              // Advances a job's status with history append; rejects exits from terminal states
	CountPendingJobs(ctx context.Context) (int64, error)                                                     // Counts jobs currently pending (queue-position signal)
	GetStalePendingJobIDs(ctx context.Context, olderThan time.Time) ([]string, error)                        // Finds pending jobs created before the staleness cutoff
	GetUpcomingCancelCandidates(ctx context.Context, from, to time.Time) ([]model.RotationQueueEntry, error) // Rotation entries billing within the window, eligible for a scheduled cancel
	GetUpcomingResumeCandidates(ctx context.Context, from, to time.Time) ([]model.RotationQueueEntry, error) // Queue heads whose access expires within the window, eligible for a scheduled resume
	SetJobInvoice(ctx context.Context, jobID, invoiceID string, amountSats int64) error                      // Attaches an issued invoice to a job
}

// user defines read methods for users and credential records.
type user interface {
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	GetCredential(ctx context.Context, userID, serviceID string) (*model.CredentialRecord, error)
}

// transaction defines methods for the append-only revenue ledger.
type transaction interface {
	RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetTransactionByJobID(ctx context.Context, jobID string) (*model.Transaction, error)
}

// payment defines the reconciler's single transactional operation.
type payment interface {
	ConfirmJobPayment(ctx context.Context, jobID string, zapEventID *string) (*model.Job, error)
}

// rotation defines reads over the rotation queue and service catalog.
type rotation interface {
	GetService(ctx context.Context, serviceID string) (*model.Service, error)
	GetGiftCardDenominations(ctx context.Context, serviceID string) ([]model.GiftCardDenomination, error)
	GetMaturingRotationHeads(ctx context.Context, from, to time.Time) ([]RotationHead, error)
}

// maintenance defines audit writes and retention pruning.
type maintenance interface {
	RecordOperatorAlert(ctx context.Context, call *model.MarginCall) error
	RecordExecutionAudit(ctx context.Context, phase string, details map[string]interface{}) error
	PruneExecutionAudit(ctx context.Context, olderThan time.Time) (int64, error)
	PruneStatusHistory(ctx context.Context, olderThan time.Time) (int64, error)
	PruneOperatorAlerts(ctx context.Context, olderThan time.Time) (int64, error)
	PruneOperatorAuditLog(ctx context.Context, olderThan time.Time) (int64, error)
}

// RotationHead is a margin-sweep scan row: a user's rotation head slot with
// the credit balance needed to judge coverage.
type RotationHead struct {
	UserID          string
	ServiceID       string
	NextBillingDate time.Time
	CreditSats      int64
}
