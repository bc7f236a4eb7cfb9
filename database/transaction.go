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

	"github.com/rotaflow/rotaflow/internal/apierror"
	"github.com/rotaflow/rotaflow/model"
)

// RecordTransaction appends a row to the revenue ledger. Rows here are never
// updated except by the payment reconciler and never deleted.
func (d Datasource) RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	metaDataJSON, err := json.Marshal(txn.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, job_id, user_id, service_id, action, amount_sats, status, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, txn.TransactionID, txn.JobID, txn.UserID, txn.ServiceID, txn.Action, txn.AmountSats, txn.Status, txn.CreatedAt, metaDataJSON)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", err)
	}
	return txn, nil
}

// GetTransactionByJobID returns the most recent ledger row for a job.
func (d Datasource) GetTransactionByJobID(ctx context.Context, jobID string) (*model.Transaction, error) {
	txn := &model.Transaction{}
	var metaDataJSON []byte

	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, transaction_id, job_id, user_id, service_id, action, amount_sats, status, created_at, meta_data
		FROM transactions WHERE job_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, jobID).Scan(
		&txn.ID, &txn.TransactionID, &txn.JobID, &txn.UserID, &txn.ServiceID,
		&txn.Action, &txn.AmountSats, &txn.Status, &txn.CreatedAt, &metaDataJSON,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No transaction found for job '%s'", jobID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &txn.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	return txn, nil
}
