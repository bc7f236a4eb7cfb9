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
	"encoding/json"
	"time"

	"github.com/rotaflow/rotaflow/internal/apierror"
	"github.com/rotaflow/rotaflow/model"
)

// RecordOperatorAlert persists a margin-call finding for operator triage.
func (d Datasource) RecordOperatorAlert(ctx context.Context, call *model.MarginCall) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO operator_alerts (user_id, service_id, severity, shortfall_sats, days_remaining, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, call.UserID, call.ServiceID, call.Severity, call.ShortfallSats, call.DaysRemaining)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record operator alert", err)
	}
	return nil
}

// RecordExecutionAudit appends a phase record for a batch run.
func (d Datasource) RecordExecutionAudit(ctx context.Context, phase string, details map[string]interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal audit details", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO execution_audit (phase, details, created_at) VALUES ($1, $2, NOW())
	`, phase, detailsJSON)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record execution audit", err)
	}
	return nil
}

// The four prune methods below delete audit rows past the retention cutoff
// and report how many went. The transactions table has no prune method on
// purpose: it is the revenue ledger of record.

func (d Datasource) PruneExecutionAudit(ctx context.Context, olderThan time.Time) (int64, error) {
	return d.pruneTable(ctx, "execution_audit", olderThan)
}

func (d Datasource) PruneStatusHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	return d.pruneTable(ctx, "job_status_history", olderThan)
}

func (d Datasource) PruneOperatorAlerts(ctx context.Context, olderThan time.Time) (int64, error) {
	return d.pruneTable(ctx, "operator_alerts", olderThan)
}

func (d Datasource) PruneOperatorAuditLog(ctx context.Context, olderThan time.Time) (int64, error) {
	return d.pruneTable(ctx, "operator_audit_log", olderThan)
}

func (d Datasource) pruneTable(ctx context.Context, table string, olderThan time.Time) (int64, error) {
	result, err := d.Conn.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < $1", olderThan)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to prune "+table, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return deleted, nil
}
