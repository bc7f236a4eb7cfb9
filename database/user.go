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
	"fmt"

	"github.com/rotaflow/rotaflow/internal/apierror"
	"github.com/rotaflow/rotaflow/model"
)

func (d Datasource) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	user := &model.User{}
	var lastAbandonAt, onboardedAt sql.NullTime

	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, user_id, email, debt_sats, credit_sats, abandon_count, last_abandon_at, onboarded_at, created_at
		FROM users WHERE user_id = $1
	`, userID).Scan(
		&user.ID, &user.UserID, &user.Email, &user.DebtSats, &user.CreditSats,
		&user.AbandonCount, &lastAbandonAt, &onboardedAt, &user.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("User with ID '%s' not found", userID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve user", err)
	}

	if lastAbandonAt.Valid {
		user.LastAbandonAt = &lastAbandonAt.Time
	}
	if onboardedAt.Valid {
		user.OnboardedAt = &onboardedAt.Time
	}
	return user, nil
}

func (d Datasource) GetCredential(ctx context.Context, userID, serviceID string) (*model.CredentialRecord, error) {
	cred := &model.CredentialRecord{}
	var lastFailureAt sql.NullTime

	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, user_id, service_id, email, credential_failures, last_failure_at, updated_at
		FROM credentials WHERE user_id = $1 AND service_id = $2
	`, userID, serviceID).Scan(
		&cred.ID, &cred.UserID, &cred.ServiceID, &cred.Email,
		&cred.CredentialFailures, &lastFailureAt, &cred.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound,
				fmt.Sprintf("No credential on file for user '%s' and service '%s'", userID, serviceID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credential", err)
	}

	if lastFailureAt.Valid {
		cred.LastFailureAt = &lastFailureAt.Time
	}
	return cred, nil
}
