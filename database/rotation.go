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
	"time"

	"github.com/rotaflow/rotaflow/internal/apierror"
	"github.com/rotaflow/rotaflow/model"
)

// GetService reads a catalog entry, via cache when one is attached. The
// catalog changes rarely and every job creation hits it.
func (d Datasource) GetService(ctx context.Context, serviceID string) (*model.Service, error) {
	cacheKey := fmt.Sprintf("service:%s", serviceID)
	if d.Cache != nil {
		service := &model.Service{}
		if err := d.Cache.Get(ctx, cacheKey, service); err == nil && service.ServiceID != "" {
			return service, nil
		}
	}

	service := &model.Service{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, service_id, name, monthly_price_cents, active
		FROM services WHERE service_id = $1
	`, serviceID).Scan(&service.ID, &service.ServiceID, &service.Name, &service.MonthlyPriceCents, &service.Active)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Service with ID '%s' not found", serviceID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve service", err)
	}

	if d.Cache != nil {
		_ = d.Cache.Set(ctx, cacheKey, service, 5*time.Minute)
	}
	return service, nil
}

// GetGiftCardDenominations lists a service's purchasable gift-card values in
// ascending order, so callers can take the smallest one that covers a target.
func (d Datasource) GetGiftCardDenominations(ctx context.Context, serviceID string) ([]model.GiftCardDenomination, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, service_id, value_cents FROM gift_cards
		WHERE service_id = $1 ORDER BY value_cents ASC
	`, serviceID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve gift card denominations", err)
	}
	defer rows.Close()

	var denominations []model.GiftCardDenomination
	for rows.Next() {
		var denom model.GiftCardDenomination
		if err := rows.Scan(&denom.ID, &denom.ServiceID, &denom.ValueCents); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan gift card denomination", err)
		}
		denominations = append(denominations, denom)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over denominations", err)
	}
	return denominations, nil
}

// GetMaturingRotationHeads returns rotation-queue heads whose next billing
// date falls inside the margin window, with the owner's credit balance. The
// margin sweep judges each of these for coverage.
func (d Datasource) GetMaturingRotationHeads(ctx context.Context, from, to time.Time) ([]RotationHead, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT rq.user_id, rq.service_id, rq.next_billing_date, u.credit_sats
		FROM rotation_queue rq
		JOIN users u ON u.user_id = rq.user_id
		WHERE rq.position = 1
		  AND rq.next_billing_date BETWEEN $1 AND $2
		ORDER BY rq.next_billing_date ASC
	`, from, to)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan maturing rotation heads", err)
	}
	defer rows.Close()

	var heads []RotationHead
	for rows.Next() {
		var head RotationHead
		if err := rows.Scan(&head.UserID, &head.ServiceID, &head.NextBillingDate, &head.CreditSats); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan rotation head", err)
		}
		heads = append(heads, head)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over rotation heads", err)
	}
	return heads, nil
}
