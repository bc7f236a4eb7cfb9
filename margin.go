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

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rotaflow/rotaflow/config"
	"github.com/rotaflow/rotaflow/internal/apierror"
	"github.com/rotaflow/rotaflow/internal/notification"
	"github.com/rotaflow/rotaflow/model"
)

// coverageDays is the minimum service period a purchased gift card must
// cover. Denominations are judged against ceil(monthlyPrice/30 * 28).
const coverageDays = 28

// RequiredBalance quotes what a user's credit must hold before the next
// gift-card purchase for a service: the platform fee plus the sats price of
// the smallest denomination covering at least 28 days of service, falling
// back to the largest available when none suffice.
func (r *Rotaflow) RequiredBalance(ctx context.Context, serviceID string) (*model.RequiredBalance, error) {
	ctx, span := tracer.Start(ctx, "Computing required balance")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	service, err := r.datasource.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	denominations, err := r.datasource.GetGiftCardDenominations(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if len(denominations) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrNotFound,
			fmt.Sprintf("No gift card denominations on file for service '%s'", serviceID), nil)
	}

	targetCents := decimal.NewFromInt(service.MonthlyPriceCents).
		Div(decimal.NewFromInt(30)).
		Mul(decimal.NewFromInt(coverageDays)).
		Ceil().
		IntPart()

	// Denominations come back in ascending order; take the first that covers
	// the target, or the largest available if none do.
	chosen := denominations[len(denominations)-1]
	for _, denom := range denominations {
		if denom.ValueCents >= targetCents {
			chosen = denom
			break
		}
	}

	giftCardSats, err := r.oracle.UsdCentsToSats(ctx, chosen.ValueCents)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrUpstreamFailure, "Price oracle unavailable", err)
	}

	return &model.RequiredBalance{
		PlatformFeeSats:  conf.Billing.PlatformFeeSats,
		GiftCardCostSats: giftCardSats,
		TotalSats:        conf.Billing.PlatformFeeSats + giftCardSats,
	}, nil
}

// classifySeverity maps days-remaining until the rotation slot matures to an
// escalation level.
func classifySeverity(daysRemaining int) string {
	switch {
	case daysRemaining <= 0:
		return model.SeverityPaused
	case daysRemaining <= 3:
		return model.SeverityCritical
	case daysRemaining <= 5:
		return model.SeverityEmail
	default:
		return model.SeverityWarning
	}
}

// RunMarginSweep scans rotation heads maturing inside the margin window and
// raises a margin call for every user whose credit does not cover the next
// purchase. Covered users are skipped. Each call is persisted as an operator
// alert; paused and critical calls additionally page Slack.
func (r *Rotaflow) RunMarginSweep(ctx context.Context) ([]model.MarginCall, error) {
	ctx, span := tracer.Start(ctx, "Running margin sweep")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	heads, err := r.datasource.GetMaturingRotationHeads(ctx, now, now.AddDate(0, 0, conf.Scheduler.MarginWindowDays))
	if err != nil {
		return nil, err
	}

	var calls []model.MarginCall
	for _, head := range heads {
		required, err := r.RequiredBalance(ctx, head.ServiceID)
		if err != nil {
			logrus.Errorf("Error computing required balance for %s/%s: %v", head.UserID, head.ServiceID, err)
			continue
		}

		shortfall := required.TotalSats - head.CreditSats
		if shortfall <= 0 {
			continue
		}

		daysRemaining := int(time.Until(head.NextBillingDate).Hours() / 24)
		call := model.MarginCall{
			UserID:        head.UserID,
			ServiceID:     head.ServiceID,
			RequiredSats:  required.TotalSats,
			CreditSats:    head.CreditSats,
			ShortfallSats: shortfall,
			DaysRemaining: daysRemaining,
			Severity:      classifySeverity(daysRemaining),
		}

		if err := r.datasource.RecordOperatorAlert(ctx, &call); err != nil {
			logrus.Errorf("Error recording operator alert for %s: %v", head.UserID, err)
		}
		if call.Severity == model.SeverityPaused || call.Severity == model.SeverityCritical {
			notification.NotifyError(fmt.Errorf("margin call (%s): user %s short %d sats for %s with %d days remaining",
				call.Severity, call.UserID, call.ShortfallSats, call.ServiceID, call.DaysRemaining))
		}

		calls = append(calls, call)
	}

	return calls, nil
}
