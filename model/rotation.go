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

package model

import "time"

// RotationQueueEntry is one slot in a user's service rotation. Position 1 is
// the head, the next service the user wants active. The queue is mutated by
// external queue-management logic; this engine only reads it.
type RotationQueueEntry struct {
	ID              int64      `json:"-"`
	UserID          string     `json:"user_id"`
	ServiceID       string     `json:"service_id"`
	Position        int        `json:"position"`
	PlanID          string     `json:"plan_id"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`
}

// Service is a catalog entry for a supported streaming service.
type Service struct {
	ID                int64  `json:"-"`
	ServiceID         string `json:"service_id"`
	Name              string `json:"name"`
	MonthlyPriceCents int64  `json:"monthly_price_cents"`
	Active            bool   `json:"active"`
}

// GiftCardDenomination is one purchasable gift-card value for a service, in
// USD cents.
type GiftCardDenomination struct {
	ID         int64  `json:"-"`
	ServiceID  string `json:"service_id"`
	ValueCents int64  `json:"value_cents"`
}

// RequiredBalance is the margin-call quote for a service: the platform fee
// plus the sats cost of the next gift card.
type RequiredBalance struct {
	PlatformFeeSats  int64 `json:"platform_fee_sats"`
	GiftCardCostSats int64 `json:"gift_card_cost_sats"`
	TotalSats        int64 `json:"total_sats"`
}

// Margin call severities, ordered by urgency.
const (
	SeverityPaused   = "paused"
	SeverityCritical = "critical"
	SeverityEmail    = "email"
	SeverityWarning  = "warning"
)

// MarginCall is one user's shortfall against the next scheduled gift-card
// purchase for their rotation head.
type MarginCall struct {
	UserID        string `json:"user_id"`
	ServiceID     string `json:"service_id"`
	RequiredSats  int64  `json:"required_sats"`
	CreditSats    int64  `json:"credit_sats"`
	ShortfallSats int64  `json:"shortfall_sats"`
	DaysRemaining int    `json:"days_remaining"`
	Severity      string `json:"severity"`
}
