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

// User carries the fields the job engine gates on. DebtSats is a non-negative
// ledger of unpaid completed actions; it is decremented only inside the
// payment reconciler's locked transaction and incremented only by the
// job-failure path.
type User struct {
	ID            int64      `json:"-"`
	UserID        string     `json:"user_id"`
	Email         string     `json:"email"`
	DebtSats      int64      `json:"debt_sats"`
	CreditSats    int64      `json:"credit_sats"`
	AbandonCount  int        `json:"abandon_count"`
	LastAbandonAt *time.Time `json:"last_abandon_at,omitempty"`
	OnboardedAt   *time.Time `json:"onboarded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CredentialRecord tracks login health per (user, service). The failure
// counter is incremented by the automation agent on login failure and read
// here to gate on-demand job creation.
type CredentialRecord struct {
	ID                 int64      `json:"-"`
	UserID             string     `json:"user_id"`
	ServiceID          string     `json:"service_id"`
	Email              string     `json:"email"`
	CredentialFailures int        `json:"credential_failures"`
	LastFailureAt      *time.Time `json:"last_failure_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
