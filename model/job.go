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

import (
	"encoding/json"
	"time"
)

// Status is the closed set of job lifecycle states. External consumers filter
// on the exact string values, so these never change spelling.
type Status string

const (
	StatusPending      Status = "pending"
	StatusDispatched   Status = "dispatched"
	StatusActive       Status = "active"
	StatusAwaitingOTP  Status = "awaiting_otp"
	StatusOutreachSent Status = "outreach_sent"
	StatusSnoozed      Status = "snoozed"

	StatusCompletedPaid     Status = "completed_paid"
	StatusCompletedEventual Status = "completed_eventual"
	StatusCompletedReneged  Status = "completed_reneged"
	StatusUserSkip          Status = "user_skip"
	StatusUserAbandon       Status = "user_abandon"
	StatusImpliedSkip       Status = "implied_skip"
	StatusFailed            Status = "failed"
)

// terminalStatuses is the full terminal set. The partial unique index on the
// jobs table is scoped to exclude exactly this set, so keep the two in sync.
var terminalStatuses = []Status{
	StatusCompletedPaid,
	StatusCompletedEventual,
	StatusCompletedReneged,
	StatusUserSkip,
	StatusUserAbandon,
	StatusImpliedSkip,
	StatusFailed,
}

var nonTerminalStatuses = []Status{
	StatusPending,
	StatusDispatched,
	StatusActive,
	StatusAwaitingOTP,
	StatusOutreachSent,
	StatusSnoozed,
}

// IsTerminal reports whether no further automated progress is expected from
// this status. completed_reneged counts as terminal even though the payment
// reconciler may later convert it to completed_eventual; that single move is
// handled explicitly there, never as a generic transition.
func (s Status) IsTerminal() bool {
	for _, t := range terminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	for _, t := range terminalStatuses {
		if s == t {
			return true
		}
	}
	for _, t := range nonTerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// TerminalStatusStrings returns the terminal set as plain strings for use in
// SQL NOT IN lists.
func TerminalStatusStrings() []string {
	out := make([]string, len(terminalStatuses))
	for i, s := range terminalStatuses {
		out[i] = string(s)
	}
	return out
}

// Action is what the automation agent does to the third-party service.
type Action string

const (
	ActionCancel Action = "cancel"
	ActionResume Action = "resume"
)

func (a Action) Valid() bool {
	return a == ActionCancel || a == ActionResume
}

// Trigger records which path created a job.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerOnDemand  Trigger = "on_demand"
)

// Job is one request to cancel or resume one streaming service for one user.
// At most one job per (user, service) may be in a non-terminal status at any
// time; the jobs table enforces that with a partial unique index.
type Job struct {
	ID                   int64      `json:"-"`
	JobID                string     `json:"job_id"`
	UserID               string     `json:"user_id"`
	ServiceID            string     `json:"service_id"`
	Action               Action     `json:"action"`
	Trigger              Trigger    `json:"trigger"`
	Status               Status     `json:"status"`
	StatusUpdatedAt      time.Time  `json:"status_updated_at"`
	InvoiceID            *string    `json:"invoice_id,omitempty"`
	AmountSats           *int64     `json:"amount_sats,omitempty"`
	BillingDate          *time.Time `json:"billing_date,omitempty"`
	AccessEndDate        *time.Time `json:"access_end_date,omitempty"`
	AccessEndApproximate bool       `json:"access_end_approximate"`
	CreatedAt            time.Time  `json:"created_at"`

	MetaData map[string]interface{} `json:"meta_data,omitempty"`
}

// NewJob returns a pending job for the given pair with a fresh id.
func NewJob(userID, serviceID string, action Action, trigger Trigger) *Job {
	now := time.Now()
	return &Job{
		JobID:           GenerateUUIDWithSuffix("job"),
		UserID:          userID,
		ServiceID:       serviceID,
		Action:          action,
		Trigger:         trigger,
		Status:          StatusPending,
		StatusUpdatedAt: now,
		CreatedAt:       now,
	}
}

// Payable reports whether confirming a payment against this job can produce
// the completed_paid terminal state: the job must still be in flight and must
// have had an invoice issued.
func (j *Job) Payable() bool {
	return !j.Status.IsTerminal() && j.InvoiceID != nil
}

func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}
