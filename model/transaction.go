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

// Transaction statuses. The vocabulary is fixed for compatibility with
// downstream revenue reporting.
const (
	TransactionInvoiceSent = "invoice_sent"
	TransactionPaid        = "paid"
	TransactionEventual    = "eventual"
)

// Transaction is the append-only record of a financial event tied to a job.
// One row is created when an invoice is issued; its status is updated exactly
// once by the payment reconciler. Rows are never deleted; the transactions
// table is the revenue ledger of record and is excluded from retention
// pruning.
type Transaction struct {
	ID            int64     `json:"-"`
	TransactionID string    `json:"id"`
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	ServiceID     string    `json:"service_id"`
	Action        Action    `json:"action"`
	AmountSats    int64     `json:"amount_sats"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`

	MetaData map[string]interface{} `json:"meta_data,omitempty"`
}

func (transaction *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(transaction)
}
