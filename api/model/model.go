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
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/rotaflow/rotaflow/model"
)

// CreateJobRequest is the on-demand creation body. UserID normally comes from
// the authenticated session; the field here serves trusted internal callers.
type CreateJobRequest struct {
	UserID    string `json:"user_id"`
	ServiceID string `json:"service_id"`
	Action    string `json:"action"`
}

func (r *CreateJobRequest) ValidateCreateJob() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.ServiceID, validation.Required),
		validation.Field(&r.Action, validation.Required, validation.In(string(model.ActionCancel), string(model.ActionResume))),
	)
}

// ConfirmPaymentRequest carries the optional zap event id correlating a
// Nostr zap receipt with the payment.
type ConfirmPaymentRequest struct {
	ZapEventID *string `json:"zap_event_id,omitempty"`
}

// UpdateJobStatusRequest is the automation agent's callback body.
type UpdateJobStatusRequest struct {
	Status string `json:"status"`
}

func (r *UpdateJobStatusRequest) ValidateUpdateJobStatus() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Status, validation.Required, validation.By(func(value interface{}) error {
			s, _ := value.(string)
			if !model.Status(s).Valid() {
				return validation.NewError("validation_status", "unknown job status")
			}
			return nil
		})),
	)
}
