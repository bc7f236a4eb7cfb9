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

package blocklist

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/rotaflow/rotaflow/internal/request"
)

// Result is the blocklist checker's verdict. Blocked means the credential's
// underlying email carries unpaid debt under a different user account, so
// re-registering with the same service login does not escape a debt gate.
type Result struct {
	Blocked  bool  `json:"blocked"`
	DebtSats int64 `json:"debt_sats"`
}

// Client talks to the cross-identity debt blocklist service.
type Client struct {
	url string
}

func NewClient(url string) *Client {
	return &Client{url: url}
}

type checkRequest struct {
	UserID    string `json:"user_id"`
	ServiceID string `json:"service_id"`
}

// CheckEmailBlocklist asks whether the credential email behind (user,
// service) is debt-blocked under another identity. With no endpoint
// configured the check passes open; single-tenant deployments run without a
// blocklist service.
func (c *Client) CheckEmailBlocklist(ctx context.Context, userID, serviceID string) (*Result, error) {
	if c.url == "" {
		return &Result{}, nil
	}

	payload, err := request.ToJsonReq(checkRequest{UserID: userID, ServiceID: serviceID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/check", c.url), payload)
	if err != nil {
		return nil, err
	}

	var result Result
	httpResp, err := request.Call(req, &result)
	if err != nil {
		return nil, errors.Wrap(err, "blocklist check")
	}
	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("blocklist service returned %d", httpResp.StatusCode)
	}
	return &result, nil
}
