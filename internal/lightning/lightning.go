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

package lightning

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/rotaflow/rotaflow/internal/request"
)

// Invoice is the opaque result of the provider's create-invoice capability:
// an id to correlate payment notifications and a BOLT11 payment request.
type Invoice struct {
	ID             string `json:"id"`
	PaymentRequest string `json:"payment_request"`
}

// Client talks to the Lightning invoice provider. The provider is an
// external collaborator; this client only creates invoices.
type Client struct {
	url     string
	apiKey  string
	timeout time.Duration
}

func NewClient(url, apiKey string, timeoutSec int) *Client {
	if timeoutSec <= 0 {
		timeoutSec = 15
	}
	return &Client{url: url, apiKey: apiKey, timeout: time.Duration(timeoutSec) * time.Second}
}

type createInvoiceRequest struct {
	AmountSats int64                  `json:"amount_sats"`
	Memo       string                 `json:"memo"`
	MetaData   map[string]interface{} `json:"meta_data,omitempty"`
}

// CreateInvoice requests an invoice for the given amount. Transient failures
// are retried with exponential backoff; the caller sees either a usable
// invoice or a single error after retries are exhausted. The caller must not
// have mutated any job or transaction row before this returns successfully.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string, metadata map[string]interface{}) (*Invoice, error) {
	var invoice Invoice

	operation := func() error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		payload, err := request.ToJsonReq(createInvoiceRequest{
			AmountSats: amountSats,
			Memo:       memo,
			MetaData:   metadata,
		})
		if err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/api/v1/invoices", c.url), payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := request.Call(req, &invoice)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("invoice provider returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("invoice provider rejected request: %d", resp.StatusCode))
		}
		if invoice.ID == "" || invoice.PaymentRequest == "" {
			return backoff.Permanent(errors.New("invoice provider returned an incomplete invoice"))
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, errors.Wrap(err, "create invoice")
	}

	return &invoice, nil
}
