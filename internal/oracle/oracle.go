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

package oracle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/rotaflow/rotaflow/internal/cache"
	"github.com/rotaflow/rotaflow/internal/request"
)

// Client converts between USD cents and satoshis through an external price
// oracle. Conversions are cached briefly since margin sweeps hit the same
// denominations for every user in a run.
type Client struct {
	url   string
	cache cache.Cache
}

func NewClient(url string, c cache.Cache) *Client {
	return &Client{url: url, cache: c}
}

type conversionResponse struct {
	Sats  int64 `json:"sats"`
	Cents int64 `json:"cents"`
}

// UsdCentsToSats converts a USD cent amount to satoshis at the oracle's
// current rate.
func (c *Client) UsdCentsToSats(ctx context.Context, cents int64) (int64, error) {
	cacheKey := fmt.Sprintf("oracle:cents-to-sats:%d", cents)
	if c.cache != nil {
		var cached int64
		if err := c.cache.Get(ctx, cacheKey, &cached); err == nil && cached > 0 {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/convert/cents-to-sats?cents=%d", c.url, cents), nil)
	if err != nil {
		return 0, err
	}

	var resp conversionResponse
	httpResp, err := request.Call(req, &resp)
	if err != nil {
		return 0, errors.Wrap(err, "price oracle")
	}
	if httpResp.StatusCode >= 400 {
		return 0, fmt.Errorf("price oracle returned %d", httpResp.StatusCode)
	}

	if c.cache != nil {
		_ = c.cache.Set(ctx, cacheKey, resp.Sats, 1*time.Minute)
	}
	return resp.Sats, nil
}

// SatsToUsdCents converts a satoshi amount to USD cents at the oracle's
// current rate.
func (c *Client) SatsToUsdCents(ctx context.Context, sats int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/convert/sats-to-cents?sats=%d", c.url, sats), nil)
	if err != nil {
		return 0, err
	}

	var resp conversionResponse
	httpResp, err := request.Call(req, &resp)
	if err != nil {
		return 0, errors.Wrap(err, "price oracle")
	}
	if httpResp.StatusCode >= 400 {
		return 0, fmt.Errorf("price oracle returned %d", httpResp.StatusCode)
	}
	return resp.Cents, nil
}
