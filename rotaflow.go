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

	"github.com/sirupsen/logrus"

	"github.com/rotaflow/rotaflow/config"
	"github.com/rotaflow/rotaflow/database"
	"github.com/rotaflow/rotaflow/internal/blocklist"
	"github.com/rotaflow/rotaflow/internal/cache"
	"github.com/rotaflow/rotaflow/internal/lightning"
	"github.com/rotaflow/rotaflow/internal/oracle"
)

// Announcer is the wake-up transport for the automation worker pool. All
// methods are best-effort: a transport failure is logged by the
// implementation and never surfaces to the caller.
type Announcer interface {
	AnnounceNewJobs(ctx context.Context, jobIDs []string)
	AnnounceStaleJobs(ctx context.Context, jobIDs []string)
	SendWebhook(event string, payload interface{}) error
}

// InvoiceIssuer is the opaque create-invoice capability of the Lightning
// provider.
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string, metadata map[string]interface{}) (*lightning.Invoice, error)
}

// PriceOracle converts between USD cents and satoshis.
type PriceOracle interface {
	UsdCentsToSats(ctx context.Context, cents int64) (int64, error)
	SatsToUsdCents(ctx context.Context, sats int64) (int64, error)
}

// BlocklistChecker reports whether a credential's underlying email carries
// debt under a different user account.
type BlocklistChecker interface {
	CheckEmailBlocklist(ctx context.Context, userID, serviceID string) (*blocklist.Result, error)
}

// Rotaflow is the job lifecycle and reconciliation engine. All state lives in
// the datasource; the collaborators are consumed through small interfaces so
// tests can stub them.
type Rotaflow struct {
	queue      Announcer
	datasource database.IDataSource
	invoices   InvoiceIssuer
	oracle     PriceOracle
	blocklist  BlocklistChecker
}

func NewRotaflow(db database.IDataSource) (*Rotaflow, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	cacheInstance, err := cache.NewCache()
	if err != nil {
		logrus.Warnf("cache unavailable, oracle conversions will not be cached: %v", err)
	}

	queue := NewQueue(configuration)
	invoices := lightning.NewClient(configuration.Lightning.Url, configuration.Lightning.ApiKey, configuration.Lightning.Timeout)
	priceOracle := oracle.NewClient(configuration.Oracle.Url, cacheInstance)
	blocklistChecker := blocklist.NewClient(configuration.Blocklist.Url)

	return &Rotaflow{
		queue:      queue,
		datasource: db,
		invoices:   invoices,
		oracle:     priceOracle,
		blocklist:  blocklistChecker,
	}, nil
}
