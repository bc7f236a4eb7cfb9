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
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func TestUsdCentsToSats(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://oracle.example.com/convert/cents-to-sats?cents=1500",
		httpmock.NewJsonResponderOrPanic(200, map[string]int64{"sats": 15000}))

	client := NewClient("https://oracle.example.com", nil)
	sats, err := client.UsdCentsToSats(context.Background(), 1500)
	assert.NoError(t, err)
	assert.Equal(t, int64(15000), sats)
}

func TestSatsToUsdCents(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://oracle.example.com/convert/sats-to-cents?sats=15000",
		httpmock.NewJsonResponderOrPanic(200, map[string]int64{"cents": 1500}))

	client := NewClient("https://oracle.example.com", nil)
	cents, err := client.SatsToUsdCents(context.Background(), 15000)
	assert.NoError(t, err)
	assert.Equal(t, int64(1500), cents)
}

func TestUsdCentsToSats_OracleError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://oracle.example.com/convert/cents-to-sats?cents=1500",
		httpmock.NewJsonResponderOrPanic(503, map[string]string{"error": "rate feed down"}))

	client := NewClient("https://oracle.example.com", nil)
	_, err := client.UsdCentsToSats(context.Background(), 1500)
	assert.Error(t, err)
}
