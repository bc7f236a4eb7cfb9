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
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func TestCheckEmailBlocklist_Blocked(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://blocklist.example.com/check",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"blocked":   true,
			"debt_sats": 4200,
		}))

	client := NewClient("https://blocklist.example.com")
	result, err := client.CheckEmailBlocklist(context.Background(), "usr_1", "svc_netflix")
	assert.NoError(t, err)
	assert.True(t, result.Blocked)
	assert.Equal(t, int64(4200), result.DebtSats)
}

func TestCheckEmailBlocklist_NoEndpointPassesOpen(t *testing.T) {
	client := NewClient("")
	result, err := client.CheckEmailBlocklist(context.Background(), "usr_1", "svc_netflix")
	assert.NoError(t, err)
	assert.False(t, result.Blocked)
}

func TestCheckEmailBlocklist_ServiceError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://blocklist.example.com/check",
		httpmock.NewJsonResponderOrPanic(500, map[string]string{"error": "unavailable"}))

	client := NewClient("https://blocklist.example.com")
	_, err := client.CheckEmailBlocklist(context.Background(), "usr_1", "svc_netflix")
	assert.Error(t, err)
}
