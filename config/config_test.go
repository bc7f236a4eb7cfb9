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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitConfig_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rotaflow.json")
	err := os.WriteFile(file, []byte(`{
		"data_source": {"dns": "postgres://localhost/rotaflow"},
		"redis": {"dns": "localhost:6379"}
	}`), 0644)
	assert.NoError(t, err)

	err = InitConfig(file)
	assert.NoError(t, err)

	cnf, err := Fetch()
	assert.NoError(t, err)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, "new:jobs", cnf.Queue.NewJobsQueue)
	assert.Equal(t, "stale:jobs", cnf.Queue.StaleJobsQueue)
	assert.Equal(t, 14, cnf.Scheduler.CancelLeadDays)
	assert.Equal(t, 7, cnf.Scheduler.ResumeLeadDays)
	assert.Equal(t, 10, cnf.Scheduler.MarginWindowDays)
	assert.Equal(t, 60, cnf.Scheduler.StaleAfterMinutes)
	assert.Equal(t, 90, cnf.Scheduler.RetentionDays)
	assert.Equal(t, 3, cnf.Abuse.AbandonLimit)
	assert.Equal(t, 5, cnf.Abuse.StrikeLimit)
	assert.Equal(t, int64(3000), cnf.Billing.PlatformFeeSats)
}

func TestInitConfig_MissingDataSource(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rotaflow.json")
	err := os.WriteFile(file, []byte(`{"redis": {"dns": "localhost:6379"}}`), 0644)
	assert.NoError(t, err)

	err = InitConfig(file)
	assert.Error(t, err)
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := &Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost/rotaflow"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		RateLimit:  RateLimitConfig{RequestsPerSecond: &rps},
	}

	err := cnf.validateAndAddDefaults()
	assert.NoError(t, err)
	assert.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
	assert.NotNil(t, cnf.RateLimit.CleanupIntervalSec)
}
