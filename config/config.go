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
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"ROTAFLOW_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"ROTAFLOW_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"ROTAFLOW_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"ROTAFLOW_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"ROTAFLOW_REDIS_DNS"`
}

type QueueConfig struct {
	NewJobsQueue   string `json:"new_jobs_queue" envconfig:"ROTAFLOW_NEW_JOBS_QUEUE"`
	StaleJobsQueue string `json:"stale_jobs_queue" envconfig:"ROTAFLOW_STALE_JOBS_QUEUE"`
	WebhookQueue   string `json:"webhook_queue" envconfig:"ROTAFLOW_WEBHOOK_QUEUE"`
	MonitoringPort string `json:"monitoring_port" envconfig:"ROTAFLOW_MONITORING_PORT"`
}

// SchedulerConfig carries the daily batch windows and thresholds. Durations
// expressed in days/hours as plain integers to keep the JSON file readable.
type SchedulerConfig struct {
	CronSpec          string `json:"cron_spec" envconfig:"ROTAFLOW_BATCH_CRON"`
	CancelLeadDays    int    `json:"cancel_lead_days" envconfig:"ROTAFLOW_CANCEL_LEAD_DAYS"`
	ResumeLeadDays    int    `json:"resume_lead_days" envconfig:"ROTAFLOW_RESUME_LEAD_DAYS"`
	MarginWindowDays  int    `json:"margin_window_days" envconfig:"ROTAFLOW_MARGIN_WINDOW_DAYS"`
	StaleAfterMinutes int    `json:"stale_after_minutes" envconfig:"ROTAFLOW_STALE_AFTER_MINUTES"`
	RetentionDays     int    `json:"retention_days" envconfig:"ROTAFLOW_RETENTION_DAYS"`
}

// AbuseConfig carries the thresholds the on-demand creation gate applies.
type AbuseConfig struct {
	AbandonLimit        int `json:"abandon_limit" envconfig:"ROTAFLOW_ABANDON_LIMIT"`
	AbandonCooldownHrs  int `json:"abandon_cooldown_hours" envconfig:"ROTAFLOW_ABANDON_COOLDOWN_HOURS"`
	StrikeLimit         int `json:"strike_limit" envconfig:"ROTAFLOW_STRIKE_LIMIT"`
	StrikeCooldownHrs   int `json:"strike_cooldown_hours" envconfig:"ROTAFLOW_STRIKE_COOLDOWN_HOURS"`
	StrikeSoftThreshold int `json:"strike_soft_threshold" envconfig:"ROTAFLOW_STRIKE_SOFT_THRESHOLD"`
}

type BillingConfig struct {
	PlatformFeeSats int64 `json:"platform_fee_sats" envconfig:"ROTAFLOW_PLATFORM_FEE_SATS"`
}

type LightningConfig struct {
	Url     string `json:"url" envconfig:"ROTAFLOW_LIGHTNING_URL"`
	ApiKey  string `json:"api_key" envconfig:"ROTAFLOW_LIGHTNING_API_KEY"`
	Timeout int    `json:"timeout"`
}

type OracleConfig struct {
	Url string `json:"url" envconfig:"ROTAFLOW_ORACLE_URL"`
}

type BlocklistConfig struct {
	Url string `json:"url" envconfig:"ROTAFLOW_BLOCKLIST_URL"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"ROTAFLOW_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"ROTAFLOW_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"ROTAFLOW_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"ROTAFLOW_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Queue        QueueConfig      `json:"queue"`
	Scheduler    SchedulerConfig  `json:"scheduler"`
	Abuse        AbuseConfig      `json:"abuse"`
	Billing      BillingConfig    `json:"billing"`
	Lightning    LightningConfig  `json:"lightning"`
	Oracle       OracleConfig     `json:"oracle"`
	Blocklist    BlocklistConfig  `json:"blocklist"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
	Notification Notification     `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("rotaflow", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called rotaflow.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Rotaflow Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.NewJobsQueue == "" {
		cnf.Queue.NewJobsQueue = "new:jobs"
	}
	if cnf.Queue.StaleJobsQueue == "" {
		cnf.Queue.StaleJobsQueue = "stale:jobs"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "webhook:rotaflow"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5003"
	}

	if cnf.Scheduler.CronSpec == "" {
		cnf.Scheduler.CronSpec = "0 6 * * *" // daily, 06:00
	}
	if cnf.Scheduler.CancelLeadDays == 0 {
		cnf.Scheduler.CancelLeadDays = 14
	}
	if cnf.Scheduler.ResumeLeadDays == 0 {
		cnf.Scheduler.ResumeLeadDays = 7
	}
	if cnf.Scheduler.MarginWindowDays == 0 {
		cnf.Scheduler.MarginWindowDays = 10
	}
	if cnf.Scheduler.StaleAfterMinutes == 0 {
		cnf.Scheduler.StaleAfterMinutes = 60
	}
	if cnf.Scheduler.RetentionDays == 0 {
		cnf.Scheduler.RetentionDays = 90
	}

	if cnf.Abuse.AbandonLimit == 0 {
		cnf.Abuse.AbandonLimit = 3
	}
	if cnf.Abuse.AbandonCooldownHrs == 0 {
		cnf.Abuse.AbandonCooldownHrs = 72
	}
	if cnf.Abuse.StrikeLimit == 0 {
		cnf.Abuse.StrikeLimit = 5
	}
	if cnf.Abuse.StrikeCooldownHrs == 0 {
		cnf.Abuse.StrikeCooldownHrs = 24
	}
	if cnf.Abuse.StrikeSoftThreshold == 0 {
		cnf.Abuse.StrikeSoftThreshold = 2
	}

	if cnf.Billing.PlatformFeeSats == 0 {
		cnf.Billing.PlatformFeeSats = 3000
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
