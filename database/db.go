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

package database

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"

	_ "github.com/lib/pq"

	"github.com/rotaflow/rotaflow/config"
	"github.com/rotaflow/rotaflow/internal/cache"
	"github.com/rotaflow/rotaflow/model"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		cacheInstance, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("cache unavailable, continuing without it: %v", errCache)
		}
		instance = &Datasource{Conn: con, Cache: cacheInstance}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error ❌: %v", err)
		return nil, err
	}
	err = createUserTable(db)
	if err != nil {
		return nil, err
	}
	err = createServiceTable(db)
	if err != nil {
		return nil, err
	}
	err = createCredentialTable(db)
	if err != nil {
		return nil, err
	}
	err = createGiftCardTable(db)
	if err != nil {
		return nil, err
	}
	err = createRotationQueueTable(db)
	if err != nil {
		return nil, err
	}
	err = createJobTable(db)
	if err != nil {
		return nil, err
	}
	err = createTransactionTable(db)
	if err != nil {
		return nil, err
	}
	err = createAuditTables(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// quotedTerminalStatuses renders the terminal-status set as a SQL list. The
// partial unique index below must exclude exactly this set.
func quotedTerminalStatuses() string {
	terminal := model.TerminalStatusStrings()
	quoted := make([]string, len(terminal))
	for i, s := range terminal {
		quoted[i] = fmt.Sprintf("'%s'", s)
	}
	return strings.Join(quoted, ",")
}

// createJobTable creates the jobs table and the partial uniqueness constraint
// that allows at most one non-terminal job per (user, service).
func createJobTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id SERIAL PRIMARY KEY,
			job_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL REFERENCES users(user_id),
			service_id TEXT NOT NULL REFERENCES services(service_id),
			action TEXT NOT NULL CHECK (action IN ('cancel', 'resume')),
			trigger_source TEXT NOT NULL CHECK (trigger_source IN ('scheduled', 'on_demand')),
			status TEXT NOT NULL DEFAULT 'pending',
			status_updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			invoice_id TEXT,
			amount_sats BIGINT,
			billing_date DATE,
			access_end_date DATE,
			access_end_approximate BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	if err != nil {
		log.Println(err)
		return err
	}

	_, err = db.Exec(fmt.Sprintf(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_open_per_pair
		ON jobs (user_id, service_id)
		WHERE status NOT IN (%s)
	`, quotedTerminalStatuses()))
	log.Println(err)
	return err
}

// createTransactionTable creates the revenue ledger of record. Rows in this
// table are never pruned.
func createTransactionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id SERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			job_id TEXT NOT NULL REFERENCES jobs(job_id),
			user_id TEXT NOT NULL REFERENCES users(user_id),
			service_id TEXT NOT NULL REFERENCES services(service_id),
			action TEXT NOT NULL,
			amount_sats BIGINT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('invoice_sent', 'paid', 'eventual')),
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	log.Println(err)
	return err
}

func createUserTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL,
			debt_sats BIGINT NOT NULL DEFAULT 0 CHECK (debt_sats >= 0),
			credit_sats BIGINT NOT NULL DEFAULT 0,
			abandon_count INTEGER NOT NULL DEFAULT 0,
			last_abandon_at TIMESTAMP,
			onboarded_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

func createCredentialTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(user_id),
			service_id TEXT NOT NULL REFERENCES services(service_id),
			email TEXT NOT NULL,
			credential_failures INTEGER NOT NULL DEFAULT 0,
			last_failure_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, service_id)
		)
	`)
	log.Println(err)
	return err
}

func createServiceTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS services (
			id SERIAL PRIMARY KEY,
			service_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			monthly_price_cents BIGINT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)
	`)
	log.Println(err)
	return err
}

func createGiftCardTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS gift_cards (
			id SERIAL PRIMARY KEY,
			service_id TEXT NOT NULL REFERENCES services(service_id),
			value_cents BIGINT NOT NULL,
			UNIQUE (service_id, value_cents)
		)
	`)
	log.Println(err)
	return err
}

func createRotationQueueTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rotation_queue (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(user_id),
			service_id TEXT NOT NULL REFERENCES services(service_id),
			position INTEGER NOT NULL,
			plan_id TEXT,
			next_billing_date DATE,
			UNIQUE (user_id, service_id)
		)
	`)
	log.Println(err)
	return err
}

// createAuditTables creates the append-only operational logs. All four are
// subject to retention pruning; the transactions table is not one of them.
func createAuditTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_status_history (
			id SERIAL PRIMARY KEY,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS execution_audit (
			id SERIAL PRIMARY KEY,
			phase TEXT NOT NULL,
			details JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS operator_alerts (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			service_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			shortfall_sats BIGINT NOT NULL,
			days_remaining INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS operator_audit_log (
			id SERIAL PRIMARY KEY,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			details JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			log.Println(err)
			return err
		}
	}
	return nil
}
