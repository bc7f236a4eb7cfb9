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
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/rotaflow/rotaflow/internal/apierror"
	"github.com/rotaflow/rotaflow/model"
)

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func TestConfirmJobPayment_AlreadyPaidIsIdempotentConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	job := model.NewJob("usr_1", "svc_netflix", model.ActionCancel, model.TriggerOnDemand)
	job.Status = model.StatusCompletedPaid

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(job.JobID).
		WillReturnRows(jobRow(job))
	mock.ExpectRollback()

	_, err = ds.ConfirmJobPayment(context.Background(), job.JobID, nil)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	assert.Equal(t, "Already paid", apiErr.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmJobPayment_RenegedConvertsToEventual(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	job := model.NewJob("usr_1", "svc_netflix", model.ActionCancel, model.TriggerOnDemand)
	job.Status = model.StatusCompletedReneged
	job.AmountSats = int64Ptr(3000)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(job.JobID).
		WillReturnRows(jobRow(job))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET debt_sats = GREATEST(0, debt_sats - $2)")).
		WithArgs(job.UserID, int64(3000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status")).
		WithArgs(job.JobID, model.StatusCompletedEventual, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_status_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions SET status")).
		WithArgs(job.JobID, model.TransactionEventual, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	confirmed, err := ds.ConfirmJobPayment(context.Background(), job.JobID, nil)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompletedEventual, confirmed.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmJobPayment_RenegedNullAmountSkipsDebtWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	job := model.NewJob("usr_1", "svc_netflix", model.ActionCancel, model.TriggerOnDemand)
	job.Status = model.StatusCompletedReneged

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(job.JobID).
		WillReturnRows(jobRow(job))
	// No UPDATE users expectation: a debt write here fails the test.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status")).
		WithArgs(job.JobID, model.StatusCompletedEventual, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_status_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// Never invoiced, so there is no invoice_sent row to flip; a fresh ledger
	// row is appended instead.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions SET status")).
		WithArgs(job.JobID, model.TransactionEventual, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	confirmed, err := ds.ConfirmJobPayment(context.Background(), job.JobID, nil)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompletedEventual, confirmed.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmJobPayment_InvoicePathNoDebtWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	job := model.NewJob("usr_1", "svc_netflix", model.ActionCancel, model.TriggerOnDemand)
	job.Status = model.StatusActive
	job.InvoiceID = strPtr("inv_abc")
	job.AmountSats = int64Ptr(3000)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(job.JobID).
		WillReturnRows(jobRow(job))
	// No UPDATE users expectation: the invoice path never accrued debt. The
	// linked invoice_sent row flips to paid in place; inserting a second
	// ledger row here fails the test.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status")).
		WithArgs(job.JobID, model.StatusCompletedPaid, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_status_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions SET status")).
		WithArgs(job.JobID, model.TransactionPaid, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	confirmed, err := ds.ConfirmJobPayment(context.Background(), job.JobID, strPtr("zap_evt_1"))
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompletedPaid, confirmed.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmJobPayment_NotPayable(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	job := model.NewJob("usr_1", "svc_netflix", model.ActionCancel, model.TriggerOnDemand)
	// pending, no invoice attached

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(job.JobID).
		WillReturnRows(jobRow(job))
	mock.ExpectRollback()

	_, err = ds.ConfirmJobPayment(context.Background(), job.JobID, nil)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrInvalidState, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmJobPayment_RollbackOnMidTransactionFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	job := model.NewJob("usr_1", "svc_netflix", model.ActionCancel, model.TriggerOnDemand)
	job.Status = model.StatusCompletedReneged
	job.AmountSats = int64Ptr(3000)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(job.JobID).
		WillReturnRows(jobRow(job))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET debt_sats = GREATEST(0, debt_sats - $2)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = ds.ConfirmJobPayment(context.Background(), job.JobID, nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmJobPayment_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("job_missing").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))
	mock.ExpectRollback()

	_, err = ds.ConfirmJobPayment(context.Background(), "job_missing", nil)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
