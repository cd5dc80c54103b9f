package httpapi

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/peycheff/crewledger/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTxnForTest(t *testing.T, mode store.Mode) (*txn, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectBegin()

	s := &store.Store{DB: db, Dialect: store.DialectSQLite}
	d := &Deps{Store: s}
	tr, err := beginTxn(context.Background(), d, mode)
	require.NoError(t, err)
	return tr, mock, func() { db.Close() }
}

func TestTxnFinish_CommitsOnSuccessWhenMutated(t *testing.T) {
	tr, mock, closeDB := newTxnForTest(t, store.ModeReadWrite)
	defer closeDB()
	mock.ExpectCommit()

	tr.sess.MarkAuditWritten()
	err := tr.finish(true, nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxnFinish_CommitsRejectionThatAlreadyWroteAudit(t *testing.T) {
	tr, mock, closeDB := newTxnForTest(t, store.ModeReadWrite)
	defer closeDB()
	mock.ExpectCommit()

	tr.sess.MarkAuditWritten()
	handlerErr := errors.New("forbidden op")
	err := tr.finish(false, handlerErr)
	assert.ErrorIs(t, err, handlerErr, "caller still sees the rejection even though the audit trail commits")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxnFinish_RollsBackInfrastructureFailureWithNoAudit(t *testing.T) {
	tr, mock, closeDB := newTxnForTest(t, store.ModeReadWrite)
	defer closeDB()
	mock.ExpectRollback()

	handlerErr := errors.New("lookup failed before any logging")
	err := tr.finish(false, handlerErr)
	assert.ErrorIs(t, err, handlerErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}
