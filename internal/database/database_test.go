package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = WithTx(context.Background(), db, nil, func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE orders SET status = 'pending'")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = WithTx(context.Background(), db, nil, func(*sql.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealth_Up(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()

	stats := New(db, "commerce", nil).Health(context.Background())
	assert.Equal(t, "up", stats["status"])
	assert.Equal(t, "commerce", stats["database"])
	assert.Contains(t, stats, "open")
	assert.Contains(t, stats, "in_use")
}

func TestHealth_Down(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	stats := New(db, "commerce", nil).Health(context.Background())
	assert.Equal(t, "down", stats["status"])
	assert.Equal(t, "database unreachable", stats["error"])
	assert.NotContains(t, stats["error"], "connection refused")
}

func TestSchemaDeclaresMoneyAsNumeric(t *testing.T) {
	assert.NotContains(t, schema, "DOUBLE PRECISION")
	assert.NotContains(t, schema, "REAL")
	assert.Contains(t, schema, "balance     NUMERIC(12, 2) NOT NULL CHECK (balance >= 0 AND balance <= amount)")
}
