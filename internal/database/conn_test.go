package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

func newMockConn(t *testing.T) (*Conn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	raw, err := db.Conn(context.Background())
	require.NoError(t, err)

	c, err := NewConn(raw)
	require.NoError(t, err)
	t.Cleanup(func() { c.close() })
	return c, mock
}

func TestWithTxCommits(t *testing.T) {
	c, mock := newMockConn(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE locations SET latitude`).
		WithArgs(33.45, "Phoenix").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.WithTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Exec("UPDATE locations SET latitude = ? WHERE name = ?", 33.45, "Phoenix").Error
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	c, mock := newMockConn(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := c.WithTx(context.Background(), func(tx *gorm.DB) error {
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, weather.ErrPersistence)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxDoesNotDoubleWrap(t *testing.T) {
	c, mock := newMockConn(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	inner := errors.Join(weather.ErrPersistence, errors.New("constraint"))
	err := c.WithTx(context.Background(), func(tx *gorm.DB) error {
		return inner
	})
	assert.Equal(t, inner, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	c, mock := newMockConn(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = c.WithTx(context.Background(), func(tx *gorm.DB) error {
			panic("unexpected")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}
