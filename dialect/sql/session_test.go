package sql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/relstore"
)

func newSessionMock(t *testing.T, opts ...SessionOption) (*SessionManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	n := 0
	opts = append([]SessionOption{WithTokenGenerator(func() string {
		n++
		return fmt.Sprintf("tx-%d", n)
	})}, opts...)
	return NewSessionManager(OpenDB(db), opts...), mock
}

func TestSessionManager(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		m, mock := newSessionMock(t)
		mock.ExpectExec("SET TRANSACTION ISOLATION LEVEL READ COMMITTED").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("UPDATE `user` AS `user_1` SET `user_1`.`name` = 'a'").WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectQuery("SELECT `user_1`.`id` AS `id` FROM `user` AS `user_1`").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
		mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

		token, err := m.Begin(ctx, &TxOption{Isolation: "read committed"})
		require.NoError(t, err)
		assert.Equal(t, "tx-1", token)
		assert.Equal(t, 1, m.Len())

		res, err := m.Exec(ctx, "UPDATE `user` AS `user_1` SET `user_1`.`name` = 'a'", token)
		require.NoError(t, err)
		n, err := res.RowsAffected()
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		rows, err := m.Query(ctx, "SELECT `user_1`.`id` AS `id` FROM `user` AS `user_1`", token)
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"id": "u1"}}, rows)

		require.NoError(t, m.Commit(ctx, token))
		assert.Equal(t, 0, m.Len())
		require.NoError(t, mock.ExpectationsWereMet())

		err = m.Commit(ctx, token)
		assert.True(t, errors.Is(err, relstore.ErrUnknownTx))
	})

	t.Run("rollback", func(t *testing.T) {
		m, mock := newSessionMock(t)
		mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))

		token, err := m.Begin(ctx, nil)
		require.NoError(t, err)
		require.NoError(t, m.Rollback(ctx, token))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown token", func(t *testing.T) {
		m, _ := newSessionMock(t)
		_, err := m.Exec(ctx, "SELECT 1", "nope")
		assert.True(t, errors.Is(err, relstore.ErrUnknownTx))
		_, err = m.Query(ctx, "SELECT 1", "nope")
		assert.True(t, errors.Is(err, relstore.ErrUnknownTx))
		assert.True(t, errors.Is(m.Rollback(ctx, "nope"), relstore.ErrUnknownTx))
	})

	t.Run("failed commit rolls back", func(t *testing.T) {
		m, mock := newSessionMock(t)
		mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("COMMIT").WillReturnError(errors.New("deadlock"))
		mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))

		token, err := m.Begin(ctx, nil)
		require.NoError(t, err)
		err = m.Commit(ctx, token)
		require.Error(t, err)
		assert.True(t, relstore.IsExecError(err))
		assert.Equal(t, 0, m.Len())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed begin", func(t *testing.T) {
		m, mock := newSessionMock(t)
		mock.ExpectExec("START TRANSACTION").WillReturnError(errors.New("gone away"))

		_, err := m.Begin(ctx, nil)
		require.Error(t, err)
		assert.Equal(t, 0, m.Len())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid isolation", func(t *testing.T) {
		m, _ := newSessionMock(t)
		_, err := m.Begin(ctx, &TxOption{Isolation: "SNAPSHOT"})
		assert.Error(t, err)
	})

	t.Run("close", func(t *testing.T) {
		m, mock := newSessionMock(t)
		mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("ROLLBACK").WillReturnError(errors.New("lost connection"))

		_, err := m.Begin(ctx, nil)
		require.NoError(t, err)
		_, err = m.Begin(ctx, nil)
		require.NoError(t, err)
		err = m.Close(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lost connection")
		assert.Equal(t, 0, m.Len())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("interceptor", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		defer db.Close()
		stats := NewStatsDriver(OpenDB(db))
		m := NewSessionManager(OpenDB(db), WithInterceptor(stats.Intercept))
		mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
		mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

		token, err := m.Begin(ctx, nil)
		require.NoError(t, err)
		_, err = m.Query(ctx, "SELECT 1", token)
		require.NoError(t, err)
		require.NoError(t, m.Commit(ctx, token))

		snap := stats.QueryStats().Stats()
		assert.Equal(t, int64(1), snap.TotalQueries)
		assert.Equal(t, int64(2), snap.TotalExecs)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
