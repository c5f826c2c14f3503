package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/compiler"
	"github.com/syssam/relstore/dialect/sql"
	"github.com/syssam/relstore/dialect/sql/codec"
	"github.com/syssam/relstore/dialect/sql/sqlgraph"
	"github.com/syssam/relstore/dialect/sqlschema"
	"github.com/syssam/relstore/querylanguage"
	"github.com/syssam/relstore/schema"
)

func rawSchema() schema.Schema {
	return schema.Schema{
		"user": {
			Attributes: map[string]*schema.AttributeDef{
				"name":     {Type: schema.TypeVarchar, Params: schema.Params{Length: 32}},
				"age":      {Type: schema.TypeInt},
				"location": {Type: schema.TypePoint},
			},
		},
		"token": {
			Attributes: map[string]*schema.AttributeDef{
				"userId": {Type: schema.TypeRef, Ref: "user"},
			},
		},
		"summary": {
			Attributes: map[string]*schema.AttributeDef{
				"total": {Type: schema.TypeBigInt},
			},
			View: true,
		},
	}
}

func newMockStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	n := 0
	opts = append([]Option{
		WithDriver(sql.OpenDB(db)),
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
		WithIDGenerator(func() string { return "gen" }),
		WithTokenGenerator(func() string {
			n++
			return fmt.Sprintf("tx-%d", n)
		}),
	}, opts...)
	st, err := New(rawSchema(), Config{}, opts...)
	require.NoError(t, err)
	require.NoError(t, st.Connect(context.Background()))
	return st, mock
}

func TestNew(t *testing.T) {
	raw := rawSchema()
	st, err := New(raw, Config{})
	require.NoError(t, err)
	assert.Contains(t, st.Schema()["user"].Attributes, schema.DeleteAt)
	assert.NotContains(t, raw["user"].Attributes, schema.DeleteAt)
	assert.NotNil(t, st.Translator())

	_, err = New(schema.Schema{
		"token": {Attributes: map[string]*schema.AttributeDef{
			"userId": {Type: schema.TypeRef, Ref: "nope"},
		}},
	}, Config{})
	assert.True(t, relstore.IsStructuralError(err))
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	st, err := New(rawSchema(), Config{})
	require.NoError(t, err)

	_, err = st.Select(ctx, "user", &querylanguage.Selection{Data: querylanguage.Projection{"name": 1}}, compiler.SelectOption{}, "")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = st.Begin(ctx, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, st.Initialize(ctx, false), ErrNotConnected)
	_, err = st.Stats()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, st.Disconnect(ctx))
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	st, mock := newMockStore(t)
	sel := &querylanguage.Selection{Data: querylanguage.Projection{"user": querylanguage.Projection{"name": 1}}}
	query, err := st.Translator().Select("token", sel, compiler.SelectOption{})
	require.NoError(t, err)

	mock.ExpectQuery(query).WillReturnRows(
		sqlmock.NewRows([]string{"id", "userId", "user.id", "user.name"}).
			AddRow("t1", "u1", "u1", []byte("xc")).
			AddRow("t2", nil, nil, nil),
	)
	rows, err := st.Select(ctx, "token", sel, compiler.SelectOption{}, "")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"id": "t1", "userId": "u1", "user": map[string]any{"id": "u1", "name": "xc"}},
		{"id": "t2", "userId": nil, "user": nil},
	}, rows)

	t.Run("integrity", func(t *testing.T) {
		mock.ExpectQuery(query).WillReturnRows(
			sqlmock.NewRows([]string{"id", "userId", "user.id", "user.name"}).AddRow("t1", "u1", "u2", "xc"),
		)
		_, err := st.Select(ctx, "token", sel, compiler.SelectOption{}, "")
		assert.True(t, relstore.IsIntegrityError(err))
	})

	t.Run("renamed", func(t *testing.T) {
		sel := &querylanguage.Selection{Data: querylanguage.Projection{
			"location":      "loc",
			"age":           "years",
			schema.CreateAt: "created",
		}}
		query, err := st.Translator().Select("user", sel, compiler.SelectOption{})
		require.NoError(t, err)
		assert.Contains(t, query, "ST_AsText(`user_1`.`location`) AS `loc`")
		mock.ExpectQuery(query).WillReturnRows(
			sqlmock.NewRows([]string{"id", "created", "years", "loc"}).
				AddRow("u1", []byte("1700000000000"), []byte("42"), []byte("POINT(1 2)")),
		)
		rows, err := st.Select(ctx, "user", sel, compiler.SelectOption{}, "")
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{
			"id":      "u1",
			"created": time.UnixMilli(1700000000000).UTC(),
			"years":   int64(42),
			"loc":     codec.NewPoint(1, 2),
		}}, rows)
	})

	t.Run("structural", func(t *testing.T) {
		_, err := st.Select(ctx, "nope", sel, compiler.SelectOption{}, "")
		assert.ErrorIs(t, err, relstore.ErrUnknownEntity)
	})

	t.Run("execution", func(t *testing.T) {
		mock.ExpectQuery(query).WillReturnError(errors.New("connection reset"))
		_, err := st.Select(ctx, "token", sel, compiler.SelectOption{}, "")
		require.Error(t, err)
		assert.True(t, relstore.IsExecError(err))
		assert.Contains(t, err.Error(), "connection reset")
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	st, mock := newMockStore(t)
	sel := &querylanguage.CountSelection{Filter: querylanguage.Filter{"age": querylanguage.GT(18)}}
	query, err := st.Translator().Count("user", sel, compiler.SelectOption{})
	require.NoError(t, err)

	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{compiler.CountAlias}).AddRow(int64(3)))
	n, err := st.Count(ctx, "user", sel, compiler.SelectOption{}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{compiler.CountAlias}).AddRow([]byte("7")))
	n, err = st.Count(ctx, "user", sel, compiler.SelectOption{}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	st, mock := newMockStore(t)
	agg := &querylanguage.Aggregation{
		Data: map[string]any{
			querylanguage.KeyAggr: querylanguage.Projection{"userId": 1},
			"#count-1":            querylanguage.Projection{"id": 1},
		},
	}
	query, err := st.Translator().Aggregate("token", agg, compiler.SelectOption{})
	require.NoError(t, err)

	mock.ExpectQuery(query).WillReturnRows(
		sqlmock.NewRows([]string{"#aggr.userId", "#count-1"}).
			AddRow("u1", int64(2)).
			AddRow("u2", []byte("5")),
	)
	rows, err := st.Aggregate(ctx, "token", agg, compiler.SelectOption{}, "")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"#aggr": map[string]any{"userId": "u1"}, "#count-1": int64(2)},
		{"#aggr": map[string]any{"userId": "u2"}, "#count-1": int64(5)},
	}, rows)

	t.Run("renamed group", func(t *testing.T) {
		agg := &querylanguage.Aggregation{
			Data: map[string]any{
				querylanguage.KeyAggr: querylanguage.Projection{"age": "years"},
				"#count-1":            querylanguage.Projection{"id": 1},
			},
		}
		query, err := st.Translator().Aggregate("user", agg, compiler.SelectOption{})
		require.NoError(t, err)
		mock.ExpectQuery(query).WillReturnRows(
			sqlmock.NewRows([]string{"#aggr.years", "#count-1"}).AddRow([]byte("30"), int64(4)),
		)
		rows, err := st.Aggregate(ctx, "user", agg, compiler.SelectOption{}, "")
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{
			{"#aggr": map[string]any{"years": int64(30)}, "#count-1": int64(4)},
		}, rows)
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrite(t *testing.T) {
	ctx := context.Background()
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO `user` (`id`, `name`, `$$createAt$$`, `$$updateAt$$`) VALUES ('gen', 'xc', 1700000000000, 1700000000000)").
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := st.Create(ctx, "user", &querylanguage.Create{Data: []querylanguage.Row{{"name": "xc"}}}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.ExpectExec("UPDATE `user` AS `user_1` SET `user_1`.`name` = 'n', `user_1`.`$$updateAt$$` = 1700000000000 " +
		"WHERE (`user_1`.`$$deleteAt$$` is null) AND (`user_1`.`age` > 18)").
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err = st.Update(ctx, "user", &querylanguage.Update{
		Data:   querylanguage.Row{"name": "n"},
		Filter: querylanguage.Filter{"age": querylanguage.GT(18)},
	}, compiler.UpdateOption{}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	mock.ExpectExec("UPDATE `user` AS `user_1` SET `user_1`.`$$deleteAt$$` = 1700000000000 " +
		"WHERE (`user_1`.`$$deleteAt$$` is null) AND (`user_1`.`id` = 'a')").
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err = st.Remove(ctx, "user", &querylanguage.Remove{Filter: querylanguage.Filter{"id": "a"}}, compiler.UpdateOption{}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.ExpectExec("INSERT INTO `user` (`id`, `name`, `$$createAt$$`, `$$updateAt$$`) VALUES ('dup', 'xc', 1700000000000, 1700000000000)").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'dup' for key 'PRIMARY'"})
	_, err = st.Create(ctx, "user", &querylanguage.Create{Data: []querylanguage.Row{{"id": "dup", "name": "xc"}}}, "")
	require.Error(t, err)
	assert.True(t, relstore.IsExecError(err))
	assert.True(t, sqlgraph.IsUniqueConstraintError(err))

	_, err = st.Create(ctx, "summary", &querylanguage.Create{Data: []querylanguage.Row{{"total": 1}}}, "")
	assert.ErrorIs(t, err, relstore.ErrViewUnsupported)
	_, err = st.Create(ctx, "user", nil, "")
	assert.ErrorIs(t, err, relstore.ErrInvalidQuery)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	st, mock := newMockStore(t)

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE `user` AS `user_1` SET `user_1`.`$$deleteAt$$` = 1700000000000 " +
		"WHERE (`user_1`.`$$deleteAt$$` is null) AND (`user_1`.`id` = 'a')").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT count(1) AS `cnt` FROM `user` AS `user_1` WHERE `user_1`.`$$deleteAt$$` is null").
		WillReturnRows(sqlmock.NewRows([]string{"cnt"}).AddRow(int64(0)))
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

	token, err := st.Begin(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", token)
	_, err = st.Remove(ctx, "user", &querylanguage.Remove{Filter: querylanguage.Filter{"id": "a"}}, compiler.UpdateOption{}, token)
	require.NoError(t, err)
	n, err := st.Count(ctx, "user", &querylanguage.CountSelection{}, compiler.SelectOption{}, token)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, st.Commit(ctx, token))

	assert.ErrorIs(t, st.Rollback(ctx, token), relstore.ErrUnknownTx)
	_, err = st.Exec(ctx, "SELECT 1", "unknown")
	assert.ErrorIs(t, err, relstore.ErrUnknownTx)

	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalQueries)
	assert.Equal(t, int64(3), stats.TotalExecs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	st, mock := newMockStore(t)

	var want []string
	for _, name := range []string{"token", "user"} {
		stmts, err := st.Translator().CreateEntity(name, sqlschema.Options{Replace: true})
		require.NoError(t, err)
		want = append(want, stmts...)
	}
	require.Len(t, want, 4)
	for _, q := range want {
		mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, st.Initialize(ctx, true))

	drop, err := st.Translator().DestroyEntity("token")
	require.NoError(t, err)
	mock.ExpectExec(drop).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, st.Destroy(ctx, "token"))
	require.NoError(t, mock.ExpectationsWereMet())

	t.Run("failure", func(t *testing.T) {
		st, mock := newMockStore(t)
		stmts, err := st.Translator().CreateEntity("token", sqlschema.Options{})
		require.NoError(t, err)
		mock.ExpectExec(stmts[0]).WillReturnError(&mysql.MySQLError{Number: 1050, Message: "Table 'token' already exists"})
		err = st.Initialize(ctx, false)
		assert.True(t, relstore.IsExecError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	st, mock := newMockStore(t, WithLogger(logger))

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	_, err := st.Begin(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, st.Disconnect(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, buf.String(), "store disconnected")
	assert.Contains(t, buf.String(), "session exec: START TRANSACTION")

	_, err = st.Exec(ctx, "SELECT 1", "")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: db:3306
user: app
password: secret
database: relstore
maxOpenConns: 8
connMaxLifetime: 5m
slowThreshold: 250ms
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		Addr:            "db:3306",
		User:            "app",
		Password:        "secret",
		Database:        "relstore",
		MaxOpenConns:    8,
		ConnMaxLifetime: 5 * time.Minute,
		SlowThreshold:   250 * time.Millisecond,
	}, cfg)

	dsn := cfg.DSN()
	assert.Contains(t, dsn, "charset="+DefaultCharset)
	mc, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "app", mc.User)
	assert.Equal(t, "secret", mc.Passwd)
	assert.Equal(t, "db:3306", mc.Addr)
	assert.Equal(t, "relstore", mc.DBName)
	assert.False(t, mc.MultiStatements, "statements are sent one at a time")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = ParseConfig([]byte("addr: [1"))
	assert.Error(t, err)
}
