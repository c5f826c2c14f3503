// Package store executes compiled statements against MySQL and decodes
// their results.
//
// A Store owns one augmented schema, the Translator compiling against it
// and, once connected, a connection pool plus the table of open
// transactions:
//
//	st, err := store.New(raw, cfg, store.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	if err := st.Connect(ctx); err != nil {
//		return err
//	}
//	defer st.Disconnect(ctx)
//	rows, err := st.Select(ctx, "token", sel, compiler.SelectOption{}, "")
//
// Every statement method takes a transaction token. The empty token runs
// the statement on any pooled connection.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/compiler"
	"github.com/syssam/relstore/dialect"
	"github.com/syssam/relstore/dialect/sql"
	"github.com/syssam/relstore/dialect/sql/codec"
	"github.com/syssam/relstore/dialect/sql/sqlgraph"
	"github.com/syssam/relstore/dialect/sqlschema"
	"github.com/syssam/relstore/querylanguage"
	"github.com/syssam/relstore/schema"
)

// ErrNotConnected is returned by statement methods called before Connect
// or after Disconnect.
var ErrNotConnected = errors.New("store: not connected")

// Store compiles, executes and hydrates requests for one schema.
type Store struct {
	cfg        Config
	schema     schema.Schema
	translator *compiler.Translator
	hydrator   *codec.Hydrator
	logger     *slog.Logger
	ddl        sqlschema.Options

	// set by WithDriver; Connect opens a pool from cfg otherwise.
	driver *sql.Driver
	tokens func() string

	mu   sync.RWMutex
	conn *connection
}

type connection struct {
	driver   *sql.Driver
	stats    *sql.StatsDriver
	eq       dialect.ExecQuerier
	sessions *sql.SessionManager
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	translator []compiler.Option
	classifier schema.Classifier
	driver     *sql.Driver
	ddl        sqlschema.Options
	tokens     func() string
}

// WithLogger sets the logger of the store and everything it builds.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock sets the clock used for audit and soft delete timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.translator = append(o.translator, compiler.WithClock(now))
	}
}

// WithIDGenerator sets the generator of primary keys for created rows.
func WithIDGenerator(f func() string) Option {
	return func(o *options) {
		o.translator = append(o.translator, compiler.WithIDGenerator(f))
	}
}

// WithClassifier replaces the default relation classifier.
func WithClassifier(c schema.Classifier) Option {
	return func(o *options) {
		o.classifier = c
	}
}

// WithDriver makes Connect use drv instead of opening a pool from the
// configuration.
func WithDriver(drv *sql.Driver) Option {
	return func(o *options) {
		o.driver = drv
	}
}

// WithTableOptions sets the engine, charset and collation of created tables.
func WithTableOptions(opts sqlschema.Options) Option {
	return func(o *options) {
		o.ddl = opts
	}
}

// WithTokenGenerator sets the generator of transaction tokens.
func WithTokenGenerator(f func() string) Option {
	return func(o *options) {
		o.tokens = f
	}
}

// New augments raw and returns a disconnected Store for it.
func New(raw schema.Schema, cfg Config, opts ...Option) (*Store, error) {
	o := &options{logger: slog.Default(), classifier: schema.DefaultClassifier}
	for _, opt := range opts {
		opt(o)
	}
	s, err := schema.Augment(raw)
	if err != nil {
		return nil, err
	}
	topts := append([]compiler.Option{
		compiler.WithLogger(o.logger),
		compiler.WithClassifier(o.classifier),
	}, o.translator...)
	st := &Store{
		cfg:        cfg,
		schema:     s,
		translator: compiler.NewTranslator(s, topts...),
		hydrator:   codec.NewHydrator(s, o.classifier),
		logger:     o.logger,
		ddl:        o.ddl,
		driver:     o.driver,
		tokens:     o.tokens,
	}
	return st, nil
}

// Schema returns the augmented schema.
func (s *Store) Schema() schema.Schema {
	return s.schema
}

// Translator returns the statement compiler of the store.
func (s *Store) Translator() *compiler.Translator {
	return s.translator
}

// Connect opens the connection pool and verifies it with a ping.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	drv := s.driver
	if drv == nil {
		var err error
		if drv, err = sql.Open(s.cfg.DSN()); err != nil {
			return fmt.Errorf("store: open: %w", err)
		}
		db := drv.DB()
		if s.cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		}
		if s.cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(s.cfg.MaxIdleConns)
		}
		if s.cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
		}
	}
	if err := drv.DB().PingContext(ctx); err != nil {
		return errors.Join(fmt.Errorf("store: ping: %w", err), drv.Close())
	}

	sopts := []sql.StatsOption{sql.WithSlowQueryLog(s.logger)}
	if s.cfg.SlowThreshold > 0 {
		sopts = append(sopts, sql.WithSlowThreshold(s.cfg.SlowThreshold))
	}
	stats := sql.NewStatsDriver(drv, sopts...)
	debug := sql.NewDebugDriver(stats, sql.DebugWithLog(func(ctx context.Context, v ...any) {
		s.logger.DebugContext(ctx, fmt.Sprint(v...))
	}))
	mopts := []sql.SessionOption{
		sql.WithSessionLogger(s.logger),
		sql.WithInterceptor(func(eq dialect.ExecQuerier) dialect.ExecQuerier {
			return debug.Intercept(stats.Intercept(eq))
		}),
	}
	if s.tokens != nil {
		mopts = append(mopts, sql.WithTokenGenerator(s.tokens))
	}
	s.conn = &connection{
		driver:   drv,
		stats:    stats,
		eq:       debug,
		sessions: sql.NewSessionManager(drv, mopts...),
	}
	s.logger.InfoContext(ctx, "store connected", "database", s.cfg.Database)
	return nil
}

// Disconnect rolls back open transactions and closes the pool.
func (s *Store) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	err := c.sessions.Close(ctx)
	s.logger.InfoContext(ctx, "store disconnected", "stats", c.stats.QueryStats().Stats().String())
	return errors.Join(err, c.driver.Close())
}

// Stats returns a snapshot of the statement counters since Connect.
func (s *Store) Stats() (sql.StatsSnapshot, error) {
	c, err := s.connected()
	if err != nil {
		return sql.StatsSnapshot{}, err
	}
	return c.stats.QueryStats().Stats(), nil
}

func (s *Store) connected() (*connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// Begin starts a transaction and returns its token.
func (s *Store) Begin(ctx context.Context, opt *sql.TxOption) (string, error) {
	c, err := s.connected()
	if err != nil {
		return "", err
	}
	return c.sessions.Begin(ctx, opt)
}

// Commit commits the transaction of token.
func (s *Store) Commit(ctx context.Context, token string) error {
	c, err := s.connected()
	if err != nil {
		return err
	}
	return c.sessions.Commit(ctx, token)
}

// Rollback rolls back the transaction of token.
func (s *Store) Rollback(ctx context.Context, token string) error {
	c, err := s.connected()
	if err != nil {
		return err
	}
	return c.sessions.Rollback(ctx, token)
}

// Exec runs a statement and returns its result.
func (s *Store) Exec(ctx context.Context, query, token string) (sql.Result, error) {
	c, err := s.connected()
	if err != nil {
		return nil, err
	}
	if token != "" {
		return c.sessions.Exec(ctx, query, token)
	}
	var res sql.Result
	if err := c.eq.Exec(ctx, query, []any{}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Query runs a query and returns its raw rows.
func (s *Store) Query(ctx context.Context, query, token string) ([]map[string]any, error) {
	c, err := s.connected()
	if err != nil {
		return nil, err
	}
	if token != "" {
		return c.sessions.Query(ctx, query, token)
	}
	rows := &sql.Rows{}
	if err := c.eq.Query(ctx, query, []any{}, rows); err != nil {
		return nil, err
	}
	return sql.ScanMaps(rows)
}

// Initialize creates the table of every entity, dropping existing tables
// first when dropIfExists is set. Views are skipped. Statements of all
// entities are compiled before any of them runs.
func (s *Store) Initialize(ctx context.Context, dropIfExists bool) error {
	if _, err := s.connected(); err != nil {
		return err
	}
	var names []string
	for _, name := range s.schema.Names() {
		if !s.schema[name].View {
			names = append(names, name)
		}
	}
	stmts := make([][]string, len(names))
	ddl := s.ddl
	ddl.Replace = dropIfExists
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			q, err := s.translator.CreateEntity(name, ddl)
			if err != nil {
				return err
			}
			stmts[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, name := range names {
		for _, q := range stmts[i] {
			s.logger.InfoContext(ctx, "initialize entity", "entity", name, "sql", q)
			if _, err := s.Exec(ctx, q, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

// Destroy drops the table of entity.
func (s *Store) Destroy(ctx context.Context, entity string) error {
	q, err := s.translator.DestroyEntity(entity)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "destroy entity", "entity", entity, "sql", q)
	_, err = s.Exec(ctx, q, "")
	return err
}

// Select runs a selection and returns hydrated rows.
func (s *Store) Select(ctx context.Context, entity string, sel *querylanguage.Selection, opt compiler.SelectOption, token string) ([]map[string]any, error) {
	q, err := s.translator.Select(entity, sel, opt)
	if err != nil {
		return nil, err
	}
	var proj querylanguage.Projection
	if sel != nil {
		proj = sel.Data
	}
	renames, err := s.translator.Renames(entity, proj)
	if err != nil {
		return nil, err
	}
	rows, err := s.Query(ctx, q, token)
	if err != nil {
		return nil, err
	}
	return s.hydrator.Renamed(renames).HydrateAll(entity, rows)
}

// Count returns the number of rows matching sel.
func (s *Store) Count(ctx context.Context, entity string, sel *querylanguage.CountSelection, opt compiler.SelectOption, token string) (int64, error) {
	q, err := s.translator.Count(entity, sel, opt)
	if err != nil {
		return 0, err
	}
	rows, err := s.Query(ctx, q, token)
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 {
		return 0, relstore.NewExecError(q, fmt.Errorf("count returned %d rows", len(rows)))
	}
	v, err := codec.DecodeNumber(rows[0][compiler.CountAlias])
	if err != nil {
		return 0, relstore.NewExecError(q, err)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, relstore.NewExecError(q, fmt.Errorf("unexpected count value %v", v))
	}
}

// Aggregate runs an aggregation. Group values are nested under the
// "#aggr" key of each row.
func (s *Store) Aggregate(ctx context.Context, entity string, agg *querylanguage.Aggregation, opt compiler.SelectOption, token string) ([]map[string]any, error) {
	q, err := s.translator.Aggregate(entity, agg, opt)
	if err != nil {
		return nil, err
	}
	renames, err := s.translator.AggregateRenames(entity, agg)
	if err != nil {
		return nil, err
	}
	rows, err := s.Query(ctx, q, token)
	if err != nil {
		return nil, err
	}
	return s.hydrator.Renamed(renames).HydrateAll(entity, rows)
}

// Create inserts rows and returns the number of inserted rows.
func (s *Store) Create(ctx context.Context, entity string, c *querylanguage.Create, token string) (int64, error) {
	if c == nil {
		return 0, relstore.Structuralf(relstore.ErrInvalidQuery, entity, "", "nil create")
	}
	q, err := s.translator.Insert(entity, c.Data)
	if err != nil {
		return 0, err
	}
	return s.affected(ctx, q, token)
}

// Update applies upd and returns the number of changed rows.
func (s *Store) Update(ctx context.Context, entity string, upd *querylanguage.Update, opt compiler.UpdateOption, token string) (int64, error) {
	q, err := s.translator.Update(entity, upd, opt)
	if err != nil {
		return 0, err
	}
	return s.affected(ctx, q, token)
}

// Remove soft deletes the rows matching rm and returns their number.
func (s *Store) Remove(ctx context.Context, entity string, rm *querylanguage.Remove, opt compiler.UpdateOption, token string) (int64, error) {
	q, err := s.translator.Remove(entity, rm, opt)
	if err != nil {
		return 0, err
	}
	return s.affected(ctx, q, token)
}

func (s *Store) affected(ctx context.Context, query, token string) (int64, error) {
	res, err := s.Exec(ctx, query, token)
	if err != nil {
		if sqlgraph.IsConstraintError(err) {
			s.logger.WarnContext(ctx, "constraint violation", "sql", query, "token", token, "error", err)
		}
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, relstore.NewExecError(query, err)
	}
	return n, nil
}
