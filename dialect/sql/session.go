package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/dialect"
)

// Isolation levels accepted by TxOption.
const (
	ReadUncommitted = "READ UNCOMMITTED"
	ReadCommitted   = "READ COMMITTED"
	RepeatableRead  = "REPEATABLE READ"
	Serializable    = "SERIALIZABLE"
)

// TxOption configures a transaction started by SessionManager.Begin.
type TxOption struct {
	// Isolation is one of the isolation level constants. Empty keeps the
	// session default.
	Isolation string
}

// SessionManager pins one pooled connection per open transaction and hands
// out an opaque token for it. Statements on the same token are serialized;
// statements on different tokens run concurrently.
type SessionManager struct {
	db        *sql.DB
	newToken  func() string
	intercept func(dialect.ExecQuerier) dialect.ExecQuerier
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu   sync.Mutex
	conn *sql.Conn
	eq   dialect.ExecQuerier
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithTokenGenerator sets the function generating transaction tokens.
// Default is uuid.NewString.
func WithTokenGenerator(f func() string) SessionOption {
	return func(m *SessionManager) {
		m.newToken = f
	}
}

// WithInterceptor wraps every session connection, e.g. with
// StatsDriver.Intercept.
func WithInterceptor(f func(dialect.ExecQuerier) dialect.ExecQuerier) SessionOption {
	return func(m *SessionManager) {
		m.intercept = f
	}
}

// WithSessionLogger sets the logger for transaction lifecycle events.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		m.logger = l
	}
}

// NewSessionManager returns a SessionManager drawing connections from drv.
func NewSessionManager(drv *Driver, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		db:       drv.DB(),
		newToken: uuid.NewString,
		logger:   slog.Default(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin reserves a connection, starts a transaction on it and returns its token.
func (m *SessionManager) Begin(ctx context.Context, opt *TxOption) (string, error) {
	var stmts []string
	if opt != nil && opt.Isolation != "" {
		level := strings.ToUpper(opt.Isolation)
		switch level {
		case ReadUncommitted, ReadCommitted, RepeatableRead, Serializable:
		default:
			return "", fmt.Errorf("dialect/sql: unsupported isolation level %q", opt.Isolation)
		}
		stmts = append(stmts, "SET TRANSACTION ISOLATION LEVEL "+level)
	}
	stmts = append(stmts, "START TRANSACTION")

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("dialect/sql: reserve connection: %w", err)
	}
	s := &session{conn: conn, eq: Conn{conn}}
	if m.intercept != nil {
		s.eq = m.intercept(s.eq)
	}
	for _, stmt := range stmts {
		if err := s.eq.Exec(ctx, stmt, []any{}, nil); err != nil {
			return "", errors.Join(err, conn.Close())
		}
	}
	token := m.newToken()
	m.mu.Lock()
	m.sessions[token] = s
	m.mu.Unlock()
	m.logger.DebugContext(ctx, "transaction started", "token", token)
	return token, nil
}

func (m *SessionManager) get(token string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, relstore.Structuralf(relstore.ErrUnknownTx, "", "", "token %q", token)
	}
	return s, nil
}

// Exec runs a statement on the connection of token.
func (m *SessionManager) Exec(ctx context.Context, query, token string) (Result, error) {
	s, err := m.get(token)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res Result
	if err := s.eq.Exec(ctx, query, []any{}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Query runs a query on the connection of token and reads all rows.
func (m *SessionManager) Query(ctx context.Context, query, token string) ([]map[string]any, error) {
	s, err := m.get(token)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := &Rows{}
	if err := s.eq.Query(ctx, query, []any{}, rows); err != nil {
		return nil, err
	}
	return ScanMaps(rows)
}

// Commit commits the transaction of token and releases its connection.
func (m *SessionManager) Commit(ctx context.Context, token string) error {
	return m.finish(ctx, token, "COMMIT")
}

// Rollback rolls back the transaction of token and releases its connection.
func (m *SessionManager) Rollback(ctx context.Context, token string) error {
	return m.finish(ctx, token, "ROLLBACK")
}

func (m *SessionManager) finish(ctx context.Context, token, stmt string) error {
	m.mu.Lock()
	s, ok := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()
	if !ok {
		return relstore.Structuralf(relstore.ErrUnknownTx, "", "", "token %q", token)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.eq.Exec(ctx, stmt, []any{}, nil)
	if err != nil && stmt != "ROLLBACK" {
		// Leave nothing open on a connection going back to the pool.
		err = errors.Join(err, s.eq.Exec(ctx, "ROLLBACK", []any{}, nil))
	}
	m.logger.DebugContext(ctx, "transaction finished", "token", token, "statement", stmt, "error", err)
	return errors.Join(err, s.conn.Close())
}

// Len returns the number of open transactions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close rolls back every open transaction.
func (m *SessionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	tokens := slices.Sorted(maps.Keys(m.sessions))
	m.mu.Unlock()
	var errs []error
	for _, token := range tokens {
		if err := m.Rollback(ctx, token); err != nil {
			errs = append(errs, err)
		}
	}
	return relstore.NewAggregateError(errs...)
}
