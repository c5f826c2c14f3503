package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/relstore/dialect"
)

// QueryStats holds statement counters. Queries are statements returning
// rows, execs are everything else, including transaction control.
type QueryStats struct {
	TotalQueries  atomic.Int64
	TotalExecs    atomic.Int64
	TotalDuration atomic.Int64 // nanoseconds
	SlowQueries   atomic.Int64
	Errors        atomic.Int64
}

// Stats returns a snapshot of the counters.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// StatsSnapshot is a point-in-time copy of QueryStats.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgDuration returns the mean duration of all statements.
func (s StatsSnapshot) AvgDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgDuration(), s.SlowQueries, s.Errors)
}

// SlowQueryHook is called for every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, query string, duration time.Duration)

// StatsDriver counts and times the statements of a Driver.
type StatsDriver struct {
	*Driver
	stats     *QueryStats
	threshold time.Duration
	slowHook  SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the slow statement threshold. Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.threshold = d
	}
}

// WithSlowQueryHook sets the callback for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements at warn level to logger, or to the
// default logger when nil.
func WithSlowQueryLog(logger *slog.Logger) StatsOption {
	if logger == nil {
		logger = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, duration time.Duration) {
		logger.WarnContext(ctx, "slow query detected", "duration", duration, "sql", query)
	})
}

// NewStatsDriver wraps drv:
//
//	stats := sql.NewStatsDriver(drv,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(logger),
//	)
//	...
//	logger.Info("statements", "stats", stats.QueryStats().Stats().String())
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:    drv,
		stats:     &QueryStats{},
		threshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the live counters.
func (d *StatsDriver) QueryStats() *QueryStats {
	return d.stats
}

// Query runs a query on the pool and records it.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	return d.observe(ctx, query, true, func() error { return d.Driver.Query(ctx, query, args, v) })
}

// Exec runs a statement on the pool and records it.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	return d.observe(ctx, query, false, func() error { return d.Driver.Exec(ctx, query, args, v) })
}

func (d *StatsDriver) observe(ctx context.Context, query string, isQuery bool, run func() error) error {
	start := time.Now()
	err := run()
	duration := time.Since(start)
	if isQuery {
		d.stats.TotalQueries.Add(1)
	} else {
		d.stats.TotalExecs.Add(1)
	}
	d.stats.TotalDuration.Add(int64(duration))
	if err != nil {
		d.stats.Errors.Add(1)
	}
	if duration > d.threshold {
		d.stats.SlowQueries.Add(1)
		if d.slowHook != nil {
			d.slowHook(ctx, query, duration)
		}
	}
	return err
}

// Intercept wraps an ExecQuerier, such as a pinned session connection, so
// that its statements are recorded in the same counters.
func (d *StatsDriver) Intercept(eq dialect.ExecQuerier) dialect.ExecQuerier {
	return &statsExecQuerier{ExecQuerier: eq, driver: d}
}

type statsExecQuerier struct {
	dialect.ExecQuerier
	driver *StatsDriver
}

func (s *statsExecQuerier) Query(ctx context.Context, query string, args, v any) error {
	return s.driver.observe(ctx, query, true, func() error { return s.ExecQuerier.Query(ctx, query, args, v) })
}

func (s *statsExecQuerier) Exec(ctx context.Context, query string, args, v any) error {
	return s.driver.observe(ctx, query, false, func() error { return s.ExecQuerier.Exec(ctx, query, args, v) })
}

// DebugDriver logs every statement of a Driver.
type DebugDriver struct {
	dialect.Driver
	log func(context.Context, ...any)
}

// DebugOption configures a DebugDriver.
type DebugOption func(*DebugDriver)

// DebugWithLog sets the log function.
func DebugWithLog(logFunc func(context.Context, ...any)) DebugOption {
	return func(d *DebugDriver) {
		d.log = logFunc
	}
}

// NewDebugDriver wraps drv. Statements go to slog at debug level unless
// DebugWithLog says otherwise.
func NewDebugDriver(drv dialect.Driver, opts ...DebugOption) *DebugDriver {
	d := &DebugDriver{
		Driver: drv,
		log: func(ctx context.Context, v ...any) {
			slog.DebugContext(ctx, fmt.Sprint(v...))
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Query logs and runs a query.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log(ctx, "query: "+query)
	return d.Driver.Query(ctx, query, args, v)
}

// Exec logs and runs a statement.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log(ctx, "exec: "+query)
	return d.Driver.Exec(ctx, query, args, v)
}

// Intercept wraps an ExecQuerier so that its statements are logged too.
func (d *DebugDriver) Intercept(eq dialect.ExecQuerier) dialect.ExecQuerier {
	return &debugExecQuerier{ExecQuerier: eq, log: d.log}
}

type debugExecQuerier struct {
	dialect.ExecQuerier
	log func(context.Context, ...any)
}

func (d *debugExecQuerier) Query(ctx context.Context, query string, args, v any) error {
	d.log(ctx, "session query: "+query)
	return d.ExecQuerier.Query(ctx, query, args, v)
}

func (d *debugExecQuerier) Exec(ctx context.Context, query string, args, v any) error {
	d.log(ctx, "session exec: "+query)
	return d.ExecQuerier.Exec(ctx, query, args, v)
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
)
