// Package sql runs compiled MySQL statements over database/sql.
//
// It provides the pieces the store is assembled from:
//
//   - Driver: a dialect.Driver over *sql.DB for non-transactional statements
//   - SessionManager: one pinned connection per open transaction, addressed
//     by an opaque token
//   - StatsDriver and DebugDriver: wrappers counting, timing and logging
//     statements, which can also intercept session connections
//   - ScanMaps: reads a result set into maps keyed by column alias
//
// # Drivers
//
//	drv, err := sql.Open(cfg.DSN())
//	stats := sql.NewStatsDriver(drv,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(logger),
//	)
//
// Statement failures are returned as *relstore.ExecError, which carries the
// SQL text and unwraps to the driver error.
//
// # Transactions
//
// Transactions are started with START TRANSACTION on a connection reserved
// from the pool, so that a caller can keep issuing plain SQL text on it:
//
//	sessions := sql.NewSessionManager(drv, sql.WithInterceptor(stats.Intercept))
//	token, err := sessions.Begin(ctx, &sql.TxOption{Isolation: sql.ReadCommitted})
//	if err != nil {
//	    return err
//	}
//	if _, err := sessions.Exec(ctx, stmt, token); err != nil {
//	    return errors.Join(err, sessions.Rollback(ctx, token))
//	}
//	return sessions.Commit(ctx, token)
//
// Subpackages hold the value codec (codec), the join planner and constraint
// error classification (sqlgraph).
package sql
