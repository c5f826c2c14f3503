// Package dialect defines the database contracts shared by the relstore
// packages.
//
// Only MySQL is emitted: identifiers are quoted with backticks, temporal
// values are stored as epoch milliseconds and spatial values go through
// ST_GeomFromText and ST_AsText.
//
// # Driver Interface
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Close() error
//	    Dialect() string
//	}
//
// # Sub-packages
//
//   - dialect/sql: database/sql driver, token bound sessions, stats and debug wrappers
//   - dialect/sql/sqlgraph: join planner and constraint error classification
//   - dialect/sql/codec: literal encoding, row decoding and hydration
//   - dialect/sqlschema: CREATE TABLE generation
package dialect
