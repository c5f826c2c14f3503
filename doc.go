// Package relstore compiles schema-aware queries over an entity graph into
// MySQL statements and maps the rows they return back to typed values.
//
// The root package holds the error classes shared by every layer:
//
//   - *StructuralError: the request does not fit the schema (unknown entity
//     or attribute, one-to-many traversal, unknown expression function,
//     wrong arity, missing fulltext index). These are programming errors
//     and are never retried.
//   - *IntegrityError: a row came back inconsistent with the schema, such
//     as a joined relation whose primary key disagrees with the foreign key.
//   - *ExecError: the database rejected a statement. It carries the SQL
//     text and unwraps to the driver error.
//
// The packages are layered as follows:
//
//   - schema: entities, attribute types, augmentation and relation classification
//   - querylanguage: selections, filters, expressions and write operations
//   - compiler: the Translator producing SQL text
//   - dialect/...: drivers, sessions, the join planner, the value codec and DDL
//   - store: executes compiled statements and hydrates results
package relstore
