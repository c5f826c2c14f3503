package relstore

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for structural (programmer) failures. They are never
// returned bare by the compilers; a *StructuralError carrying one of them
// is returned instead, so errors.Is works against the sentinel.
var (
	// ErrUnknownEntity is returned when an entity is not part of the schema.
	ErrUnknownEntity = errors.New("relstore: unknown entity")

	// ErrUnknownAttribute is returned when a projection, filter, sorter or
	// operation references an attribute the entity does not declare.
	ErrUnknownAttribute = errors.New("relstore: unknown attribute")

	// ErrOneToMany is returned when a query tries to traverse a one-to-many relation.
	ErrOneToMany = errors.New("relstore: one-to-many relation cannot be traversed")

	// ErrUnknownFunction is returned for expression functions without a template.
	ErrUnknownFunction = errors.New("relstore: unknown expression function")

	// ErrArity is returned when an expression function gets the wrong number of operands.
	ErrArity = errors.New("relstore: wrong number of operands")

	// ErrNoFulltextIndex is returned when $text is used on an entity without a fulltext index.
	ErrNoFulltextIndex = errors.New("relstore: no fulltext index")

	// ErrViewUnsupported is returned when DDL is requested for a view entity.
	ErrViewUnsupported = errors.New("relstore: views are not supported")

	// ErrSequence is returned when an entity declares more than one sequence column.
	ErrSequence = errors.New("relstore: more than one sequence column")

	// ErrInvalidSchema is returned for malformed attribute or index declarations.
	ErrInvalidSchema = errors.New("relstore: invalid schema")

	// ErrInvalidQuery is returned for malformed selections and operations.
	ErrInvalidQuery = errors.New("relstore: invalid query")

	// ErrUnknownTx is returned when a transaction token is unknown or already closed.
	ErrUnknownTx = errors.New("relstore: unknown transaction")

	// ErrIntegrity is matched by every *IntegrityError.
	ErrIntegrity = errors.New("relstore: integrity check failed")
)

// StructuralError reports a malformed query or schema. It is the first of the
// three error classes and is never coerced into a result.
type StructuralError struct {
	Entity  string // Entity being compiled, if known
	Attr    string // Attribute or key that failed, if known
	Message string // Optional detail
	Err     error  // One of the sentinel errors above
}

// Error returns the error string.
func (e *StructuralError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = strings.TrimPrefix(e.Err.Error(), "relstore: ")
	}
	switch {
	case e.Entity != "" && e.Attr != "":
		return fmt.Sprintf("relstore: %s.%s: %s", e.Entity, e.Attr, msg)
	case e.Entity != "":
		return fmt.Sprintf("relstore: %s: %s", e.Entity, msg)
	case e.Attr != "":
		return fmt.Sprintf("relstore: %s: %s", e.Attr, msg)
	default:
		return "relstore: " + msg
	}
}

// Unwrap returns the sentinel error.
func (e *StructuralError) Unwrap() error {
	return e.Err
}

// NewStructuralError returns a new StructuralError of the given kind.
func NewStructuralError(kind error, entity, attr, msg string) *StructuralError {
	return &StructuralError{Entity: entity, Attr: attr, Message: msg, Err: kind}
}

// Structuralf is like NewStructuralError but formats the message.
func Structuralf(kind error, entity, attr, format string, args ...any) *StructuralError {
	return NewStructuralError(kind, entity, attr, fmt.Sprintf(format, args...))
}

// IsStructuralError returns true if the error is a StructuralError.
func IsStructuralError(err error) bool {
	if err == nil {
		return false
	}
	var e *StructuralError
	return errors.As(err, &e)
}

// IntegrityError reports a hydrated row that contradicts its own join:
// a relation whose primary key differs from the parent's foreign key, or a
// polymorphic relation whose discriminator names another entity.
type IntegrityError struct {
	Entity  string // Entity owning the relation
	Path    string // Relation path inside the result row
	Message string
}

// Error returns the error string.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("relstore: integrity check failed on %s (%s): %s", e.Entity, e.Path, e.Message)
}

// Is reports whether the target error matches ErrIntegrity.
func (e *IntegrityError) Is(err error) bool {
	return err == ErrIntegrity
}

// NewIntegrityError returns a new IntegrityError.
func NewIntegrityError(entity, path, format string, args ...any) *IntegrityError {
	return &IntegrityError{Entity: entity, Path: path, Message: fmt.Sprintf(format, args...)}
}

// IsIntegrityError returns true if the error is an IntegrityError.
func IsIntegrityError(err error) bool {
	if err == nil {
		return false
	}
	var e *IntegrityError
	return errors.As(err, &e) || errors.Is(err, ErrIntegrity)
}

// ExecError wraps an error raised by the database together with the
// statement that caused it. It is not retried.
type ExecError struct {
	SQL string // Statement text
	Err error  // Driver error
}

// Error returns the error string.
func (e *ExecError) Error() string {
	return fmt.Sprintf("relstore: exec %q: %v", e.SQL, e.Err)
}

// Unwrap returns the driver error.
func (e *ExecError) Unwrap() error {
	return e.Err
}

// NewExecError returns a new ExecError, or nil if err is nil.
func NewExecError(sql string, err error) error {
	if err == nil {
		return nil
	}
	return &ExecError{SQL: sql, Err: err}
}

// IsExecError returns true if the error is an ExecError.
func IsExecError(err error) bool {
	if err == nil {
		return false
	}
	var e *ExecError
	return errors.As(err, &e)
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "relstore: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("relstore: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
