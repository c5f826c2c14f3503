// Package compiler translates query language requests into MySQL statements.
//
// A Translator is built once per augmented schema and is safe for concurrent
// use. Every method compiles one request into SQL text:
//
//	t := compiler.NewTranslator(s, compiler.WithClock(time.Now))
//	query, err := t.Select("token", &querylanguage.Selection{
//		Data:   querylanguage.Projection{"id": 1, "user": querylanguage.Projection{"nickname": 1}},
//		Filter: querylanguage.Filter{"user": querylanguage.Filter{"name": querylanguage.Includes("xc")}},
//	}, compiler.SelectOption{})
//
// Relations are flattened into LEFT JOINs by sqlgraph.Planner, literals are
// encoded by the codec package and rows are never physically deleted: Remove
// compiles to an UPDATE of the soft delete column.
package compiler

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/dialect/sql/codec"
	"github.com/syssam/relstore/dialect/sql/sqlgraph"
	"github.com/syssam/relstore/schema"
)

// Translator compiles requests against one augmented schema.
type Translator struct {
	schema     schema.Schema
	classifier schema.Classifier
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithClock sets the clock used for audit and soft delete timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Translator) {
		if now != nil {
			t.now = now
		}
	}
}

// WithIDGenerator sets the generator of primary keys for inserted rows
// that carry none.
func WithIDGenerator(f func() string) Option {
	return func(t *Translator) {
		if f != nil {
			t.newID = f
		}
	}
}

// WithClassifier sets the relation classifier.
func WithClassifier(c schema.Classifier) Option {
	return func(t *Translator) {
		if c != nil {
			t.classifier = c
		}
	}
}

// WithLogger sets the logger receiving compiled statements at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTranslator returns a Translator for s, which must be the result of
// schema.Augment.
func NewTranslator(s schema.Schema, opts ...Option) *Translator {
	t := &Translator{
		schema:     s,
		classifier: schema.DefaultClassifier,
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Schema returns the schema the translator compiles against.
func (t *Translator) Schema() schema.Schema {
	return t.schema
}

// Classifier returns the relation classifier.
func (t *Translator) Classifier() schema.Classifier {
	return t.classifier
}

// Locking clauses accepted by SelectOption.ForUpdate.
const (
	ForUpdate           = "FOR UPDATE"
	ForUpdateNoWait     = "FOR UPDATE NOWAIT"
	ForUpdateSkipLocked = "FOR UPDATE SKIP LOCKED"
	ForShare            = "FOR SHARE"
)

// SelectOption controls read statements.
type SelectOption struct {
	// ForUpdate is an optional locking clause, e.g. ForUpdate.
	ForUpdate string
	// IncludedDeleted disables the soft delete filter.
	IncludedDeleted bool
	// Stat marks an aggregation context: primary and foreign keys are not
	// added to the projection.
	Stat bool
}

// UpdateOption controls update and remove statements.
type UpdateOption struct {
	IncludedDeleted bool
}

// scope holds the join plan of one SELECT, UPDATE or sub query, and the
// scope it is nested in.
type scope struct {
	t       *Translator
	planner *sqlgraph.Planner
	plan    *sqlgraph.Plan
	deleted bool
	parent  *scope
	// guards collects the soft delete checks of relations traversed under
	// a $not, which are conjoined outside the negation.
	guards *[]string
}

func (t *Translator) newScope(entity string, deleted bool, parent *scope, opts ...sqlgraph.PlannerOption) (*scope, error) {
	p, err := sqlgraph.NewPlanner(t.schema, t.classifier, entity, opts...)
	if err != nil {
		return nil, err
	}
	return &scope{t: t, planner: p, plan: p.Plan(), deleted: deleted, parent: parent}, nil
}

// alias returns the alias of path, which the planner must have registered.
func (s *scope) alias(entity, path string) (string, error) {
	a, ok := s.plan.Lookup(path)
	if !ok {
		return "", relstore.Structuralf(relstore.ErrInvalidQuery, entity, "", "relation path %q was not planned", path)
	}
	return a, nil
}

// tag resolves an #id tag to its alias and entity, looking at enclosing
// scopes when the tag is not defined locally.
func (s *scope) tag(name string) (alias, entity string, ok bool) {
	for sc := s; sc != nil; sc = sc.parent {
		a, found := sc.plan.FilterRefAlias[name]
		if !found {
			a, found = sc.plan.ProjectionRefAlias[name]
		}
		if found {
			return a, sc.plan.AliasEntity[a], true
		}
	}
	return "", "", false
}

// alive returns the soft delete predicate of a node, or "" when deleted
// rows are included or the entity has no soft delete column.
func (s *scope) alive(entity, alias string) string {
	if s.deleted {
		return ""
	}
	if e, ok := s.t.schema[entity]; !ok || e.Attributes[schema.DeleteAt] == nil {
		return ""
	}
	return codec.Column(alias, schema.DeleteAt) + " is null"
}

func (t *Translator) trace(op, entity, query string) {
	t.logger.Debug("statement compiled", "op", op, "entity", entity, "sql", query)
}
