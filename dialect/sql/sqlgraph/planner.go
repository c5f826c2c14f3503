// Package sqlgraph plans the joins needed to reach related entities from a
// root entity, and classifies MySQL constraint violations.
package sqlgraph

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/dialect/sql/codec"
	"github.com/syssam/relstore/querylanguage"
	"github.com/syssam/relstore/schema"
)

// Plan is the result of planning: the alias of every traversed relation
// path and the FROM clause joining them. Paths are slash delimited
// attribute names relative to the root; the root path is "".
type Plan struct {
	// Entity is the root entity.
	Entity string
	// Alias is the root alias.
	Alias string
	// AliasDict maps relation paths to aliases.
	AliasDict map[string]string
	// AliasEntity maps aliases to entity names.
	AliasEntity map[string]string
	// ProjectionRefAlias and FilterRefAlias map #id tags found in the
	// projection and filter trees to the alias of the tagged node.
	ProjectionRefAlias map[string]string
	FilterRefAlias     map[string]string
	// ExtraWhere holds conditions that the joins require, such as the
	// discriminator check of polymorphic relations.
	ExtraWhere []string

	root  string
	joins []string
}

// From returns the FROM clause body: the root table followed by joins.
func (p *Plan) From() string {
	if len(p.joins) == 0 {
		return p.root
	}
	return p.root + " " + strings.Join(p.joins, " ")
}

// Where returns the join conditions joined by AND, or "" when there are none.
func (p *Plan) Where() string {
	return strings.Join(p.ExtraWhere, " AND ")
}

// Table returns the root table with its alias, without joins.
func (p *Plan) Table() string {
	return p.root
}

// Joined reports if any relation was joined.
func (p *Plan) Joined() bool {
	return len(p.joins) > 0
}

// Lookup returns the alias of the given path.
func (p *Plan) Lookup(path string) (string, bool) {
	a, ok := p.AliasDict[path]
	return a, ok
}

// Planner walks projection, filter and sorter trees and registers a join
// for every relation they traverse. The same path always maps to the same
// alias, so a relation used by several trees is joined once.
type Planner struct {
	schema     schema.Schema
	classifier schema.Classifier
	counter    *int
	hint       *querylanguage.Hint
	plan       *Plan
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithCounter shares an alias counter between planners, so aliases stay
// unique across a statement and its sub queries.
func WithCounter(n *int) PlannerOption {
	return func(p *Planner) {
		p.counter = n
	}
}

// WithHint attaches index hints to the planned tables.
func WithHint(h *querylanguage.Hint) PlannerOption {
	return func(p *Planner) {
		p.hint = h
	}
}

// NewPlanner returns a planner rooted at entity.
func NewPlanner(s schema.Schema, c schema.Classifier, entity string, opts ...PlannerOption) (*Planner, error) {
	e, err := s.Entity(entity)
	if err != nil {
		return nil, err
	}
	p := &Planner{schema: s, classifier: c}
	for _, opt := range opts {
		opt(p)
	}
	if p.classifier == nil {
		p.classifier = schema.DefaultClassifier
	}
	if p.counter == nil {
		p.counter = new(int)
	}
	alias := p.next(entity)
	p.plan = &Plan{
		Entity:             entity,
		Alias:              alias,
		AliasDict:          map[string]string{"": alias},
		AliasEntity:        map[string]string{alias: entity},
		ProjectionRefAlias: make(map[string]string),
		FilterRefAlias:     make(map[string]string),
		root:               codec.Ident(e.StorageName) + " AS " + codec.Ident(alias) + p.indexHint(""),
	}
	return p, nil
}

// Counter returns the alias counter, for sub planners.
func (p *Planner) Counter() *int {
	return p.counter
}

// Plan returns the plan built so far.
func (p *Planner) Plan() *Plan {
	return p.plan
}

func (p *Planner) next(entity string) string {
	*p.counter++
	return fmt.Sprintf("%s_%d", entity, *p.counter)
}

func (p *Planner) indexHint(path string) string {
	if p.hint == nil || len(p.hint.IndexHints[path]) == 0 {
		return ""
	}
	mode := p.hint.Mode
	if mode == "" {
		mode = querylanguage.ForceIndex
	}
	names := make([]string, 0, len(p.hint.IndexHints[path]))
	for _, n := range p.hint.IndexHints[path] {
		names = append(names, codec.Ident(n))
	}
	return " " + string(mode) + " INDEX (" + strings.Join(names, ", ") + ")"
}

// Projection registers the relations of a projection tree.
func (p *Planner) Projection(proj querylanguage.Projection) error {
	return p.projection(p.plan.Entity, "", proj)
}

func (p *Planner) projection(entity, path string, proj map[string]any) error {
	for _, key := range slices.Sorted(maps.Keys(proj)) {
		v := proj[key]
		switch {
		case key == querylanguage.KeyID:
			if err := p.tag(p.plan.ProjectionRefAlias, entity, path, v); err != nil {
				return err
			}
			continue
		case querylanguage.IsExprKey(key):
			continue
		}
		rel, err := p.classifier.Classify(p.schema, entity, key)
		if err != nil {
			return err
		}
		sub, isMap := v.(map[string]any)
		switch {
		case rel.Kind == schema.Scalar && isMap:
			return relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "nested projection on a scalar attribute")
		case rel.Kind == schema.Scalar:
		case !isMap:
			return relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "relation projection must be an object")
		default:
			child, err := p.join(entity, path, key, rel)
			if err != nil {
				return err
			}
			if err := p.projection(rel.Entity, child, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// Filter registers the relations of a filter tree. Logical connectives are
// descended without changing the path.
func (p *Planner) Filter(f querylanguage.Filter) error {
	return p.filter(p.plan.Entity, "", f)
}

func (p *Planner) filter(entity, path string, f map[string]any) error {
	for _, key := range slices.Sorted(maps.Keys(f)) {
		v := f[key]
		switch {
		case key == querylanguage.KeyID:
			if err := p.tag(p.plan.FilterRefAlias, entity, path, v); err != nil {
				return err
			}
			continue
		case key == querylanguage.OpNot:
			sub, ok := v.(map[string]any)
			if !ok {
				return relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "$not expects an object")
			}
			if err := p.filter(entity, path, sub); err != nil {
				return err
			}
			continue
		case querylanguage.IsLogical(key):
			subs, err := Filters(v)
			if err != nil {
				return relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, err.Error())
			}
			for _, sub := range subs {
				if err := p.filter(entity, path, sub); err != nil {
					return err
				}
			}
			continue
		case key == querylanguage.OpText, querylanguage.IsExprKey(key):
			continue
		}
		rel, err := p.classifier.Classify(p.schema, entity, key)
		if err != nil {
			return err
		}
		if rel.Kind == schema.Scalar {
			continue
		}
		sub, ok := v.(map[string]any)
		if !ok || querylanguage.IsOperatorObject(sub) {
			return relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "relation filter must be an object of attribute conditions")
		}
		child, err := p.join(entity, path, key, rel)
		if err != nil {
			return err
		}
		if err := p.filter(rel.Entity, child, sub); err != nil {
			return err
		}
	}
	return nil
}

// Sorter registers the relations of the sort items.
func (p *Planner) Sorter(items []querylanguage.SortItem) error {
	for _, item := range items {
		if err := p.sortPath(p.plan.Entity, "", item.Attr); err != nil {
			return err
		}
	}
	return nil
}

func (p *Planner) sortPath(entity, path string, node map[string]any) error {
	for _, key := range slices.Sorted(maps.Keys(node)) {
		if querylanguage.IsExprKey(key) {
			continue
		}
		rel, err := p.classifier.Classify(p.schema, entity, key)
		if err != nil {
			return err
		}
		if rel.Kind == schema.Scalar {
			continue
		}
		sub, ok := node[key].(map[string]any)
		if !ok {
			return relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "cannot sort by a relation")
		}
		child, err := p.join(entity, path, key, rel)
		if err != nil {
			return err
		}
		if err := p.sortPath(rel.Entity, child, sub); err != nil {
			return err
		}
	}
	return nil
}

func (p *Planner) tag(tags map[string]string, entity, path string, v any) error {
	name, ok := v.(string)
	if !ok || name == "" {
		return relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, querylanguage.KeyID, "tag must be a non-empty string")
	}
	tags[name] = p.plan.AliasDict[path]
	return nil
}

// join registers the relation key under the parent path and returns the
// child path.
func (p *Planner) join(entity, path, key string, rel schema.Relation) (string, error) {
	child := Join(path, key)
	if _, ok := p.plan.AliasDict[child]; ok {
		return child, nil
	}
	if rel.Kind == schema.OneToMany {
		return "", relstore.NewStructuralError(relstore.ErrOneToMany, entity, key, "")
	}
	target, err := p.schema.Entity(rel.Entity)
	if err != nil {
		return "", err
	}
	parent := p.plan.AliasDict[path]
	alias := p.next(rel.Entity)
	p.plan.AliasDict[child] = alias
	p.plan.AliasEntity[alias] = rel.Entity
	p.plan.joins = append(p.plan.joins, fmt.Sprintf("LEFT JOIN %s AS %s%s ON %s = %s",
		codec.Ident(target.StorageName), codec.Ident(alias), p.indexHint(child),
		codec.Column(parent, rel.ForeignKey), codec.Column(alias, schema.ID)))
	if rel.Kind == schema.Polymorphic {
		p.plan.ExtraWhere = append(p.plan.ExtraWhere,
			codec.Column(parent, schema.Discriminator)+" = "+codec.Quote(rel.Entity))
	}
	return child, nil
}

// Join appends key to a slash delimited path.
func Join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "/" + key
}

// Filters converts the operand of a logical connective into a list of
// filter objects.
func Filters(v any) ([]map[string]any, error) {
	switch v := v.(type) {
	case []map[string]any:
		return v, nil
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		fs := make([]map[string]any, 0, len(v))
		for _, x := range v {
			f, ok := x.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected a list of objects, got %T", x)
			}
			fs = append(fs, f)
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("expected a list of objects, got %T", v)
	}
}
