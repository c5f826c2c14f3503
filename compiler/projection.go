package compiler

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/dialect/sql/codec"
	"github.com/syssam/relstore/dialect/sql/sqlgraph"
	"github.com/syssam/relstore/querylanguage"
	"github.com/syssam/relstore/schema"
)

// column is one projected value and its result alias.
type column struct {
	expr string
	as   string
}

func (c column) String() string {
	return c.expr + " AS " + codec.Ident(c.as)
}

func columns(cols []column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

// projection compiles a projection tree into result columns aliased by
// their dotted path. Outside a stat context the primary key of every
// traversed node, and the foreign keys of its relations, are always
// selected so rows can be hydrated and checked.
func (s *scope) projection(proj querylanguage.Projection, prefix string, stat bool) ([]column, error) {
	return s.project(s.plan.Entity, "", prefix, proj, stat)
}

func (s *scope) project(entity, path, prefix string, proj map[string]any, stat bool) ([]column, error) {
	e, err := s.t.schema.Entity(entity)
	if err != nil {
		return nil, err
	}
	alias, err := s.alias(entity, path)
	if err != nil {
		return nil, err
	}
	var (
		cols []column
		seen = make(map[string]bool)
	)
	add := func(attr, as string) {
		if seen[as] {
			return
		}
		seen[as] = true
		expr := codec.Column(alias, attr)
		if def, ok := e.Attribute(attr); ok && def.Type.Spatial() {
			expr = "ST_AsText(" + expr + ")"
		}
		cols = append(cols, column{expr: expr, as: prefix + as})
	}
	keys := slices.Sorted(maps.Keys(proj))
	if !stat {
		if _, ok := e.Attribute(schema.ID); ok {
			add(schema.ID, schema.ID)
		}
		for _, key := range keys {
			if key == querylanguage.KeyID || querylanguage.IsExprKey(key) {
				continue
			}
			rel, err := s.t.classifier.Classify(s.t.schema, entity, key)
			if err != nil {
				return nil, err
			}
			switch rel.Kind {
			case schema.RefTo:
				add(rel.ForeignKey, rel.ForeignKey)
			case schema.Polymorphic:
				add(schema.Discriminator, schema.Discriminator)
				add(rel.ForeignKey, rel.ForeignKey)
			}
		}
	}
	for _, key := range keys {
		v := proj[key]
		switch {
		case key == querylanguage.KeyID:
			continue
		case querylanguage.IsExprKey(key):
			expr, err := s.expr(entity, path, v)
			if err != nil {
				return nil, err
			}
			cols = append(cols, column{expr: expr, as: prefix + key})
			continue
		}
		rel, err := s.t.classifier.Classify(s.t.schema, entity, key)
		if err != nil {
			return nil, err
		}
		switch rel.Kind {
		case schema.Scalar:
			as, ok, err := included(entity, key, v)
			if err != nil {
				return nil, err
			}
			if ok {
				add(key, as)
			}
		case schema.RefTo, schema.Polymorphic:
			sub, ok := v.(map[string]any)
			if !ok {
				return nil, relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "relation projection must be an object")
			}
			nested, err := s.project(rel.Entity, sqlgraph.Join(path, key), prefix+key+".", sub, stat)
			if err != nil {
				return nil, err
			}
			cols = append(cols, nested...)
		default:
			return nil, relstore.NewStructuralError(relstore.ErrOneToMany, entity, key, "")
		}
	}
	return cols, nil
}

// Renames returns the renamed attributes of a select projection, keyed by
// the dotted result alias, so rows can be decoded with the attribute type.
func (t *Translator) Renames(entity string, proj querylanguage.Projection) (map[string]string, error) {
	out := make(map[string]string)
	if err := t.renames(entity, "", proj, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AggregateRenames is Renames for the group projection of an aggregation.
func (t *Translator) AggregateRenames(entity string, agg *querylanguage.Aggregation) (map[string]string, error) {
	out := make(map[string]string)
	if agg == nil {
		return out, nil
	}
	group, _ := agg.Data[querylanguage.KeyAggr].(map[string]any)
	if err := t.renames(entity, querylanguage.KeyAggr+".", group, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Translator) renames(entity, prefix string, proj map[string]any, out map[string]string) error {
	for key, v := range proj {
		if key == querylanguage.KeyID || querylanguage.IsExprKey(key) {
			continue
		}
		rel, err := t.classifier.Classify(t.schema, entity, key)
		if err != nil {
			return err
		}
		switch rel.Kind {
		case schema.Scalar:
			as, ok, err := included(entity, key, v)
			if err != nil {
				return err
			}
			if ok && as != key {
				out[prefix+as] = key
			}
		case schema.RefTo, schema.Polymorphic:
			if sub, ok := v.(map[string]any); ok {
				if err := t.renames(rel.Entity, prefix+key+".", sub, out); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// included reports if a projection value selects the attribute, and the
// name it is returned under.
func included(entity, key string, v any) (string, bool, error) {
	switch v := v.(type) {
	case bool:
		return key, v, nil
	case string:
		if v == "" {
			return key, true, nil
		}
		return v, true, nil
	case int:
		return key, v != 0, nil
	case int64:
		return key, v != 0, nil
	case float64:
		return key, v != 0, nil
	case json.Number:
		return key, v.String() != "0", nil
	default:
		return "", false, relstore.Structuralf(relstore.ErrInvalidQuery, entity, key, "invalid projection value %T", v)
	}
}

// sorter compiles the ORDER BY list.
func (s *scope) sorter(items []querylanguage.SortItem) (string, error) {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		expr, err := s.path(s.plan.Entity, "", item.Attr)
		if err != nil {
			return "", err
		}
		switch item.Direction {
		case "":
		case querylanguage.Ascending, querylanguage.Descending:
			expr += " " + item.Direction
		default:
			return "", relstore.Structuralf(relstore.ErrInvalidQuery, s.plan.Entity, "", "invalid sort direction %q", item.Direction)
		}
		parts = append(parts, expr)
	}
	return strings.Join(parts, ", "), nil
}

// path compiles a single-path tree, such as {"user": {"name": 1}}, to the
// column or expression at its leaf.
func (s *scope) path(entity, path string, node map[string]any) (string, error) {
	if len(node) != 1 {
		return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, "", "path must name exactly one attribute")
	}
	var (
		key string
		v   any
	)
	for key, v = range node {
	}
	if querylanguage.IsExprKey(key) {
		return s.expr(entity, path, v)
	}
	rel, err := s.t.classifier.Classify(s.t.schema, entity, key)
	if err != nil {
		return "", err
	}
	switch rel.Kind {
	case schema.Scalar:
		alias, err := s.alias(entity, path)
		if err != nil {
			return "", err
		}
		return codec.Column(alias, key), nil
	case schema.RefTo, schema.Polymorphic:
		sub, ok := v.(map[string]any)
		if !ok {
			return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "path ends at a relation")
		}
		return s.path(rel.Entity, sqlgraph.Join(path, key), sub)
	default:
		return "", relstore.NewStructuralError(relstore.ErrOneToMany, entity, key, "")
	}
}
