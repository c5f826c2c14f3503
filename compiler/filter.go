package compiler

import (
	"cmp"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/dialect/sql/codec"
	"github.com/syssam/relstore/dialect/sql/sqlgraph"
	"github.com/syssam/relstore/querylanguage"
	"github.com/syssam/relstore/schema"
)

// where compiles the WHERE clause body of the scope: the soft delete check
// of the root, the filter tree and the join conditions of the plan. The
// filter must have been registered with the planner.
func (s *scope) where(f querylanguage.Filter) (string, error) {
	parts := []string{s.alive(s.plan.Entity, s.plan.Alias)}
	conds, err := s.filter(s.plan.Entity, "", f)
	if err != nil {
		return "", err
	}
	parts = append(parts, conds...)
	if w := s.plan.Where(); w != "" {
		parts = append(parts, w)
	}
	return connect("AND", parts), nil
}

// filter compiles the conditions of one tree node. The result is a list of
// conjuncts.
func (s *scope) filter(entity, path string, f map[string]any) ([]string, error) {
	alias, err := s.alias(entity, path)
	if err != nil {
		return nil, err
	}
	e, err := s.t.schema.Entity(entity)
	if err != nil {
		return nil, err
	}
	var parts []string
	for _, key := range slices.Sorted(maps.Keys(f)) {
		v := f[key]
		var cond string
		switch {
		case key == querylanguage.KeyID:
			continue
		case key == querylanguage.OpAnd, key == querylanguage.OpOr, key == querylanguage.OpXor:
			cond, err = s.logical(entity, path, key, v)
		case key == querylanguage.OpNot:
			sub, ok := v.(map[string]any)
			if !ok {
				return nil, relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "$not expects an object")
			}
			cond, err = s.not(entity, path, sub)
		case key == querylanguage.OpText:
			cond, err = fulltext(e, entity, alias, v)
		case querylanguage.IsExprKey(key):
			cond, err = s.expr(entity, path, v)
		default:
			cond, err = s.attribute(e, entity, path, alias, key, v)
		}
		if err != nil {
			return nil, err
		}
		if cond != "" {
			parts = append(parts, cond)
		}
	}
	return parts, nil
}

// not compiles a negated filter. A relation traversed inside it must still
// be alive: {"$not": {"user": {"name": "a"}}} matches rows whose user is
// alive and not named "a".
func (s *scope) not(entity, path string, f map[string]any) (string, error) {
	outer := s.guards
	var guards []string
	s.guards = &guards
	conds, err := s.filter(entity, path, f)
	s.guards = outer
	if err != nil || len(conds) == 0 {
		return "", err
	}
	cond := "not (" + connect("AND", conds) + ")"
	if outer != nil {
		for _, g := range guards {
			s.guard(g)
		}
		return cond, nil
	}
	return connect("AND", append(guards, cond)), nil
}

func (s *scope) guard(alive string) {
	if alive != "" && !slices.Contains(*s.guards, alive) {
		*s.guards = append(*s.guards, alive)
	}
}

func (s *scope) logical(entity, path, key string, v any) (string, error) {
	subs, err := sqlgraph.Filters(v)
	if err != nil {
		return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, err.Error())
	}
	var parts []string
	for _, sub := range subs {
		conds, err := s.filter(entity, path, sub)
		if err != nil {
			return "", err
		}
		if c := connect("AND", conds); c != "" {
			parts = append(parts, c)
		}
	}
	return connect(strings.ToUpper(strings.TrimPrefix(key, "$")), parts), nil
}

func (s *scope) attribute(e *schema.Entity, entity, path, alias, key string, v any) (string, error) {
	rel, err := s.t.classifier.Classify(s.t.schema, entity, key)
	if err != nil {
		return "", err
	}
	switch rel.Kind {
	case schema.Scalar:
		def, ok := e.Attribute(key)
		if !ok {
			return "", relstore.NewStructuralError(relstore.ErrUnknownAttribute, entity, key, "")
		}
		return s.predicate(entity, key, codec.Column(alias, key), def, v)
	case schema.RefTo, schema.Polymorphic:
		sub, ok := v.(map[string]any)
		if !ok {
			return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "relation filter must be an object of attribute conditions")
		}
		child := sqlgraph.Join(path, key)
		childAlias, err := s.alias(entity, child)
		if err != nil {
			return "", err
		}
		conds, err := s.filter(rel.Entity, child, sub)
		if err != nil {
			return "", err
		}
		alive := s.alive(rel.Entity, childAlias)
		if s.guards != nil {
			s.guard(alive)
			return connect("AND", conds), nil
		}
		return connect("AND", append([]string{alive}, conds...)), nil
	default:
		return "", relstore.NewStructuralError(relstore.ErrOneToMany, entity, key, "")
	}
}

// predicate compiles the condition on one column: a literal (equality), nil
// or an operator object.
func (s *scope) predicate(entity, attr, col string, def *schema.AttributeDef, v any) (string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		if v == nil {
			return col + " is null", nil
		}
		lit, err := encode(entity, attr, def, v)
		if err != nil {
			return "", err
		}
		return col + " = " + lit, nil
	}
	if !querylanguage.IsOperatorObject(m) {
		return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, attr, "nested filter on a scalar attribute")
	}
	var parts []string
	for _, op := range slices.Sorted(maps.Keys(m)) {
		cond, err := s.operator(entity, attr, col, def, op, m[op])
		if err != nil {
			return "", err
		}
		parts = append(parts, cond)
	}
	return connect("AND", parts), nil
}

var comparisons = map[string]string{
	querylanguage.OpGT:  ">",
	querylanguage.OpGTE: ">=",
	querylanguage.OpLT:  "<",
	querylanguage.OpLTE: "<=",
	querylanguage.OpEQ:  "=",
	querylanguage.OpNE:  "<>",
}

func (s *scope) operator(entity, attr, col string, def *schema.AttributeDef, op string, v any) (string, error) {
	switch op {
	case querylanguage.OpEQ, querylanguage.OpNE, querylanguage.OpGT, querylanguage.OpGTE, querylanguage.OpLT, querylanguage.OpLTE:
		if v == nil {
			switch op {
			case querylanguage.OpEQ:
				return col + " is null", nil
			case querylanguage.OpNE:
				return col + " is not null", nil
			}
			return "", relstore.Structuralf(relstore.ErrInvalidQuery, entity, attr, "%s cannot compare with null", op)
		}
		lit, err := encode(entity, attr, def, v)
		if err != nil {
			return "", err
		}
		return col + " " + comparisons[op] + " " + lit, nil
	case querylanguage.OpStartsWith, querylanguage.OpEndsWith, querylanguage.OpIncludes:
		str, ok := v.(string)
		if !ok {
			return "", relstore.Structuralf(relstore.ErrInvalidQuery, entity, attr, "%s expects a string, got %T", op, v)
		}
		switch op {
		case querylanguage.OpStartsWith:
			return col + " like " + codec.Like("", str, "%"), nil
		case querylanguage.OpEndsWith:
			return col + " like " + codec.Like("%", str, ""), nil
		default:
			return col + " like " + codec.Like("%", str, "%"), nil
		}
	case querylanguage.OpExists:
		if sq, ok := subQuery(v); ok {
			sub, err := s.subQuery(sq)
			if err != nil {
				return "", err
			}
			return "exists (" + sub + ")", nil
		}
		b, ok := v.(bool)
		if !ok {
			return "", relstore.Structuralf(relstore.ErrInvalidQuery, entity, attr, "$exists expects a boolean, got %T", v)
		}
		if b {
			return col + " is not null", nil
		}
		return col + " is null", nil
	case querylanguage.OpIn, querylanguage.OpNin:
		not := ""
		if op == querylanguage.OpNin {
			not = "not "
		}
		if sq, ok := subQuery(v); ok {
			sub, err := s.subQuery(sq)
			if err != nil {
				return "", err
			}
			return col + " " + not + "in (" + sub + ")", nil
		}
		vs, ok := list(v)
		if !ok {
			return "", relstore.Structuralf(relstore.ErrInvalidQuery, entity, attr, "%s expects a list, got %T", op, v)
		}
		if len(vs) == 0 {
			if op == querylanguage.OpNin {
				return "true", nil
			}
			return col + " in (null)", nil
		}
		lits := make([]string, len(vs))
		for i, x := range vs {
			lit, err := encode(entity, attr, def, x)
			if err != nil {
				return "", err
			}
			lits[i] = lit
		}
		return col + " " + not + "in (" + strings.Join(lits, ", ") + ")", nil
	case querylanguage.OpBetween:
		vs, ok := list(v)
		if !ok || len(vs) != 2 {
			return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, attr, "$between expects two values")
		}
		lo, err := encode(entity, attr, def, vs[0])
		if err != nil {
			return "", err
		}
		hi, err := encode(entity, attr, def, vs[1])
		if err != nil {
			return "", err
		}
		return col + " between " + lo + " and " + hi, nil
	default:
		return "", relstore.Structuralf(relstore.ErrInvalidQuery, entity, attr, "unknown operator %s", op)
	}
}

// subQuery compiles a SELECT of one attribute of another entity. Its aliases
// continue the counter of the enclosing statement, and #refId operands in
// its filter may name tags of the enclosing statement.
func (s *scope) subQuery(sq *querylanguage.SubQuery) (string, error) {
	sub, err := s.t.newScope(sq.Entity, s.deleted, s, sqlgraph.WithCounter(s.planner.Counter()))
	if err != nil {
		return "", err
	}
	attr := cmp.Or(sq.Attr, schema.ID)
	e, err := s.t.schema.Entity(sq.Entity)
	if err != nil {
		return "", err
	}
	if _, ok := e.Attribute(attr); !ok {
		return "", relstore.NewStructuralError(relstore.ErrUnknownAttribute, sq.Entity, attr, "")
	}
	if err := sub.planner.Filter(sq.Filter); err != nil {
		return "", err
	}
	where, err := sub.where(sq.Filter)
	if err != nil {
		return "", err
	}
	query := "SELECT " + codec.Column(sub.plan.Alias, attr) + " FROM " + sub.plan.From()
	if where != "" {
		query += " WHERE " + where
	}
	return query, nil
}

func fulltext(e *schema.Entity, entity, alias string, v any) (string, error) {
	var search string
	switch v := v.(type) {
	case string:
		search = v
	case map[string]any:
		search, _ = v[querylanguage.OpSearch].(string)
	}
	if search == "" {
		return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, querylanguage.OpText, "$text expects a $search string")
	}
	idx, ok := e.FulltextIndex()
	if !ok {
		return "", relstore.NewStructuralError(relstore.ErrNoFulltextIndex, entity, "", "")
	}
	cols := make([]string, len(idx.Attributes))
	for i, a := range idx.Attributes {
		cols[i] = codec.Column(alias, a)
	}
	return "match(" + strings.Join(cols, ", ") + ") against (" + codec.Quote(search) + " in natural language mode)", nil
}

// connect joins non-empty parts with a SQL connective, parenthesizing each
// part when there is more than one.
func connect(op string, parts []string) string {
	parts = slices.DeleteFunc(slices.Clone(parts), func(p string) bool { return p == "" })
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return "(" + strings.Join(parts, ") "+op+" (") + ")"
	}
}

func encode(entity, attr string, def *schema.AttributeDef, v any) (string, error) {
	lit, err := codec.Encode(def, v)
	if err != nil {
		return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, attr, err.Error())
	}
	return lit, nil
}

func subQuery(v any) (*querylanguage.SubQuery, bool) {
	switch v := v.(type) {
	case *querylanguage.SubQuery:
		return v, v != nil
	case querylanguage.SubQuery:
		return &v, true
	case map[string]any:
		entity, ok := v["entity"].(string)
		if !ok {
			return nil, false
		}
		sq := &querylanguage.SubQuery{Entity: entity}
		sq.Attr, _ = v["attr"].(string)
		sq.Filter, _ = v["filter"].(map[string]any)
		return sq, true
	}
	return nil, false
}

// list converts any slice to []any.
func list(v any) ([]any, bool) {
	if vs, ok := v.([]any); ok {
		return vs, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	vs := make([]any, rv.Len())
	for i := range vs {
		vs[i] = rv.Index(i).Interface()
	}
	return vs, true
}
