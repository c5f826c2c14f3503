package compiler

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/dialect/sql/codec"
	"github.com/syssam/relstore/dialect/sql/sqlgraph"
	"github.com/syssam/relstore/dialect/sqlschema"
	"github.com/syssam/relstore/querylanguage"
	"github.com/syssam/relstore/schema"
)

// CountAlias is the result column of Count.
const CountAlias = "cnt"

// maxRows is the MySQL idiom for an offset without a limit.
const maxRows = "18446744073709551615"

// Select compiles a read of entity.
func (t *Translator) Select(entity string, sel *querylanguage.Selection, opt SelectOption) (string, error) {
	if sel == nil {
		sel = &querylanguage.Selection{}
	}
	lock, err := lockClause(entity, opt.ForUpdate)
	if err != nil {
		return "", err
	}
	s, err := t.newScope(entity, opt.IncludedDeleted, nil, sqlgraph.WithHint(sel.Hint))
	if err != nil {
		return "", err
	}
	if err := s.register(sel.Data, sel.Filter, sel.Sorter); err != nil {
		return "", err
	}
	cols, err := s.projection(sel.Data, "", opt.Stat)
	if err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, "", "empty projection")
	}
	where, err := s.where(sel.Filter)
	if err != nil {
		return "", err
	}
	order, err := s.sorter(sel.Sorter)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	if sel.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(columns(cols))
	b.WriteString(" FROM ")
	b.WriteString(s.plan.From())
	clause(&b, " WHERE ", where)
	clause(&b, " ORDER BY ", order)
	b.WriteString(limit(sel.IndexFrom, sel.Count))
	clause(&b, " ", lock)
	query := b.String()
	t.trace("select", entity, query)
	return query, nil
}

// Count compiles a count of the rows of entity matching the filter. The
// result has a single column named CountAlias. A window counts at most
// sel.Count rows after skipping sel.IndexFrom.
func (t *Translator) Count(entity string, sel *querylanguage.CountSelection, opt SelectOption) (string, error) {
	if sel == nil {
		sel = &querylanguage.CountSelection{}
	}
	lock, err := lockClause(entity, opt.ForUpdate)
	if err != nil {
		return "", err
	}
	s, err := t.newScope(entity, opt.IncludedDeleted, nil)
	if err != nil {
		return "", err
	}
	if err := s.planner.Filter(sel.Filter); err != nil {
		return "", err
	}
	where, err := s.where(sel.Filter)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	count := "SELECT count(1) AS " + codec.Ident(CountAlias) + " FROM "
	if window := limit(sel.IndexFrom, sel.Count); window != "" {
		b.WriteString(count)
		b.WriteString("(SELECT 1 FROM ")
		b.WriteString(s.plan.From())
		clause(&b, " WHERE ", where)
		b.WriteString(window)
		clause(&b, " ", lock)
		b.WriteString(") AS `__count`")
	} else {
		b.WriteString(count)
		b.WriteString(s.plan.From())
		clause(&b, " WHERE ", where)
		clause(&b, " ", lock)
	}
	query := b.String()
	t.trace("count", entity, query)
	return query, nil
}

// Aggregate compiles a grouped read. Group columns are returned under
// "#aggr." prefixed aliases and aggregate values under their keys, e.g.
// "#count-1".
func (t *Translator) Aggregate(entity string, agg *querylanguage.Aggregation, opt SelectOption) (string, error) {
	if agg == nil || len(agg.Data) == 0 {
		return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, "", "empty aggregation")
	}
	lock, err := lockClause(entity, opt.ForUpdate)
	if err != nil {
		return "", err
	}
	s, err := t.newScope(entity, opt.IncludedDeleted, nil)
	if err != nil {
		return "", err
	}
	var group map[string]any
	if v, ok := agg.Data[querylanguage.KeyAggr]; ok {
		if group, ok = v.(map[string]any); !ok {
			return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, querylanguage.KeyAggr, "group by must be a projection")
		}
	}
	type aggregate struct {
		key, fn string
		node    map[string]any
	}
	var aggs []aggregate
	for _, key := range slices.Sorted(maps.Keys(agg.Data)) {
		if key == querylanguage.KeyAggr {
			continue
		}
		fn, ok := querylanguage.IsAggregateKey(key)
		if !ok {
			return "", relstore.Structuralf(relstore.ErrInvalidQuery, entity, key, "unknown aggregate key")
		}
		node, ok := agg.Data[key].(map[string]any)
		if !ok {
			return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "aggregate operand must be an attribute path")
		}
		aggs = append(aggs, aggregate{key: key, fn: fn, node: node})
	}
	if err := s.planner.Projection(group); err != nil {
		return "", err
	}
	for _, a := range aggs {
		if err := s.planner.Projection(a.node); err != nil {
			return "", err
		}
	}
	if err := s.register(nil, agg.Filter, agg.Sorter); err != nil {
		return "", err
	}
	groupCols, err := s.projection(group, querylanguage.KeyAggr+".", true)
	if err != nil {
		return "", err
	}
	cols := slices.Clone(groupCols)
	for _, a := range aggs {
		expr, err := s.path(entity, "", a.node)
		if err != nil {
			return "", err
		}
		if agg.Distinct {
			expr = "distinct " + expr
		}
		cols = append(cols, column{expr: a.fn + "(" + expr + ")", as: a.key})
	}
	where, err := s.where(agg.Filter)
	if err != nil {
		return "", err
	}
	order, err := s.sorter(agg.Sorter)
	if err != nil {
		return "", err
	}
	groupBy := make([]string, len(groupCols))
	for i, c := range groupCols {
		groupBy[i] = c.expr
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(columns(cols))
	b.WriteString(" FROM ")
	b.WriteString(s.plan.From())
	clause(&b, " WHERE ", where)
	clause(&b, " GROUP BY ", strings.Join(groupBy, ", "))
	clause(&b, " ORDER BY ", order)
	b.WriteString(limit(agg.IndexFrom, agg.Count))
	clause(&b, " ", lock)
	query := b.String()
	t.trace("aggregate", entity, query)
	return query, nil
}

// Insert compiles one multi-row INSERT. The column list is the union of
// the row keys in column order. Missing values are DEFAULT, except the
// primary key, which is generated, and the audit timestamps, which share
// one literal across all rows.
func (t *Translator) Insert(entity string, rows []querylanguage.Row) (string, error) {
	e, err := t.writable(entity)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, "", "no rows to insert")
	}
	present := make(map[string]bool)
	for _, row := range rows {
		for key := range row {
			if _, ok := e.Attribute(key); !ok {
				return "", relstore.NewStructuralError(relstore.ErrUnknownAttribute, entity, key, "")
			}
			present[key] = true
		}
	}
	now := strconv.FormatInt(t.now().UnixMilli(), 10)
	var names []string
	for _, name := range e.AttributeNames() {
		switch name {
		case schema.ID, schema.CreateAt, schema.UpdateAt:
			names = append(names, name)
		default:
			if present[name] {
				names = append(names, name)
			}
		}
	}
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = codec.Ident(name)
	}
	tuples := make([]string, len(rows))
	for i, row := range rows {
		lits := make([]string, len(names))
		for j, name := range names {
			v, ok := row[name]
			switch {
			case ok:
				lit, err := encode(entity, name, e.Attributes[name], v)
				if err != nil {
					return "", err
				}
				lits[j] = lit
			case name == schema.ID:
				lits[j] = codec.Quote(t.newID())
			case name == schema.CreateAt, name == schema.UpdateAt:
				lits[j] = now
			default:
				lits[j] = "DEFAULT"
			}
		}
		tuples[i] = "(" + strings.Join(lits, ", ") + ")"
	}
	query := "INSERT INTO " + codec.Ident(e.StorageName) + " (" + strings.Join(quoted, ", ") + ") VALUES " + strings.Join(tuples, ", ")
	t.trace("insert", entity, query)
	return query, nil
}

// Update compiles an UPDATE of the matched rows. The update timestamp is
// set unless the data carries one.
func (t *Translator) Update(entity string, upd *querylanguage.Update, opt UpdateOption) (string, error) {
	if upd == nil || len(upd.Data) == 0 {
		return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, "", "no data to update")
	}
	e, err := t.writable(entity)
	if err != nil {
		return "", err
	}
	for key := range upd.Data {
		if _, ok := e.Attribute(key); !ok {
			return "", relstore.NewStructuralError(relstore.ErrUnknownAttribute, entity, key, "")
		}
		if key == schema.ID {
			return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "primary key cannot be updated")
		}
	}
	sets := func(alias string) ([]string, error) {
		var out []string
		for _, name := range e.AttributeNames() {
			v, ok := upd.Data[name]
			if !ok {
				if name == schema.UpdateAt {
					out = append(out, codec.Column(alias, name)+" = "+strconv.FormatInt(t.now().UnixMilli(), 10))
				}
				continue
			}
			lit, err := encode(entity, name, e.Attributes[name], v)
			if err != nil {
				return nil, err
			}
			out = append(out, codec.Column(alias, name)+" = "+lit)
		}
		return out, nil
	}
	query, err := t.modify(entity, sets, upd.Filter, upd.Sorter, upd.IndexFrom, upd.Count, opt.IncludedDeleted)
	if err != nil {
		return "", err
	}
	t.trace("update", entity, query)
	return query, nil
}

// Remove compiles a soft delete of the matched rows: an UPDATE setting the
// soft delete column. Rows are never physically deleted.
func (t *Translator) Remove(entity string, rm *querylanguage.Remove, opt UpdateOption) (string, error) {
	if rm == nil {
		rm = &querylanguage.Remove{}
	}
	if _, err := t.writable(entity); err != nil {
		return "", err
	}
	now := strconv.FormatInt(t.now().UnixMilli(), 10)
	sets := func(alias string) ([]string, error) {
		return []string{codec.Column(alias, schema.DeleteAt) + " = " + now}, nil
	}
	query, err := t.modify(entity, sets, rm.Filter, rm.Sorter, rm.IndexFrom, rm.Count, opt.IncludedDeleted)
	if err != nil {
		return "", err
	}
	t.trace("remove", entity, query)
	return query, nil
}

// CreateEntity compiles the DDL creating the table of entity.
func (t *Translator) CreateEntity(entity string, opts sqlschema.Options) ([]string, error) {
	stmts, err := sqlschema.CreateTable(t.schema, entity, opts)
	if err != nil {
		return nil, err
	}
	for _, stmt := range stmts {
		t.trace("create", entity, stmt)
	}
	return stmts, nil
}

// DestroyEntity compiles the DDL dropping the table of entity.
func (t *Translator) DestroyEntity(entity string) (string, error) {
	stmt, err := sqlschema.DropTable(t.schema, entity)
	if err != nil {
		return "", err
	}
	t.trace("destroy", entity, stmt)
	return stmt, nil
}

// modify compiles an UPDATE of entity. A window (sorter, offset or limit)
// cannot be expressed on a multi-table UPDATE, so the rows are then
// selected by primary key through a derived table.
func (t *Translator) modify(entity string, sets func(alias string) ([]string, error), f querylanguage.Filter,
	sorter []querylanguage.SortItem, from, count int, deleted bool) (string, error) {
	s, err := t.newScope(entity, deleted, nil)
	if err != nil {
		return "", err
	}
	var where string
	if len(sorter) > 0 || from > 0 || count > 0 {
		sub, err := t.newScope(entity, deleted, s, sqlgraph.WithCounter(s.planner.Counter()))
		if err != nil {
			return "", err
		}
		if err := sub.register(nil, f, sorter); err != nil {
			return "", err
		}
		w, err := sub.where(f)
		if err != nil {
			return "", err
		}
		order, err := sub.sorter(sorter)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		b.WriteString("SELECT ")
		b.WriteString(codec.Column(sub.plan.Alias, schema.ID))
		b.WriteString(" FROM ")
		b.WriteString(sub.plan.From())
		clause(&b, " WHERE ", w)
		clause(&b, " ORDER BY ", order)
		b.WriteString(limit(from, count))
		where = codec.Column(s.plan.Alias, schema.ID) + " IN (SELECT " + codec.Ident(schema.ID) + " FROM (" + b.String() + ") AS `tmp`)"
	} else {
		if err := s.planner.Filter(f); err != nil {
			return "", err
		}
		if where, err = s.where(f); err != nil {
			return "", err
		}
	}
	assignments, err := sets(s.plan.Alias)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(s.plan.From())
	b.WriteString(" SET ")
	b.WriteString(strings.Join(assignments, ", "))
	clause(&b, " WHERE ", where)
	return b.String(), nil
}

// writable returns entity when rows of it can be written.
func (t *Translator) writable(entity string) (*schema.Entity, error) {
	e, err := t.schema.Entity(entity)
	if err != nil {
		return nil, err
	}
	if e.View {
		return nil, relstore.NewStructuralError(relstore.ErrViewUnsupported, entity, "", "")
	}
	return e, nil
}

// register registers the relations of the projection, filter and sorter trees
// in that order.
func (s *scope) register(proj querylanguage.Projection, f querylanguage.Filter, sorter []querylanguage.SortItem) error {
	if err := s.planner.Projection(proj); err != nil {
		return err
	}
	if err := s.planner.Filter(f); err != nil {
		return err
	}
	return s.planner.Sorter(sorter)
}

func lockClause(entity, lock string) (string, error) {
	switch l := strings.ToUpper(strings.TrimSpace(lock)); l {
	case "", ForUpdate, ForUpdateNoWait, ForUpdateSkipLocked, ForShare:
		return l, nil
	default:
		return "", relstore.Structuralf(relstore.ErrInvalidQuery, entity, "", "invalid locking clause %q", lock)
	}
}

func limit(from, count int) string {
	switch {
	case count > 0:
		return " LIMIT " + strconv.Itoa(from) + ", " + strconv.Itoa(count)
	case from > 0:
		return " LIMIT " + strconv.Itoa(from) + ", " + maxRows
	default:
		return ""
	}
}

func clause(b *strings.Builder, keyword, body string) {
	if body != "" {
		b.WriteString(keyword)
		b.WriteString(body)
	}
}
