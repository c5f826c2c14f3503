package compiler

import (
	"strings"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/dialect/sql/codec"
	"github.com/syssam/relstore/querylanguage"
)

// function is an entry of the expression table. Variadic functions take at
// least n operands, the others exactly n. When units is set the last
// operand is a unit name, passed to render as a SQL keyword.
type function struct {
	n        int
	variadic bool
	units    map[string]string
	render   func(args []string) string
}

var (
	diffUnits = map[string]string{
		"year": "YEAR", "month": "MONTH", "week": "WEEK", "day": "DAY",
		"hour": "HOUR", "minute": "MINUTE", "second": "SECOND",
	}
	truncUnits = map[string]string{
		"year": "YEAR", "month": "MONTH", "day": "DAY",
		"hour": "HOUR", "minute": "MINUTE", "second": "SECOND",
	}
	// truncFormats are DATE_FORMAT patterns truncating to a unit.
	truncFormats = map[string]string{
		"YEAR":   "%Y-01-01 00:00:00",
		"MONTH":  "%Y-%m-01 00:00:00",
		"DAY":    "%Y-%m-%d 00:00:00",
		"HOUR":   "%Y-%m-%d %H:00:00",
		"MINUTE": "%Y-%m-%d %H:%i:00",
		"SECOND": "%Y-%m-%d %H:%i:%s",
	}
)

var functions = map[string]function{
	"$add":      {n: 1, variadic: true, render: infix(" + ")},
	"$subtract": {n: 2, render: infix(" - ")},
	"$multiply": {n: 1, variadic: true, render: infix(" * ")},
	"$divide":   {n: 2, render: infix(" / ")},
	"$mod":      {n: 2, render: infix(" % ")},
	"$abs":      {n: 1, render: call("abs")},
	"$round":    {n: 2, render: call("round")},
	"$ceil":     {n: 1, render: call("ceil")},
	"$floor":    {n: 1, render: call("floor")},
	"$pow":      {n: 2, render: call("pow")},

	"$gt":  {n: 2, render: infix(" > ")},
	"$gte": {n: 2, render: infix(" >= ")},
	"$lt":  {n: 2, render: infix(" < ")},
	"$lte": {n: 2, render: infix(" <= ")},
	"$eq":  {n: 2, render: infix(" = ")},
	"$ne":  {n: 2, render: infix(" <> ")},

	"$startsWith": {n: 2, render: func(a []string) string { return "(" + a[0] + " like concat(" + a[1] + ", '%'))" }},
	"$endsWith":   {n: 2, render: func(a []string) string { return "(" + a[0] + " like concat('%', " + a[1] + "))" }},
	"$includes":   {n: 2, render: func(a []string) string { return "(" + a[0] + " like concat('%', " + a[1] + ", '%'))" }},
	"$concat":     {n: 1, variadic: true, render: call("concat")},

	"$true":  {render: func([]string) string { return "true" }},
	"$false": {render: func([]string) string { return "false" }},
	"$and":   {n: 1, variadic: true, render: infix(" and ")},
	"$or":    {n: 1, variadic: true, render: infix(" or ")},
	"$not":   {n: 1, render: func(a []string) string { return "not (" + a[0] + ")" }},

	"$year":       {n: 1, render: dateCall("year")},
	"$month":      {n: 1, render: dateCall("month")},
	"$weekday":    {n: 1, render: dateCall("weekday")},
	"$weekOfYear": {n: 1, render: dateCall("weekofyear")},
	"$day":        {n: 1, render: dateCall("day")},
	"$dayOfMonth": {n: 1, render: dateCall("dayofmonth")},
	"$dayOfWeek":  {n: 1, render: dateCall("dayofweek")},
	"$dayOfYear":  {n: 1, render: dateCall("dayofyear")},
	// $dateDiff(a, b, unit) is a minus b in whole units.
	"$dateDiff": {n: 3, units: diffUnits, render: func(a []string) string {
		return "TIMESTAMPDIFF(" + a[2] + ", " + datetime(a[1]) + ", " + datetime(a[0]) + ")"
	}},
	// $dateFloor and $dateCeil return epoch milliseconds of the start of
	// the unit containing the date and of the following unit.
	"$dateFloor": {n: 2, units: truncUnits, render: func(a []string) string {
		return "(UNIX_TIMESTAMP(" + truncate(a[0], a[1]) + ") * 1000)"
	}},
	"$dateCeil": {n: 2, units: truncUnits, render: func(a []string) string {
		return "(UNIX_TIMESTAMP(DATE_ADD(" + truncate(a[0], a[1]) + ", INTERVAL 1 " + a[1] + ")) * 1000)"
	}},

	"$contains": {n: 2, render: call("ST_Contains")},
	"$distance": {n: 2, render: call("ST_Distance")},
}

func infix(op string) func([]string) string {
	return func(a []string) string {
		return "(" + strings.Join(a, op) + ")"
	}
}

func call(name string) func([]string) string {
	return func(a []string) string {
		return name + "(" + strings.Join(a, ", ") + ")"
	}
}

func dateCall(name string) func([]string) string {
	return func(a []string) string {
		return name + "(" + datetime(a[0]) + ")"
	}
}

// datetime converts epoch milliseconds to a DATETIME value.
func datetime(ms string) string {
	return "FROM_UNIXTIME(" + ms + " / 1000)"
}

func truncate(ms, unit string) string {
	return "DATE_FORMAT(" + datetime(ms) + ", " + codec.Quote(truncFormats[unit]) + ")"
}

// expr compiles an expression attached to the tree node at path.
func (s *scope) expr(entity, path string, v any) (string, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, "", "expression must be an object with exactly one function")
	}
	var (
		name string
		arg  any
	)
	for name, arg = range m {
	}
	fn, ok := functions[name]
	if !ok {
		return "", relstore.Structuralf(relstore.ErrUnknownFunction, entity, "", "%s", name)
	}
	operands, isList := arg.([]any)
	switch {
	case isList:
	case fn.n == 0 && !fn.variadic:
		operands = nil
	default:
		operands = []any{arg}
	}
	if n := len(operands); n != fn.n && !(fn.variadic && n >= fn.n) {
		return "", relstore.Structuralf(relstore.ErrArity, entity, "", "%s takes %d operands, got %d", name, fn.n, n)
	}
	args := make([]string, len(operands))
	for i, op := range operands {
		if fn.units != nil && i == len(operands)-1 {
			unit, _ := op.(string)
			kw, ok := fn.units[unit]
			if !ok {
				return "", relstore.Structuralf(relstore.ErrInvalidQuery, entity, "", "%s: invalid unit %v", name, op)
			}
			args[i] = kw
			continue
		}
		a, err := s.operand(entity, path, op)
		if err != nil {
			return "", err
		}
		args[i] = a
	}
	return fn.render(args), nil
}

// operand compiles an attribute reference, a tagged reference, a nested
// expression or a literal.
func (s *scope) operand(entity, path string, v any) (string, error) {
	switch v := v.(type) {
	case map[string]any:
		if name, ok := v[querylanguage.KeyAttr]; ok {
			alias, err := s.alias(entity, path)
			if err != nil {
				return "", err
			}
			return s.reference(entity, alias, name)
		}
		if tag, ok := v[querylanguage.KeyRefID]; ok {
			name, _ := tag.(string)
			alias, target, found := s.tag(name)
			if !found {
				return "", relstore.Structuralf(relstore.ErrInvalidQuery, entity, "", "unknown #id tag %v", tag)
			}
			return s.reference(target, alias, v[querylanguage.KeyRefAttr])
		}
		return s.expr(entity, path, v)
	case []any:
		return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, "", "operand lists are only allowed as function arguments")
	default:
		lit, err := codec.EncodeValue(v)
		if err != nil {
			return "", relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, "", err.Error())
		}
		return lit, nil
	}
}

func (s *scope) reference(entity, alias string, attr any) (string, error) {
	name, ok := attr.(string)
	if !ok || name == "" {
		return "", relstore.Structuralf(relstore.ErrInvalidQuery, entity, "", "attribute reference must be a string, got %T", attr)
	}
	e, err := s.t.schema.Entity(entity)
	if err != nil {
		return "", err
	}
	if _, ok := e.Attribute(name); !ok {
		return "", relstore.NewStructuralError(relstore.ErrUnknownAttribute, entity, name, "")
	}
	return codec.Column(alias, name), nil
}
