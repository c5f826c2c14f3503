package querylanguage

import (
	"regexp"
	"strings"
)

// Comparison and membership operators.
const (
	OpGT         = "$gt"
	OpGTE        = "$gte"
	OpLT         = "$lt"
	OpLTE        = "$lte"
	OpEQ         = "$eq"
	OpNE         = "$ne"
	OpStartsWith = "$startsWith"
	OpEndsWith   = "$endsWith"
	OpIncludes   = "$includes"
	OpExists     = "$exists"
	OpIn         = "$in"
	OpNin        = "$nin"
	OpBetween    = "$between"
	OpText       = "$text"
	OpSearch     = "$search"
)

// Logical connectives.
const (
	OpAnd = "$and"
	OpOr  = "$or"
	OpXor = "$xor"
	OpNot = "$not"
)

// Reference keys.
const (
	KeyID      = "#id"
	KeyAttr    = "#attr"
	KeyRefID   = "#refId"
	KeyRefAttr = "#refAttr"
	KeyAggr    = "#aggr"
)

var operators = map[string]bool{
	OpGT: true, OpGTE: true, OpLT: true, OpLTE: true, OpEQ: true, OpNE: true,
	OpStartsWith: true, OpEndsWith: true, OpIncludes: true,
	OpExists: true, OpIn: true, OpNin: true, OpBetween: true,
}

var exprKeyRe = regexp.MustCompile(`^\$expr\d*$`)

// IsOperator reports if key is a comparison or membership operator.
func IsOperator(key string) bool {
	return operators[key]
}

// IsLogical reports if key is a logical connective.
func IsLogical(key string) bool {
	switch key {
	case OpAnd, OpOr, OpXor, OpNot:
		return true
	}
	return false
}

// IsExprKey reports if key holds an expression, e.g. $expr or $expr2.
func IsExprKey(key string) bool {
	return exprKeyRe.MatchString(key)
}

// IsOperatorObject reports if every key of m is a comparison operator.
func IsOperatorObject(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !IsOperator(k) {
			return false
		}
	}
	return true
}

// IsAggregateKey reports if key is an aggregate output key and returns its
// function name, e.g. "count" for "#count-1".
func IsAggregateKey(key string) (string, bool) {
	if !strings.HasPrefix(key, "#") {
		return "", false
	}
	fn, _, _ := strings.Cut(key[1:], "-")
	switch fn {
	case "count", "sum", "max", "min", "avg":
		return fn, true
	}
	return "", false
}

// EQ returns an equality operator object.
func EQ(v any) map[string]any { return map[string]any{OpEQ: v} }

// NE returns an inequality operator object.
func NE(v any) map[string]any { return map[string]any{OpNE: v} }

// GT returns a greater-than operator object.
func GT(v any) map[string]any { return map[string]any{OpGT: v} }

// GTE returns a greater-or-equal operator object.
func GTE(v any) map[string]any { return map[string]any{OpGTE: v} }

// LT returns a less-than operator object.
func LT(v any) map[string]any { return map[string]any{OpLT: v} }

// LTE returns a less-or-equal operator object.
func LTE(v any) map[string]any { return map[string]any{OpLTE: v} }

// StartsWith returns a prefix match operator object.
func StartsWith(s string) map[string]any { return map[string]any{OpStartsWith: s} }

// EndsWith returns a suffix match operator object.
func EndsWith(s string) map[string]any { return map[string]any{OpEndsWith: s} }

// Includes returns a substring match operator object.
func Includes(s string) map[string]any { return map[string]any{OpIncludes: s} }

// Exists returns an existence operator object.
func Exists(b bool) map[string]any { return map[string]any{OpExists: b} }

// In returns a membership operator object. A single *SubQuery argument
// selects the values from another entity.
func In(vs ...any) map[string]any { return map[string]any{OpIn: membership(vs)} }

// NotIn returns a negated membership operator object.
func NotIn(vs ...any) map[string]any { return map[string]any{OpNin: membership(vs)} }

// Between returns a range operator object.
func Between(lo, hi any) map[string]any { return map[string]any{OpBetween: []any{lo, hi}} }

// Search returns the value of a $text key.
func Search(s string) map[string]any { return map[string]any{OpSearch: s} }

func membership(vs []any) any {
	if len(vs) == 1 {
		if sq, ok := vs[0].(*SubQuery); ok {
			return sq
		}
	}
	if vs == nil {
		vs = []any{}
	}
	return vs
}

// And returns a filter joining the given filters with AND.
func And(fs ...Filter) Filter { return Filter{OpAnd: fs} }

// Or returns a filter joining the given filters with OR.
func Or(fs ...Filter) Filter { return Filter{OpOr: fs} }

// Xor returns a filter joining the given filters with XOR.
func Xor(fs ...Filter) Filter { return Filter{OpXor: fs} }

// Not returns the negation of f.
func Not(f Filter) Filter { return Filter{OpNot: f} }

// Asc returns an ascending sort item over the given path.
func Asc(path ...string) SortItem { return SortItem{Attr: Path(path...), Direction: Ascending} }

// Desc returns a descending sort item over the given path.
func Desc(path ...string) SortItem { return SortItem{Attr: Path(path...), Direction: Descending} }

// Path builds a single-path tree, e.g. Path("user", "name") returns
// {"user": {"name": 1}}.
func Path(path ...string) map[string]any {
	if len(path) == 0 {
		return map[string]any{}
	}
	var node any = 1
	for i := len(path) - 1; i > 0; i-- {
		node = map[string]any{path[i]: node}
	}
	return map[string]any{path[0]: node}
}
