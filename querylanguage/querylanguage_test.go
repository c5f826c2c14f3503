package querylanguage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		key      string
		operator bool
		logical  bool
		expr     bool
	}{
		{key: "$gt", operator: true},
		{key: "$in", operator: true},
		{key: "$between", operator: true},
		{key: "$and", logical: true},
		{key: "$not", logical: true},
		{key: "$expr", expr: true},
		{key: "$expr12", expr: true},
		{key: "$exprx"},
		{key: "$text"},
		{key: "name"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.operator, IsOperator(tt.key))
			assert.Equal(t, tt.logical, IsLogical(tt.key))
			assert.Equal(t, tt.expr, IsExprKey(tt.key))
		})
	}
}

func TestIsOperatorObject(t *testing.T) {
	assert.True(t, IsOperatorObject(GT(1)))
	assert.True(t, IsOperatorObject(map[string]any{"$gte": 1, "$lt": 5}))
	assert.False(t, IsOperatorObject(map[string]any{"name": "x"}))
	assert.False(t, IsOperatorObject(Or(Filter{"name": "x"})))
	assert.False(t, IsOperatorObject(map[string]any{}))
}

func TestIsAggregateKey(t *testing.T) {
	fn, ok := IsAggregateKey("#count-1")
	assert.True(t, ok)
	assert.Equal(t, "count", fn)
	fn, ok = IsAggregateKey("#avg")
	assert.True(t, ok)
	assert.Equal(t, "avg", fn)
	_, ok = IsAggregateKey("#aggr")
	assert.False(t, ok)
	_, ok = IsAggregateKey("count-1")
	assert.False(t, ok)
}

func TestBuilders(t *testing.T) {
	assert.Equal(t, map[string]any{"$in": []any{"a", "b"}}, In("a", "b"))
	assert.Equal(t, map[string]any{"$nin": []any{}}, NotIn())
	sq := &SubQuery{Entity: "user", Filter: Filter{"name": "xc"}}
	assert.Equal(t, map[string]any{"$in": sq}, In(sq))
	assert.Equal(t, map[string]any{"$between": []any{1, 5}}, Between(1, 5))
	assert.Equal(t, Filter{"$or": []Filter{{"a": 1}, {"b": 2}}}, Or(Filter{"a": 1}, Filter{"b": 2}))
	assert.Equal(t, Filter{"$not": Filter{"a": 1}}, Not(Filter{"a": 1}))
	assert.Equal(t, map[string]any{"user": map[string]any{"name": 1}}, Path("user", "name"))
	assert.Equal(t, SortItem{Attr: map[string]any{"name": 1}, Direction: "desc"}, Desc("name"))
	assert.Equal(t, Expression{"$abs": map[string]any{"#attr": "n"}}, Fn("$abs", Attr("n")))
	assert.Equal(t, Expression{"$add": []any{map[string]any{"#attr": "n"}, 1}}, Fn("$add", Attr("n"), 1))
	assert.Equal(t, map[string]any{"#refId": "u", "#refAttr": "name"}, RefAttr("u", "name"))
}

func TestRestricted(t *testing.T) {
	assert.False(t, (&Update{Filter: Filter{"id": "a"}}).Restricted())
	assert.True(t, (&Update{Count: 10}).Restricted())
	assert.True(t, (&Remove{Sorter: []SortItem{Asc("name")}}).Restricted())
	assert.False(t, (&Remove{}).Restricted())
}
