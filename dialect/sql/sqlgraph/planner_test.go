package sqlgraph

import (
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/querylanguage"
	"github.com/syssam/relstore/schema"
)

func testSchema(t *testing.T) schema.Schema {
	t.Helper()
	s, err := schema.Augment(schema.Schema{
		"user": {
			Attributes: map[string]*schema.AttributeDef{
				"name":     {Type: schema.TypeVarchar, Params: schema.Params{Length: 32}},
				"nickname": {Type: schema.TypeVarchar, Params: schema.Params{Length: 32}},
				"orgId":    {Type: schema.TypeRef, Ref: "org"},
			},
		},
		"org": {
			Attributes: map[string]*schema.AttributeDef{
				"name": {Type: schema.TypeVarchar},
			},
			StorageName: "organization",
		},
		"mobile": {
			Attributes: map[string]*schema.AttributeDef{
				"mobile": {Type: schema.TypeVarchar, Params: schema.Params{Length: 16}},
			},
		},
		"token": {
			Attributes: map[string]*schema.AttributeDef{
				"userId":   {Type: schema.TypeRef, Ref: "user"},
				"entity":   {Type: schema.TypeVarchar, Params: schema.Params{Length: 32}, Refs: []string{"mobile"}},
				"entityId": {Type: schema.TypeVarchar, Params: schema.Params{Length: 64}},
			},
		},
	})
	require.NoError(t, err)
	return s
}

func TestPlanner(t *testing.T) {
	s := testSchema(t)

	t.Run("shared alias", func(t *testing.T) {
		p, err := NewPlanner(s, nil, "token")
		require.NoError(t, err)
		require.NoError(t, p.Projection(querylanguage.Projection{
			"id":   1,
			"user": querylanguage.Projection{"nickname": 1},
		}))
		require.NoError(t, p.Filter(querylanguage.Filter{
			"user": querylanguage.Filter{"name": querylanguage.Includes("xc")},
		}))
		require.NoError(t, p.Sorter([]querylanguage.SortItem{querylanguage.Desc("user", "name")}))

		plan := p.Plan()
		assert.Equal(t, "token_1", plan.Alias)
		assert.Equal(t, map[string]string{"": "token_1", "user": "user_2"}, plan.AliasDict)
		assert.Equal(t, map[string]string{"token_1": "token", "user_2": "user"}, plan.AliasEntity)
		assert.Equal(t, "`token` AS `token_1` LEFT JOIN `user` AS `user_2` ON `token_1`.`userId` = `user_2`.`id`", plan.From())
		assert.Equal(t, "`token` AS `token_1`", plan.Table())
		assert.True(t, plan.Joined())
		assert.Empty(t, plan.Where())
	})

	t.Run("nested", func(t *testing.T) {
		p, err := NewPlanner(s, nil, "token")
		require.NoError(t, err)
		require.NoError(t, p.Projection(querylanguage.Projection{
			"user": querylanguage.Projection{"org": querylanguage.Projection{"name": 1, "#id": "o"}},
		}))
		plan := p.Plan()
		assert.Equal(t, "`token` AS `token_1` "+
			"LEFT JOIN `user` AS `user_2` ON `token_1`.`userId` = `user_2`.`id` "+
			"LEFT JOIN `organization` AS `org_3` ON `user_2`.`orgId` = `org_3`.`id`", plan.From())
		alias, ok := plan.Lookup("user/org")
		require.True(t, ok)
		assert.Equal(t, "org_3", alias)
		assert.Equal(t, map[string]string{"o": "org_3"}, plan.ProjectionRefAlias)
	})

	t.Run("polymorphic", func(t *testing.T) {
		p, err := NewPlanner(s, nil, "token")
		require.NoError(t, err)
		require.NoError(t, p.Filter(querylanguage.Filter{
			querylanguage.OpOr: []querylanguage.Filter{
				{"mobile": querylanguage.Filter{"mobile": "13800000000"}},
				{"userId": "u1"},
			},
		}))
		plan := p.Plan()
		assert.Equal(t, "`token` AS `token_1` LEFT JOIN `mobile` AS `mobile_2` ON `token_1`.`entityId` = `mobile_2`.`id`", plan.From())
		assert.Equal(t, []string{"`token_1`.`entity` = 'mobile'"}, plan.ExtraWhere)
		assert.Equal(t, "`token_1`.`entity` = 'mobile'", plan.Where())
	})

	t.Run("shared counter", func(t *testing.T) {
		p, err := NewPlanner(s, nil, "token")
		require.NoError(t, err)
		sub, err := NewPlanner(s, nil, "user", WithCounter(p.Counter()))
		require.NoError(t, err)
		assert.Equal(t, "user_2", sub.Plan().Alias)
		require.NoError(t, p.Projection(querylanguage.Projection{"user": querylanguage.Projection{"name": 1}}))
		assert.Equal(t, "user_3", p.Plan().AliasDict["user"])
	})

	t.Run("index hints", func(t *testing.T) {
		p, err := NewPlanner(s, nil, "token", WithHint(&querylanguage.Hint{
			IndexHints: map[string][]string{
				"":     {"index_userId"},
				"user": {"index_name", "index_deleteAt"},
			},
		}))
		require.NoError(t, err)
		require.NoError(t, p.Projection(querylanguage.Projection{"user": querylanguage.Projection{"name": 1}}))
		assert.Equal(t, "`token` AS `token_1` FORCE INDEX (`index_userId`) "+
			"LEFT JOIN `user` AS `user_2` FORCE INDEX (`index_name`, `index_deleteAt`) ON `token_1`.`userId` = `user_2`.`id`",
			p.Plan().From())
	})
}

func TestPlannerIndexHintMode(t *testing.T) {
	p, err := NewPlanner(testSchema(t), nil, "user", WithHint(&querylanguage.Hint{
		Mode:       querylanguage.IgnoreIndex,
		IndexHints: map[string][]string{"": {"index_name"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, "`user` AS `user_1` IGNORE INDEX (`index_name`)", p.Plan().From())
}

func TestPlannerErrors(t *testing.T) {
	s := testSchema(t)
	tests := []struct {
		name string
		run  func(*Planner) error
		want error
	}{
		{
			name: "one to many",
			run: func(p *Planner) error {
				return p.Projection(querylanguage.Projection{"token$userId": querylanguage.Projection{"id": 1}})
			},
			want: relstore.ErrOneToMany,
		},
		{
			name: "unknown attribute",
			run: func(p *Planner) error {
				return p.Filter(querylanguage.Filter{"email": "x"})
			},
			want: relstore.ErrUnknownAttribute,
		},
		{
			name: "scalar relation value",
			run: func(p *Planner) error {
				return p.Filter(querylanguage.Filter{"user": "u1"})
			},
			want: relstore.ErrInvalidQuery,
		},
		{
			name: "relation projected as scalar",
			run: func(p *Planner) error {
				return p.Projection(querylanguage.Projection{"user": 1})
			},
			want: relstore.ErrInvalidQuery,
		},
		{
			name: "nested projection on scalar",
			run: func(p *Planner) error {
				return p.Projection(querylanguage.Projection{"userId": querylanguage.Projection{"id": 1}})
			},
			want: relstore.ErrInvalidQuery,
		},
		{
			name: "sort by relation",
			run: func(p *Planner) error {
				return p.Sorter([]querylanguage.SortItem{querylanguage.Asc("user")})
			},
			want: relstore.ErrInvalidQuery,
		},
		{
			name: "bad logical operand",
			run: func(p *Planner) error {
				return p.Filter(querylanguage.Filter{querylanguage.OpAnd: "x"})
			},
			want: relstore.ErrInvalidQuery,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPlanner(s, nil, "token")
			require.NoError(t, err)
			err = tt.run(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := NewPlanner(s, nil, "nope")
	assert.True(t, errors.Is(err, relstore.ErrUnknownEntity))
}

func TestFilters(t *testing.T) {
	fs, err := Filters([]any{map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.Len(t, fs, 1)
	fs, err = Filters(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Len(t, fs, 1)
	_, err = Filters([]any{1})
	assert.Error(t, err)
}

func TestConstraintErrors(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a' for key 'name'"}
	fk := &mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"}
	check := &mysql.MySQLError{Number: 3819, Message: "Check constraint is violated"}
	wrapped := relstore.NewExecError("INSERT INTO `user` ...", dup)

	assert.True(t, IsUniqueConstraintError(dup))
	assert.True(t, IsUniqueConstraintError(wrapped))
	assert.False(t, IsUniqueConstraintError(fk))
	assert.True(t, IsForeignKeyConstraintError(fk))
	assert.True(t, IsCheckConstraintError(check))
	assert.True(t, IsConstraintError(wrapped))
	assert.True(t, IsUniqueConstraintError(errors.New("Error 1062 (23000): Duplicate entry")))
	assert.False(t, IsConstraintError(errors.New("connection refused")))
	assert.False(t, IsConstraintError(nil))
}
