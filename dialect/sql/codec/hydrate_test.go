package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/schema"
)

func hydrationSchema(t *testing.T) schema.Schema {
	t.Helper()
	s, err := schema.Augment(schema.Schema{
		"user": {
			Attributes: map[string]*schema.AttributeDef{
				"name":     {Type: schema.TypeVarchar, Params: schema.Params{Length: 32}},
				"age":      {Type: schema.TypeInt},
				"location": {Type: schema.TypePoint},
			},
		},
		"mobile": {
			Attributes: map[string]*schema.AttributeDef{
				"mobile": {Type: schema.TypeVarchar, Params: schema.Params{Length: 16}},
			},
		},
		"email": {
			Attributes: map[string]*schema.AttributeDef{
				"email": {Type: schema.TypeVarchar, Params: schema.Params{Length: 64}},
			},
		},
		"token": {
			Attributes: map[string]*schema.AttributeDef{
				"userId":   {Type: schema.TypeRef, Ref: "user"},
				"entity":   {Type: schema.TypeVarchar, Params: schema.Params{Length: 32}, Refs: []string{"mobile", "email"}},
				"entityId": {Type: schema.TypeVarchar, Params: schema.Params{Length: 64}},
			},
		},
	})
	require.NoError(t, err)
	return s
}

func TestNest(t *testing.T) {
	got := Nest(map[string]any{
		"id":             "t1",
		"user.id":        "u1",
		"user.org.name":  "acme",
		"user.org.id":    "o1",
		"#aggr.userId":   "u1",
		"#count-1":       int64(2),
		"user.createdAt": nil,
	})
	assert.Equal(t, map[string]any{
		"id": "t1",
		"user": map[string]any{
			"id":        "u1",
			"createdAt": nil,
			"org":       map[string]any{"name": "acme", "id": "o1"},
		},
		"#aggr":    map[string]any{"userId": "u1"},
		"#count-1": int64(2),
	}, got)
}

func TestHydrate(t *testing.T) {
	h := NewHydrator(hydrationSchema(t), nil)

	t.Run("ref", func(t *testing.T) {
		got, err := h.Hydrate("token", map[string]any{
			"id":            []byte("t1"),
			"userId":        []byte("u1"),
			"$$createAt$$":  []byte("1700000000000"),
			"user.id":       []byte("u1"),
			"user.name":     []byte("xc"),
			"user.age":      int64(30),
			"user.nickname": []byte("unknown columns pass through"),
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"id":           "t1",
			"userId":       "u1",
			"$$createAt$$": time.UnixMilli(1700000000000).UTC(),
			"user": map[string]any{
				"id":       "u1",
				"name":     "xc",
				"age":      int64(30),
				"nickname": "unknown columns pass through",
			},
		}, got)
	})

	t.Run("null relation", func(t *testing.T) {
		got, err := h.Hydrate("token", map[string]any{
			"id":        "t1",
			"userId":    nil,
			"user.id":   nil,
			"user.name": nil,
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": "t1", "userId": nil, "user": nil}, got)
	})

	t.Run("foreign key mismatch", func(t *testing.T) {
		_, err := h.Hydrate("token", map[string]any{
			"id":      "t1",
			"userId":  "u1",
			"user.id": "u2",
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, relstore.ErrIntegrity))
		var ierr *relstore.IntegrityError
		require.True(t, errors.As(err, &ierr))
		assert.Equal(t, "token", ierr.Entity)
		assert.Equal(t, "user", ierr.Path)
	})

	t.Run("polymorphic", func(t *testing.T) {
		got, err := h.Hydrate("token", map[string]any{
			"id":            "t1",
			"entity":        "mobile",
			"entityId":      "m1",
			"mobile.id":     "m1",
			"mobile.mobile": "13800000000",
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": "m1", "mobile": "13800000000"}, got["mobile"])
	})

	t.Run("polymorphic discriminator mismatch", func(t *testing.T) {
		_, err := h.Hydrate("token", map[string]any{
			"id":          "t1",
			"entity":      "mobile",
			"entityId":    "e1",
			"email.id":    "e1",
			"email.email": "a@b.c",
		})
		require.Error(t, err)
		assert.True(t, relstore.IsIntegrityError(err))
		assert.Contains(t, err.Error(), "discriminator")
	})

	t.Run("aggregate", func(t *testing.T) {
		got, err := h.Hydrate("token", map[string]any{
			"#aggr.userId": []byte("u1"),
			"#count-1":     []byte("3"),
			"#avg-1":       []byte("2.5000"),
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"#aggr":    map[string]any{"userId": "u1"},
			"#count-1": int64(3),
			"#avg-1":   2.5,
		}, got)
	})

	t.Run("renamed", func(t *testing.T) {
		tests := []struct {
			name    string
			entity  string
			renames map[string]string
			row     map[string]any
			want    map[string]any
		}{
			{
				name:    "temporal",
				entity:  "user",
				renames: map[string]string{"created": schema.CreateAt},
				row:     map[string]any{"id": "u1", "created": []byte("1700000000000")},
				want:    map[string]any{"id": "u1", "created": time.UnixMilli(1700000000000).UTC()},
			},
			{
				name:    "geometry",
				entity:  "user",
				renames: map[string]string{"loc": "location"},
				row:     map[string]any{"id": "u1", "loc": []byte("POINT(1 2)")},
				want:    map[string]any{"id": "u1", "loc": NewPoint(1, 2)},
			},
			{
				name:    "integer",
				entity:  "user",
				renames: map[string]string{"years": "age"},
				row:     map[string]any{"id": "u1", "years": "42"},
				want:    map[string]any{"id": "u1", "years": int64(42)},
			},
			{
				name:    "shadows attribute",
				entity:  "user",
				renames: map[string]string{"name": "age"},
				row:     map[string]any{"id": "u1", "name": []byte("7")},
				want:    map[string]any{"id": "u1", "name": int64(7)},
			},
			{
				name:    "nested",
				entity:  "token",
				renames: map[string]string{"user.loc": "location"},
				row:     map[string]any{"id": "t1", "userId": "u1", "user.id": "u1", "user.loc": "POINT(3 4)"},
				want:    map[string]any{"id": "t1", "userId": "u1", "user": map[string]any{"id": "u1", "loc": NewPoint(3, 4)}},
			},
			{
				name:    "group",
				entity:  "user",
				renames: map[string]string{"#aggr.years": "age"},
				row:     map[string]any{"#aggr.years": []byte("30"), "#count-1": []byte("2")},
				want:    map[string]any{"#aggr": map[string]any{"years": int64(30)}, "#count-1": int64(2)},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := h.Renamed(tt.renames).Hydrate(tt.entity, tt.row)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
		got, err := h.Hydrate("user", map[string]any{"loc": []byte("POINT(1 2)")})
		require.NoError(t, err)
		assert.Equal(t, "POINT(1 2)", got["loc"], "the receiver is not changed")
	})

	t.Run("nested value on scalar", func(t *testing.T) {
		_, err := h.Hydrate("token", map[string]any{"userId.id": "u1"})
		assert.True(t, errors.Is(err, relstore.ErrInvalidQuery))
	})

	t.Run("bad value", func(t *testing.T) {
		_, err := h.Hydrate("user", map[string]any{"age": []byte("old")})
		assert.True(t, relstore.IsStructuralError(err))
	})

	t.Run("all rows", func(t *testing.T) {
		rows, err := h.HydrateAll("user", []map[string]any{
			{"id": "u1", "age": int64(1)},
			{"id": "u2", "age": int64(2)},
		})
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		_, err = h.HydrateAll("user", []map[string]any{
			{"id": "u1", "age": int64(1)},
			{"id": "u2", "age": "x"},
		})
		assert.Error(t, err)
	})
}
