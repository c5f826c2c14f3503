package schema

import (
	"maps"
	"slices"
	"sort"

	"github.com/syssam/relstore"
)

// System column names. They are added by Augment to every non-view entity.
const (
	ID               = "id"
	CreateAt         = "$$createAt$$"
	UpdateAt         = "$$updateAt$$"
	DeleteAt         = "$$deleteAt$$"
	TriggerData      = "$$triggerData$$"
	TriggerTimestamp = "$$triggerTimestamp$$"
)

// Discriminator attributes of a polymorphic relation.
const (
	Discriminator   = "entity"
	DiscriminatorID = "entityId"
)

// trailingColumns are the system columns placed after user attributes.
var trailingColumns = []string{CreateAt, UpdateAt, DeleteAt, TriggerData, TriggerTimestamp}

// IsSystemColumn reports if name is one of the system columns.
func IsSystemColumn(name string) bool {
	return name == ID || slices.Contains(trailingColumns, name)
}

// Schema maps entity names to their definitions.
type Schema map[string]*Entity

// Entity is a named collection of typed attributes, stored as one table.
type Entity struct {
	Attributes  map[string]*AttributeDef `yaml:"attributes" json:"attributes"`
	Indexes     []*Index                 `yaml:"indexes,omitempty" json:"indexes,omitempty"`
	StorageName string                   `yaml:"storageName,omitempty" json:"storageName,omitempty"`
	View        bool                     `yaml:"view,omitempty" json:"view,omitempty"`
}

// Params holds type dependent attribute parameters.
type Params struct {
	Length    int `yaml:"length,omitempty" json:"length,omitempty"`
	Precision int `yaml:"precision,omitempty" json:"precision,omitempty"`
	Scale     int `yaml:"scale,omitempty" json:"scale,omitempty"`
	Width     int `yaml:"width,omitempty" json:"width,omitempty"` // bytes, for TypeInt
}

// AttributeDef describes one attribute of an entity.
type AttributeDef struct {
	Type     DataType `yaml:"type" json:"type"`
	Params   Params   `yaml:"params,omitempty" json:"params,omitempty"`
	NotNull  bool     `yaml:"notNull,omitempty" json:"notNull,omitempty"`
	Unique   bool     `yaml:"unique,omitempty" json:"unique,omitempty"`
	Default  any      `yaml:"default,omitempty" json:"default,omitempty"`
	Sequence bool     `yaml:"sequence,omitempty" json:"sequence,omitempty"`
	// Ref is the target entity of a TypeRef attribute.
	Ref string `yaml:"ref,omitempty" json:"ref,omitempty"`
	// Refs limits the entities a polymorphic discriminator may name.
	// An empty list allows every entity of the schema.
	Refs []string `yaml:"refs,omitempty" json:"refs,omitempty"`
	// Values lists the members of a TypeEnum attribute.
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`
}

// AutoIncrement reports if the attribute is backed by an auto-increment column.
func (a *AttributeDef) AutoIncrement() bool {
	return a.Sequence || a.Type == TypeSequence
}

// IndexType is the kind of an index.
type IndexType string

// Index types.
const (
	IndexPlain    IndexType = ""
	IndexUnique   IndexType = "unique"
	IndexFulltext IndexType = "fulltext"
	IndexSpatial  IndexType = "spatial"
	IndexHash     IndexType = "hash"
)

// Special reports if the index kind keeps its own column list, without the
// soft delete column appended.
func (t IndexType) Special() bool {
	return t == IndexFulltext || t == IndexSpatial
}

// Index describes an index over one or more attributes.
type Index struct {
	Name       string    `yaml:"name" json:"name"`
	Attributes []string  `yaml:"attributes" json:"attributes"`
	Type       IndexType `yaml:"type,omitempty" json:"type,omitempty"`
	// Parser is the fulltext parser, e.g. ngram.
	Parser string `yaml:"parser,omitempty" json:"parser,omitempty"`
}

// Entity returns the entity with the given name.
func (s Schema) Entity(name string) (*Entity, error) {
	e, ok := s[name]
	if !ok || e == nil {
		return nil, relstore.NewStructuralError(relstore.ErrUnknownEntity, name, "", "")
	}
	return e, nil
}

// Names returns the entity names in sorted order.
func (s Schema) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	c := make(Schema, len(s))
	for name, e := range s {
		c[name] = e.Clone()
	}
	return c
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := &Entity{
		Attributes:  make(map[string]*AttributeDef, len(e.Attributes)),
		Indexes:     make([]*Index, 0, len(e.Indexes)),
		StorageName: e.StorageName,
		View:        e.View,
	}
	for name, a := range e.Attributes {
		c.Attributes[name] = a.Clone()
	}
	for _, idx := range e.Indexes {
		c.Indexes = append(c.Indexes, idx.Clone())
	}
	return c
}

// Clone returns a deep copy of the attribute.
func (a *AttributeDef) Clone() *AttributeDef {
	if a == nil {
		return nil
	}
	c := *a
	c.Refs = slices.Clone(a.Refs)
	c.Values = slices.Clone(a.Values)
	c.Default = cloneValue(a.Default)
	return &c
}

// Clone returns a deep copy of the index.
func (i *Index) Clone() *Index {
	if i == nil {
		return nil
	}
	c := *i
	c.Attributes = slices.Clone(i.Attributes)
	return &c
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(v))
		for i, e := range v {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Attribute returns the attribute with the given name.
func (e *Entity) Attribute(name string) (*AttributeDef, bool) {
	a, ok := e.Attributes[name]
	return a, ok && a != nil
}

// AttributeNames returns the attribute names in column order: the primary
// key first, then user attributes sorted by name, then the remaining system
// columns in a fixed order.
func (e *Entity) AttributeNames() []string {
	names := make([]string, 0, len(e.Attributes))
	if _, ok := e.Attributes[ID]; ok {
		names = append(names, ID)
	}
	var user []string
	for name := range e.Attributes {
		if !IsSystemColumn(name) {
			user = append(user, name)
		}
	}
	sort.Strings(user)
	names = append(names, user...)
	for _, name := range trailingColumns {
		if _, ok := e.Attributes[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Polymorphic reports if the entity carries an (entity, entityId) pair.
func (e *Entity) Polymorphic() bool {
	_, d := e.Attributes[Discriminator]
	_, id := e.Attributes[DiscriminatorID]
	return d && id
}

// FulltextIndex returns the first fulltext index of the entity.
func (e *Entity) FulltextIndex() (*Index, bool) {
	for _, idx := range e.Indexes {
		if idx.Type == IndexFulltext {
			return idx, true
		}
	}
	return nil, false
}

// HasIndexOn reports if an index of the given kind starts with attr.
// An empty kind matches every non-special index.
func (e *Entity) HasIndexOn(attr string, kind IndexType) bool {
	for _, idx := range e.Indexes {
		if len(idx.Attributes) == 0 || idx.Attributes[0] != attr {
			continue
		}
		if (kind == "" && !idx.Type.Special()) || idx.Type == kind {
			return true
		}
	}
	return false
}

func (e *Entity) hasIndex(name string) bool {
	for _, idx := range e.Indexes {
		if idx.Name == name {
			return true
		}
	}
	return false
}
