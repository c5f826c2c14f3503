package schema

import (
	"strings"
)

// systemAttributes returns the attributes added to every non-view entity.
func systemAttributes() map[string]*AttributeDef {
	return map[string]*AttributeDef{
		ID:               {Type: TypeChar, Params: Params{Length: 36}, NotNull: true},
		CreateAt:         {Type: TypeDatetime, NotNull: true},
		UpdateAt:         {Type: TypeDatetime, NotNull: true},
		DeleteAt:         {Type: TypeDatetime},
		TriggerData:      {Type: TypeObject},
		TriggerTimestamp: {Type: TypeDatetime},
	}
}

// timestampIndexes are the intrinsic indexes over the audit columns.
var timestampIndexes = []struct{ name, column string }{
	{"index_createAt", CreateAt},
	{"index_updateAt", UpdateAt},
	{"index_deleteAt", DeleteAt},
	{"index_triggerTimestamp", TriggerTimestamp},
}

// Augment returns a full copy of the raw schema with system columns and
// intrinsic indexes added. The raw schema is never modified. Augmenting an
// already augmented schema yields an equal schema.
func Augment(raw Schema) (Schema, error) {
	if err := Validate(raw).Err(); err != nil {
		return nil, err
	}
	s := raw.Clone()
	for _, name := range s.Names() {
		e := s[name]
		if e.StorageName == "" {
			e.StorageName = name
		}
		if e.View {
			continue
		}
		for attr, def := range systemAttributes() {
			e.Attributes[attr] = def
		}
		addIntrinsicIndexes(e)
	}
	return s, nil
}

func addIntrinsicIndexes(e *Entity) {
	add := func(idx *Index) {
		if !e.hasIndex(idx.Name) {
			e.Indexes = append(e.Indexes, idx)
		}
	}
	for _, ts := range timestampIndexes {
		if !e.HasIndexOn(ts.column, IndexPlain) {
			add(&Index{Name: ts.name, Attributes: []string{ts.column}})
		}
	}
	names := e.AttributeNames()
	for _, attr := range names {
		if e.Attributes[attr].Type == TypeRef && !e.HasIndexOn(attr, IndexPlain) {
			add(&Index{Name: "index_" + attr, Attributes: []string{attr}})
		}
	}
	if e.Polymorphic() && !e.HasIndexOn(Discriminator, IndexPlain) {
		add(&Index{
			Name:       "index_" + strings.Join([]string{Discriminator, DiscriminatorID}, "_"),
			Attributes: []string{Discriminator, DiscriminatorID},
		})
	}
	for _, attr := range names {
		if e.Attributes[attr].Type.Spatial() && !e.HasIndexOn(attr, IndexSpatial) {
			add(&Index{Name: "index_" + attr, Attributes: []string{attr}, Type: IndexSpatial})
		}
	}
}
