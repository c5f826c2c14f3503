package codec

import (
	"maps"
	"slices"
	"strings"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/querylanguage"
	"github.com/syssam/relstore/schema"
)

// Hydrator turns flat result rows, keyed by dotted column aliases such as
// "user.nickname", into nested typed objects.
type Hydrator struct {
	schema     schema.Schema
	classifier schema.Classifier
	// renames maps a renamed result alias, as a dotted path, to the
	// attribute it was selected from.
	renames map[string]string
}

// NewHydrator returns a Hydrator for the given augmented schema.
func NewHydrator(s schema.Schema, c schema.Classifier) *Hydrator {
	if c == nil {
		c = schema.DefaultClassifier
	}
	return &Hydrator{schema: s, classifier: c}
}

// Renamed returns a copy of h decoding the given renamed aliases, such as
// {"user.nick": "nickname"}, with the type of their attribute.
func (h *Hydrator) Renamed(renames map[string]string) *Hydrator {
	c := *h
	c.renames = renames
	return &c
}

// HydrateAll hydrates every row. The first failing row aborts the whole result.
func (h *Hydrator) HydrateAll(entity string, rows []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		r, err := h.Hydrate(entity, row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Hydrate nests and decodes one row. Relations whose primary key is null
// are collapsed to nil. A relation whose primary key disagrees with the
// parent's foreign key, or a polymorphic relation whose discriminator
// names another entity, is reported as an *relstore.IntegrityError.
func (h *Hydrator) Hydrate(entity string, row map[string]any) (map[string]any, error) {
	node := Nest(row)
	if err := h.decode(entity, "", node); err != nil {
		return nil, err
	}
	return node, nil
}

// Nest splits dotted keys into nested maps.
func Nest(row map[string]any) map[string]any {
	root := make(map[string]any, len(row))
	for key, v := range row {
		parts := strings.Split(key, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return root
}

func (h *Hydrator) decode(entity, path string, node map[string]any) error {
	e, err := h.schema.Entity(entity)
	if err != nil {
		return err
	}
	keys := slices.Sorted(maps.Keys(node))
	var relations []string
	for _, key := range keys {
		v := node[key]
		if _, ok := v.(map[string]any); ok {
			relations = append(relations, key)
			continue
		}
		if def, ok := h.attribute(e, path, key); ok {
			if node[key], err = Decode(def, v); err != nil {
				return relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, err.Error())
			}
			continue
		}
		if _, ok := querylanguage.IsAggregateKey(key); ok {
			if node[key], err = DecodeNumber(v); err != nil {
				return relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, err.Error())
			}
			continue
		}
		node[key] = Normalize(v)
	}
	for _, key := range relations {
		sub := node[key].(map[string]any)
		if key == querylanguage.KeyAggr {
			if err := h.decode(entity, join(path, key), sub); err != nil {
				return err
			}
			continue
		}
		rel, err := h.classifier.Classify(h.schema, entity, key)
		if err != nil {
			return err
		}
		if rel.Kind != schema.RefTo && rel.Kind != schema.Polymorphic {
			return relstore.NewStructuralError(relstore.ErrInvalidQuery, entity, key, "nested value for non-relation attribute")
		}
		if err := h.decode(rel.Entity, join(path, key), sub); err != nil {
			return err
		}
		id, ok := sub[schema.ID]
		if !ok {
			continue
		}
		if id == nil {
			node[key] = nil
			continue
		}
		if err := check(entity, join(path, key), key, rel, node, id); err != nil {
			return err
		}
	}
	return nil
}

// attribute returns the definition a result key decodes with. A renamed
// alias wins over an attribute of the same name.
func (h *Hydrator) attribute(e *schema.Entity, path, key string) (*schema.AttributeDef, bool) {
	if attr, ok := h.renames[strings.ReplaceAll(join(path, key), "/", ".")]; ok {
		return e.Attribute(attr)
	}
	return e.Attribute(key)
}

func check(entity, path, key string, rel schema.Relation, node map[string]any, id any) error {
	if rel.Kind == schema.Polymorphic {
		if d, ok := node[schema.Discriminator]; ok && d != key {
			return relstore.NewIntegrityError(entity, path, "discriminator is %v, joined entity is %s", d, key)
		}
	}
	if fk, ok := node[rel.ForeignKey]; ok && fk != id {
		return relstore.NewIntegrityError(entity, path, "%s is %v, joined id is %v", rel.ForeignKey, fk, id)
	}
	return nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "/" + key
}
