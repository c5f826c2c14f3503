package schema

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/syssam/relstore"
)

// RelationKind classifies how an attribute name is resolved on an entity.
type RelationKind uint8

// Relation kinds.
const (
	Scalar RelationKind = iota
	RefTo
	Polymorphic
	OneToMany
)

func (k RelationKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case RefTo:
		return "ref"
	case Polymorphic:
		return "polymorphic"
	case OneToMany:
		return "one-to-many"
	default:
		return fmt.Sprintf("RelationKind(%d)", k)
	}
}

// Relation is the result of classifying an attribute name.
type Relation struct {
	Kind RelationKind
	// Entity is the related entity, empty for scalars.
	Entity string
	// ForeignKey is the column holding the related primary key: the ref
	// attribute for RefTo, entityId for Polymorphic and the child column
	// for OneToMany.
	ForeignKey string
}

// Classifier resolves attribute names to scalar columns or relations.
// Implementations must be pure functions of the schema.
type Classifier interface {
	Classify(s Schema, entity, attr string) (Relation, error)
}

// ClassifierFunc is an adapter to allow the use of ordinary functions as Classifier.
type ClassifierFunc func(s Schema, entity, attr string) (Relation, error)

// Classify calls f(s, entity, attr).
func (f ClassifierFunc) Classify(s Schema, entity, attr string) (Relation, error) {
	return f(s, entity, attr)
}

// DefaultClassifier resolves names by convention:
//
//   - a declared attribute is scalar
//   - "user" is a ref when "userId" is a ref attribute
//   - "mobile" is polymorphic when the entity has entity/entityId and
//     "mobile" is an entity allowed by the discriminator
//   - "token$userId" is the one-to-many inverse of token.userId
var DefaultClassifier Classifier = ClassifierFunc(classify)

var oneToManyRe = regexp.MustCompile(`^(\w+)\$(\w+)$`)

func classify(s Schema, entity, attr string) (Relation, error) {
	e, err := s.Entity(entity)
	if err != nil {
		return Relation{}, err
	}
	if _, ok := e.Attribute(attr); ok {
		return Relation{Kind: Scalar}, nil
	}
	if fk, ok := e.Attribute(attr + "Id"); ok && fk.Type == TypeRef {
		return Relation{Kind: RefTo, Entity: fk.Ref, ForeignKey: attr + "Id"}, nil
	}
	if e.Polymorphic() {
		if _, ok := s[attr]; ok {
			if refs := e.Attributes[Discriminator].Refs; len(refs) == 0 || slices.Contains(refs, attr) {
				return Relation{Kind: Polymorphic, Entity: attr, ForeignKey: DiscriminatorID}, nil
			}
		}
	}
	if m := oneToManyRe.FindStringSubmatch(attr); m != nil {
		if _, ok := s[m[1]]; ok {
			return Relation{Kind: OneToMany, Entity: m[1], ForeignKey: m[2]}, nil
		}
	}
	return Relation{}, relstore.NewStructuralError(relstore.ErrUnknownAttribute, entity, attr, "")
}
