// Package schema defines the entity model consumed by every compiler:
// entities, typed attributes, indexes and the closed DataType enumeration.
//
// A raw schema is usually loaded from YAML or JSON:
//
//	user:
//	  attributes:
//	    name: {type: varchar, params: {length: 32}}
//	    nickname: {type: varchar, params: {length: 32}}
//	token:
//	  attributes:
//	    userId: {type: ref, ref: user}
//	    entity: {type: varchar, params: {length: 32}, refs: [mobile]}
//	    entityId: {type: varchar, params: {length: 64}}
//
// and must be passed through Augment before use, which adds the system
// columns (id, $$createAt$$, $$updateAt$$, $$deleteAt$$, $$triggerData$$,
// $$triggerTimestamp$$) and the intrinsic indexes.
//
// Attribute names that are not columns are resolved by a Classifier. The
// DefaultClassifier understands "<name>Id" references and entity/entityId
// polymorphic pairs.
package schema
