package schema

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/syssam/relstore"
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Entity    string
	Attribute string
	Message   string
	// Kind is the sentinel reported when the error aborts Augment.
	Kind error
}

func (e *ValidationError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("%s.%s: %s", e.Entity, e.Attribute, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

// ValidationResult holds the results of schema validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Err converts the first validation error into a structural error.
func (r *ValidationResult) Err() error {
	if !r.HasErrors() {
		return nil
	}
	e := r.Errors[0]
	kind := e.Kind
	if kind == nil {
		kind = relstore.ErrInvalidSchema
	}
	return relstore.NewStructuralError(kind, e.Entity, e.Attribute, e.Message)
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range r.Errors {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			sb.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  - ")
			sb.WriteString(w.Error())
			sb.WriteString("\n")
		}
	}
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

// Validate checks a raw or augmented schema without failing fast. System
// columns are accepted in index definitions even before augmentation.
func Validate(s Schema) *ValidationResult {
	result := &ValidationResult{}
	for _, name := range s.Names() {
		validateEntity(s, name, s[name], result)
	}
	return result
}

func validateEntity(s Schema, name string, e *Entity, result *ValidationResult) {
	if e == nil {
		result.Errors = append(result.Errors, &ValidationError{Entity: name, Message: "entity has no definition"})
		return
	}
	if len(e.Attributes) == 0 {
		result.Warnings = append(result.Warnings, &ValidationError{Entity: name, Message: "entity has no attributes"})
	}
	var sequences []string
	system := systemAttributes()
	for _, attr := range e.AttributeNames() {
		a := e.Attributes[attr]
		if a == nil {
			result.Errors = append(result.Errors, &ValidationError{Entity: name, Attribute: attr, Message: "attribute has no definition"})
			continue
		}
		// An augmented entity carries the system columns unchanged.
		if def, ok := system[attr]; ok && !e.View && !reflect.DeepEqual(a, def) {
			result.Errors = append(result.Errors, &ValidationError{Entity: name, Attribute: attr, Message: "attribute collides with a system column"})
			continue
		}
		if a.AutoIncrement() {
			sequences = append(sequences, attr)
		}
		validateAttribute(s, name, attr, a, result)
	}
	if len(sequences) > 1 {
		result.Errors = append(result.Errors, &ValidationError{
			Entity:  name,
			Message: fmt.Sprintf("sequence columns %s, only one is allowed", strings.Join(sequences, ", ")),
			Kind:    relstore.ErrSequence,
		})
	}

	names := make(map[string]bool)
	for _, idx := range e.Indexes {
		if idx.Name == "" {
			result.Errors = append(result.Errors, &ValidationError{Entity: name, Message: "index without a name"})
			continue
		}
		if names[idx.Name] {
			result.Errors = append(result.Errors, &ValidationError{Entity: name, Message: fmt.Sprintf("duplicate index name: %s", idx.Name)})
		}
		names[idx.Name] = true
		if len(idx.Attributes) == 0 {
			result.Errors = append(result.Errors, &ValidationError{Entity: name, Message: fmt.Sprintf("index %q has no attributes", idx.Name)})
		}
		for _, attr := range idx.Attributes {
			if _, ok := e.Attributes[attr]; !ok && !IsSystemColumn(attr) {
				result.Errors = append(result.Errors, &ValidationError{
					Entity:    name,
					Attribute: attr,
					Message:   fmt.Sprintf("index %q references non-existent attribute", idx.Name),
					Kind:      relstore.ErrUnknownAttribute,
				})
			}
		}
		switch idx.Type {
		case IndexPlain, IndexUnique, IndexFulltext, IndexSpatial, IndexHash:
		default:
			result.Errors = append(result.Errors, &ValidationError{Entity: name, Message: fmt.Sprintf("index %q has unknown type %q", idx.Name, idx.Type)})
		}
		if idx.Parser != "" && idx.Type != IndexFulltext {
			result.Warnings = append(result.Warnings, &ValidationError{Entity: name, Message: fmt.Sprintf("index %q parser is ignored for non-fulltext index", idx.Name)})
		}
	}
}

func validateAttribute(s Schema, entity, attr string, a *AttributeDef, result *ValidationResult) {
	if !a.Type.Valid() {
		result.Errors = append(result.Errors, &ValidationError{Entity: entity, Attribute: attr, Message: "invalid data type"})
		return
	}
	switch a.Type {
	case TypeRef:
		if a.Ref == "" {
			result.Errors = append(result.Errors, &ValidationError{Entity: entity, Attribute: attr, Message: "ref attribute without target entity"})
		} else if _, ok := s[a.Ref]; !ok {
			result.Errors = append(result.Errors, &ValidationError{
				Entity:    entity,
				Attribute: attr,
				Message:   fmt.Sprintf("ref targets non-existent entity %q", a.Ref),
				Kind:      relstore.ErrUnknownEntity,
			})
		}
	case TypeEnum:
		if len(a.Values) == 0 {
			result.Errors = append(result.Errors, &ValidationError{Entity: entity, Attribute: attr, Message: "enum attribute without values"})
		}
	case TypeInt:
		if a.Params.Width < 0 || a.Params.Width > 8 {
			result.Errors = append(result.Errors, &ValidationError{Entity: entity, Attribute: attr, Message: fmt.Sprintf("integer width %d out of range", a.Params.Width)})
		}
	}
	if a.Params.Length > 0 && a.Type.Family() != FamilyString {
		result.Warnings = append(result.Warnings, &ValidationError{Entity: entity, Attribute: attr, Message: "length is ignored for non-string type"})
	}
	if a.Params.Scale > a.Params.Precision && a.Params.Precision > 0 {
		result.Errors = append(result.Errors, &ValidationError{Entity: entity, Attribute: attr, Message: "scale exceeds precision"})
	}
	if a.Sequence && a.Type.Family() != FamilyInteger {
		result.Errors = append(result.Errors, &ValidationError{Entity: entity, Attribute: attr, Message: "sequence on non-integer attribute"})
	}
	for _, ref := range a.Refs {
		if _, ok := s[ref]; !ok {
			result.Errors = append(result.Errors, &ValidationError{
				Entity:    entity,
				Attribute: attr,
				Message:   fmt.Sprintf("discriminator names non-existent entity %q", ref),
				Kind:      relstore.ErrUnknownEntity,
			})
		}
	}
	if len(a.Refs) > 0 && attr != Discriminator {
		result.Warnings = append(result.Warnings, &ValidationError{Entity: entity, Attribute: attr, Message: "refs is only used on the entity discriminator"})
	}
	if a.Default != nil && a.Type == TypeEnum && len(a.Values) > 0 {
		if v, ok := a.Default.(string); ok && !slices.Contains(a.Values, v) {
			result.Errors = append(result.Errors, &ValidationError{Entity: entity, Attribute: attr, Message: fmt.Sprintf("default %q is not an enum value", v)})
		}
	}
}
