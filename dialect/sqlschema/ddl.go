// Package sqlschema generates MySQL DDL for augmented entity schemas.
//
// Every entity maps to one InnoDB table. Columns are emitted in attribute
// order (id, user attributes, system columns) and every non-special index
// carries the soft delete column as its last part:
//
//	stmts, err := sqlschema.CreateTable(s, "user", sqlschema.Options{Replace: true})
//	// DROP TABLE IF EXISTS `user`
//	// CREATE TABLE `user` (`id` char(36) NOT NULL, ...) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
package sqlschema

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/relstore"
	"github.com/syssam/relstore/dialect/sql/codec"
	"github.com/syssam/relstore/schema"
)

// Default table options.
const (
	DefaultEngine  = "InnoDB"
	DefaultCharset = "utf8mb4"
)

// Options holds table level settings.
type Options struct {
	// Replace drops an existing table first.
	Replace bool
	// Engine is the storage engine, InnoDB when empty.
	Engine string
	// Charset is the default character set, utf8mb4 when empty.
	Charset string
	// Collation is the default collation. Empty keeps the charset default.
	Collation string
}

// CreateTable returns the statements creating the table of entity.
func CreateTable(s schema.Schema, entity string, opts Options) ([]string, error) {
	e, err := s.Entity(entity)
	if err != nil {
		return nil, err
	}
	if e.View {
		return nil, relstore.NewStructuralError(relstore.ErrViewUnsupported, entity, "", "")
	}
	spatial := make(map[string]bool)
	for _, idx := range e.Indexes {
		if idx.Type == schema.IndexSpatial {
			for _, a := range idx.Attributes {
				spatial[a] = true
			}
		}
	}
	var defs []string
	for _, name := range e.AttributeNames() {
		col, err := column(name, e.Attributes[name], spatial[name])
		if err != nil {
			return nil, relstore.NewStructuralError(relstore.ErrInvalidSchema, entity, name, err.Error())
		}
		defs = append(defs, col)
	}
	if _, ok := e.Attributes[schema.ID]; ok {
		defs = append(defs, "PRIMARY KEY ("+codec.Ident(schema.ID)+")")
	}
	for _, idx := range e.Indexes {
		clause, err := index(e, idx)
		if err != nil {
			return nil, relstore.NewStructuralError(relstore.ErrInvalidSchema, entity, "", err.Error())
		}
		defs = append(defs, clause)
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(codec.Ident(e.StorageName))
	b.WriteString(" (")
	b.WriteString(strings.Join(defs, ", "))
	b.WriteString(") ENGINE=")
	b.WriteString(cmp.Or(opts.Engine, DefaultEngine))
	b.WriteString(" DEFAULT CHARSET=")
	b.WriteString(cmp.Or(opts.Charset, DefaultCharset))
	if opts.Collation != "" {
		b.WriteString(" COLLATE=")
		b.WriteString(opts.Collation)
	}

	var stmts []string
	if opts.Replace {
		stmts = append(stmts, dropTable(e))
	}
	return append(stmts, b.String()), nil
}

// DropTable returns the statement dropping the table of entity.
func DropTable(s schema.Schema, entity string) (string, error) {
	e, err := s.Entity(entity)
	if err != nil {
		return "", err
	}
	if e.View {
		return "", relstore.NewStructuralError(relstore.ErrViewUnsupported, entity, "", "")
	}
	return dropTable(e), nil
}

func dropTable(e *schema.Entity) string {
	return "DROP TABLE IF EXISTS " + codec.Ident(e.StorageName)
}

func column(name string, def *schema.AttributeDef, spatialIndexed bool) (string, error) {
	typ, err := ColumnType(def)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(codec.Ident(name))
	b.WriteByte(' ')
	b.WriteString(typ)
	// Spatial index parts must be NOT NULL.
	if def.NotNull || spatialIndexed {
		b.WriteString(" NOT NULL")
	}
	if def.AutoIncrement() {
		b.WriteString(" AUTO_INCREMENT UNIQUE")
	} else if def.Unique {
		b.WriteString(" UNIQUE")
	}
	if def.Default != nil {
		lit, err := codec.Encode(def, def.Default)
		if err != nil {
			return "", fmt.Errorf("default: %w", err)
		}
		if blob(typ) {
			lit = "(" + lit + ")"
		}
		b.WriteString(" DEFAULT ")
		b.WriteString(lit)
	}
	return b.String(), nil
}

func index(e *schema.Entity, idx *schema.Index) (string, error) {
	if len(idx.Attributes) == 0 {
		return "", fmt.Errorf("index %q has no attributes", idx.Name)
	}
	cols := slices.Clone(idx.Attributes)
	_, alive := e.Attributes[schema.DeleteAt]
	if !idx.Type.Special() && alive && !slices.Contains(cols, schema.DeleteAt) {
		cols = append(cols, schema.DeleteAt)
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = codec.Ident(c)
	}
	body := codec.Ident(idx.Name) + " (" + strings.Join(quoted, ", ") + ")"
	switch idx.Type {
	case schema.IndexPlain:
		return "INDEX " + body, nil
	case schema.IndexUnique:
		return "UNIQUE INDEX " + body, nil
	case schema.IndexHash:
		return "INDEX " + body + " USING HASH", nil
	case schema.IndexFulltext:
		if idx.Parser != "" {
			return "FULLTEXT INDEX " + body + " WITH PARSER " + idx.Parser, nil
		}
		return "FULLTEXT INDEX " + body, nil
	case schema.IndexSpatial:
		return "SPATIAL INDEX " + body, nil
	default:
		return "", fmt.Errorf("index %q has unknown type %q", idx.Name, idx.Type)
	}
}
