package sqlschema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/relstore/dialect/sql/codec"
	"github.com/syssam/relstore/schema"
)

// Default parameters of sized types.
const (
	DefaultCharLength    = 16
	DefaultVarcharLength = 255
	DefaultPrecision     = 10
	DefaultScale         = 2
)

type columnRule func(def *schema.AttributeDef) (string, error)

// columnRules maps every data type to its MySQL column type.
var columnRules = [schema.NumTypes]columnRule{
	schema.TypeTinyInt:    native("tinyint"),
	schema.TypeSmallInt:   native("smallint"),
	schema.TypeMediumInt:  native("mediumint"),
	schema.TypeInt:        intWidth,
	schema.TypeInteger:    native("int"),
	schema.TypeBigInt:     native("bigint"),
	schema.TypeSequence:   native("bigint"),
	schema.TypeDecimal:    decimal("decimal"),
	schema.TypeNumeric:    decimal("numeric"),
	schema.TypeMoney:      native("bigint"),
	schema.TypeFloat:      float("float"),
	schema.TypeDouble:     float("double"),
	schema.TypeReal:       float("real"),
	schema.TypeChar:       length("char", DefaultCharLength),
	schema.TypeVarchar:    length("varchar", DefaultVarcharLength),
	schema.TypeNChar:      length("nchar", DefaultCharLength),
	schema.TypeNVarchar:   length("nvarchar", DefaultVarcharLength),
	schema.TypeText:       native("text"),
	schema.TypeTinyText:   native("tinytext"),
	schema.TypeMediumText: native("mediumtext"),
	schema.TypeLongText:   native("longtext"),
	schema.TypeEnum:       enum,
	schema.TypeBoolean:    native("tinyint(1)"),
	schema.TypeDate:       native("bigint"),
	schema.TypeDatetime:   native("bigint"),
	schema.TypeTime:       native("bigint"),
	schema.TypeObject:     native("text"),
	schema.TypeArray:      native("text"),
	schema.TypeGeometry:   native("geometry"),
	schema.TypePoint:      native("point"),
	schema.TypeLineString: native("linestring"),
	schema.TypePolygon:    native("polygon"),
	schema.TypeFunction:   native("text"),
	schema.TypeImage:      native("text"),
	schema.TypeRef:        native("char(36)"),
}

func init() {
	for _, t := range schema.Types() {
		if columnRules[t] == nil {
			panic(fmt.Sprintf("sqlschema: no column rule for type %s", t))
		}
	}
}

// ColumnType returns the MySQL column type of an attribute.
func ColumnType(def *schema.AttributeDef) (string, error) {
	if !def.Type.Valid() {
		return "", fmt.Errorf("sqlschema: invalid data type %s", def.Type)
	}
	return columnRules[def.Type](def)
}

func native(name string) columnRule {
	return func(*schema.AttributeDef) (string, error) {
		return name, nil
	}
}

func length(name string, fallback int) columnRule {
	return func(def *schema.AttributeDef) (string, error) {
		n := def.Params.Length
		if n <= 0 {
			n = fallback
		}
		return name + "(" + strconv.Itoa(n) + ")", nil
	}
}

func decimal(name string) columnRule {
	return func(def *schema.AttributeDef) (string, error) {
		p, s := def.Params.Precision, def.Params.Scale
		if p <= 0 {
			p, s = DefaultPrecision, DefaultScale
		}
		if s > p {
			return "", fmt.Errorf("sqlschema: scale %d exceeds precision %d", s, p)
		}
		return fmt.Sprintf("%s(%d,%d)", name, p, s), nil
	}
}

func float(name string) columnRule {
	return func(def *schema.AttributeDef) (string, error) {
		switch p, s := def.Params.Precision, def.Params.Scale; {
		case p <= 0:
			return name, nil
		case s > 0:
			return fmt.Sprintf("%s(%d,%d)", name, p, s), nil
		default:
			return fmt.Sprintf("%s(%d)", name, p), nil
		}
	}
}

func intWidth(def *schema.AttributeDef) (string, error) {
	switch w := def.Params.Width; {
	case w == 1:
		return "tinyint", nil
	case w == 2:
		return "smallint", nil
	case w == 3:
		return "mediumint", nil
	case w == 0 || w == 4:
		return "int", nil
	case w >= 5 && w <= 8:
		return "bigint", nil
	default:
		return "", fmt.Errorf("sqlschema: invalid int width %d", w)
	}
}

func enum(def *schema.AttributeDef) (string, error) {
	if len(def.Values) == 0 {
		return "", fmt.Errorf("sqlschema: enum without values")
	}
	vs := make([]string, len(def.Values))
	for i, v := range def.Values {
		vs[i] = codec.Quote(v)
	}
	return "enum(" + strings.Join(vs, ",") + ")", nil
}

// blob reports if MySQL needs an expression default for the column type.
func blob(columnType string) bool {
	switch columnType {
	case "text", "tinytext", "mediumtext", "longtext", "geometry", "point", "linestring", "polygon":
		return true
	}
	return false
}
