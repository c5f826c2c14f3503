// Package codec converts between Go values and MySQL literal text, and
// turns flat result rows back into nested typed objects.
//
// It is the only place where values are quoted or escaped: compilers call
// Encode or EncodeValue for every literal they emit, and Ident/Column for
// every identifier.
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/relstore/schema"
)

// Null is the literal for a missing value.
const Null = "null"

// Quote returns s as a single quoted string literal. Backslashes are
// escaped and single quotes doubled.
func Quote(s string) string {
	if !strings.ContainsAny(s, `'\`) {
		return "'" + s + "'"
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return "'" + s + "'"
}

// Ident quotes an identifier with backticks.
func Ident(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Column returns the qualified column reference `alias`.`attr`.
func Column(alias, attr string) string {
	return Ident(alias) + "." + Ident(attr)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Like returns a LIKE pattern literal matching s literally, with prefix
// and suffix added verbatim (usually "%" or "").
func Like(prefix, s, suffix string) string {
	return Quote(prefix + likeEscaper.Replace(s) + suffix)
}

// EncodeValue encodes v without type information.
func EncodeValue(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return Null, nil
	case string:
		return Quote(v), nil
	case []byte:
		return Quote(string(v)), nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.Itoa(v), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		if _, err := v.Float64(); err != nil {
			return "", fmt.Errorf("codec: invalid number %q", v)
		}
		return v.String(), nil
	case time.Time:
		return strconv.FormatInt(v.UnixMilli(), 10), nil
	case *time.Time:
		if v == nil {
			return Null, nil
		}
		return strconv.FormatInt(v.UnixMilli(), 10), nil
	case Point, *Point, Geometry, *Geometry, []Geometry:
		return geometryLiteral(v)
	default:
		return encodeJSON(v)
	}
}

// Encode encodes v as a literal for an attribute of the given definition.
func Encode(def *schema.AttributeDef, v any) (string, error) {
	if v == nil {
		return Null, nil
	}
	switch def.Type.Family() {
	case schema.FamilyTemporal:
		return encodeTime(v)
	case schema.FamilyJSON:
		return encodeJSON(v)
	case schema.FamilyGeometry:
		if s, ok := v.(string); ok {
			if _, err := ParseWKT(s); err != nil {
				return "", err
			}
			return "ST_GeomFromText(" + Quote(s) + ")", nil
		}
		return geometryLiteral(v)
	case schema.FamilyInteger, schema.FamilyDecimal, schema.FamilyFloat, schema.FamilyBoolean,
		schema.FamilyString, schema.FamilyEnum, schema.FamilyRef, schema.FamilyOpaque:
		switch v.(type) {
		case map[string]any, []any:
			return "", fmt.Errorf("codec: cannot encode %T as %s", v, def.Type)
		}
		return EncodeValue(v)
	default:
		return "", fmt.Errorf("codec: no encoder for type %s", def.Type)
	}
}

func encodeTime(v any) (string, error) {
	switch v := v.(type) {
	case time.Time, *time.Time, int, int32, int64, uint32, uint64, float64, json.Number:
		return EncodeValue(v)
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return "", fmt.Errorf("codec: invalid time %q: %w", v, err)
		}
		return strconv.FormatInt(t.UnixMilli(), 10), nil
	default:
		return "", fmt.Errorf("codec: cannot encode %T as time", v)
	}
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("codec: encode json: %w", err)
	}
	return Quote(string(b)), nil
}
