package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/syssam/relstore/schema"
)

// Decode converts a value read from database/sql into the Go value of the
// attribute type: int64 for integers, float64 for decimals and floats,
// bool, time.Time (UTC), parsed JSON, Geometry or []Geometry, and string.
func Decode(def *schema.AttributeDef, raw any) (any, error) {
	raw = Normalize(raw)
	if raw == nil {
		return nil, nil
	}
	var (
		v   any
		err error
	)
	switch def.Type.Family() {
	case schema.FamilyInteger:
		v, err = toInt64(raw)
	case schema.FamilyDecimal, schema.FamilyFloat:
		v, err = toFloat64(raw)
	case schema.FamilyBoolean:
		v, err = toBool(raw)
	case schema.FamilyTemporal:
		v, err = toTime(raw)
	case schema.FamilyJSON:
		v, err = fromJSON(raw)
	case schema.FamilyGeometry:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("codec: decode %s: unexpected %T", def.Type, raw)
		}
		v, err = ParseWKT(s)
	case schema.FamilyString, schema.FamilyEnum, schema.FamilyRef, schema.FamilyOpaque:
		v = toString(raw)
	default:
		return nil, fmt.Errorf("codec: no decoder for type %s", def.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("codec: decode %s: %w", def.Type, err)
	}
	return v, nil
}

// Normalize copies driver byte slices into strings.
func Normalize(raw any) any {
	if b, ok := raw.([]byte); ok {
		return string(b)
	}
	return raw
}

// DecodeNumber decodes an untyped numeric column, such as an aggregate:
// integers stay int64, anything else becomes float64.
func DecodeNumber(raw any) (any, error) {
	raw = Normalize(raw)
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case int64, float64:
		return v, nil
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("codec: decode number: %w", err)
		}
		return f, nil
	default:
		return toFloat64(v)
	}
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("value %v is not integral", v)
		}
		return int64(v), nil
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("invalid integer %q", v)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("unexpected %T", raw)
	}
}

func toFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected %T", raw)
	}
}

func toBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("invalid boolean %q", v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("unexpected %T", raw)
	}
}

func toTime(raw any) (time.Time, error) {
	if t, ok := raw.(time.Time); ok {
		return t.UTC(), nil
	}
	ms, err := toInt64(raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func fromJSON(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected %T", raw)
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func toString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
