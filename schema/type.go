package schema

import (
	"fmt"
	"strings"
)

// DataType is the abstract type of an attribute. The set is closed: every
// consumer indexes its own rule table by DataType and verifies at init time
// that no variant is missing.
type DataType uint8

// List of data types.
const (
	TypeInvalid DataType = iota
	TypeTinyInt
	TypeSmallInt
	TypeMediumInt
	TypeInt // honors Params.Width (bytes) when set
	TypeInteger
	TypeBigInt
	TypeSequence
	TypeDecimal
	TypeNumeric
	TypeMoney
	TypeFloat
	TypeDouble
	TypeReal
	TypeChar
	TypeVarchar
	TypeNChar
	TypeNVarchar
	TypeText
	TypeTinyText
	TypeMediumText
	TypeLongText
	TypeEnum
	TypeBoolean
	TypeDate
	TypeDatetime
	TypeTime
	TypeObject
	TypeArray
	TypeGeometry
	TypePoint
	TypeLineString
	TypePolygon
	TypeFunction
	TypeImage
	TypeRef
	NumTypes
)

// Family groups data types that share literal encoding and decoding.
type Family uint8

// List of type families.
const (
	FamilyInvalid Family = iota
	FamilyInteger
	FamilyDecimal
	FamilyFloat
	FamilyString
	FamilyEnum
	FamilyBoolean
	FamilyTemporal
	FamilyJSON
	FamilyGeometry
	FamilyOpaque
	FamilyRef
)

var familyNames = [...]string{
	FamilyInvalid:  "invalid",
	FamilyInteger:  "integer",
	FamilyDecimal:  "decimal",
	FamilyFloat:    "float",
	FamilyString:   "string",
	FamilyEnum:     "enum",
	FamilyBoolean:  "boolean",
	FamilyTemporal: "temporal",
	FamilyJSON:     "json",
	FamilyGeometry: "geometry",
	FamilyOpaque:   "opaque",
	FamilyRef:      "ref",
}

// String returns the family name.
func (f Family) String() string {
	if int(f) < len(familyNames) {
		return familyNames[f]
	}
	return fmt.Sprintf("Family(%d)", f)
}

type typeInfo struct {
	name   string
	family Family
}

var types = [NumTypes]typeInfo{
	TypeInvalid:    {"invalid", FamilyInvalid},
	TypeTinyInt:    {"tinyint", FamilyInteger},
	TypeSmallInt:   {"smallint", FamilyInteger},
	TypeMediumInt:  {"mediumint", FamilyInteger},
	TypeInt:        {"int", FamilyInteger},
	TypeInteger:    {"integer", FamilyInteger},
	TypeBigInt:     {"bigint", FamilyInteger},
	TypeSequence:   {"sequence", FamilyInteger},
	TypeDecimal:    {"decimal", FamilyDecimal},
	TypeNumeric:    {"numeric", FamilyDecimal},
	TypeMoney:      {"money", FamilyInteger},
	TypeFloat:      {"float", FamilyFloat},
	TypeDouble:     {"double", FamilyFloat},
	TypeReal:       {"real", FamilyFloat},
	TypeChar:       {"char", FamilyString},
	TypeVarchar:    {"varchar", FamilyString},
	TypeNChar:      {"nchar", FamilyString},
	TypeNVarchar:   {"nvarchar", FamilyString},
	TypeText:       {"text", FamilyString},
	TypeTinyText:   {"tinytext", FamilyString},
	TypeMediumText: {"mediumtext", FamilyString},
	TypeLongText:   {"longtext", FamilyString},
	TypeEnum:       {"enum", FamilyEnum},
	TypeBoolean:    {"boolean", FamilyBoolean},
	TypeDate:       {"date", FamilyTemporal},
	TypeDatetime:   {"datetime", FamilyTemporal},
	TypeTime:       {"time", FamilyTemporal},
	TypeObject:     {"object", FamilyJSON},
	TypeArray:      {"array", FamilyJSON},
	TypeGeometry:   {"geometry", FamilyGeometry},
	TypePoint:      {"point", FamilyGeometry},
	TypeLineString: {"linestring", FamilyGeometry},
	TypePolygon:    {"polygon", FamilyGeometry},
	TypeFunction:   {"function", FamilyOpaque},
	TypeImage:      {"image", FamilyOpaque},
	TypeRef:        {"ref", FamilyRef},
}

var typeByName = make(map[string]DataType, NumTypes)

func init() {
	for t := TypeInvalid + 1; t < NumTypes; t++ {
		info := types[t]
		if info.name == "" || info.family == FamilyInvalid {
			panic(fmt.Sprintf("schema: data type %d has no type info", t))
		}
		typeByName[info.name] = t
	}
}

// Types returns all valid data types in declaration order.
func Types() []DataType {
	ts := make([]DataType, 0, NumTypes-1)
	for t := TypeInvalid + 1; t < NumTypes; t++ {
		ts = append(ts, t)
	}
	return ts
}

// ParseType returns the data type with the given name.
func ParseType(name string) (DataType, error) {
	t, ok := typeByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return TypeInvalid, fmt.Errorf("schema: unknown data type %q", name)
	}
	return t, nil
}

// String returns the type name.
func (t DataType) String() string {
	if t < NumTypes {
		return types[t].name
	}
	return fmt.Sprintf("DataType(%d)", t)
}

// Valid reports if the type is one of the declared variants.
func (t DataType) Valid() bool {
	return t > TypeInvalid && t < NumTypes
}

// Family returns the type family.
func (t DataType) Family() Family {
	if t < NumTypes {
		return types[t].family
	}
	return FamilyInvalid
}

// Spatial reports if the type is a geometry type.
func (t DataType) Spatial() bool {
	return t.Family() == FamilyGeometry
}

// MarshalText implements encoding.TextMarshaler.
func (t DataType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("schema: invalid data type %d", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DataType) UnmarshalText(text []byte) error {
	v, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
