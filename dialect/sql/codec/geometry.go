package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// GeometryKind is a WKT geometry type name.
type GeometryKind string

// Geometry kinds.
const (
	KindPoint              GeometryKind = "POINT"
	KindLineString         GeometryKind = "LINESTRING"
	KindPolygon            GeometryKind = "POLYGON"
	KindMultiPoint         GeometryKind = "MULTIPOINT"
	KindMultiLineString    GeometryKind = "MULTILINESTRING"
	KindMultiPolygon       GeometryKind = "MULTIPOLYGON"
	KindGeometryCollection GeometryKind = "GEOMETRYCOLLECTION"
)

var multiKinds = map[GeometryKind]GeometryKind{
	KindPoint:      KindMultiPoint,
	KindLineString: KindMultiLineString,
	KindPolygon:    KindMultiPolygon,
}

// Point is a 2D coordinate.
type Point struct {
	X, Y float64
}

// Geometry is a single point, line string or polygon. A point holds one
// ring with one coordinate, a line string one ring, a polygon its rings.
// Slices of Geometry encode to MULTI* values, or to a GEOMETRYCOLLECTION
// when the kinds are mixed.
type Geometry struct {
	Kind        GeometryKind
	Coordinates [][]Point
}

// NewPoint returns a point geometry.
func NewPoint(x, y float64) Geometry {
	return Geometry{Kind: KindPoint, Coordinates: [][]Point{{{X: x, Y: y}}}}
}

// NewLineString returns a line string geometry.
func NewLineString(pts ...Point) Geometry {
	return Geometry{Kind: KindLineString, Coordinates: [][]Point{pts}}
}

// NewPolygon returns a polygon geometry. The first ring is the shell.
func NewPolygon(rings ...[]Point) Geometry {
	return Geometry{Kind: KindPolygon, Coordinates: rings}
}

// Validate checks the coordinate shape against the kind.
func (g Geometry) Validate() error {
	switch g.Kind {
	case KindPoint:
		if len(g.Coordinates) != 1 || len(g.Coordinates[0]) != 1 {
			return fmt.Errorf("codec: point needs exactly one coordinate")
		}
	case KindLineString:
		if len(g.Coordinates) != 1 || len(g.Coordinates[0]) < 2 {
			return fmt.Errorf("codec: line string needs at least two coordinates")
		}
	case KindPolygon:
		if len(g.Coordinates) == 0 {
			return fmt.Errorf("codec: polygon needs at least one ring")
		}
		for _, ring := range g.Coordinates {
			if len(ring) < 4 {
				return fmt.Errorf("codec: polygon ring needs at least four coordinates")
			}
		}
	default:
		return fmt.Errorf("codec: unsupported geometry kind %q", g.Kind)
	}
	return nil
}

// WKT returns the well-known text of g.
func (g Geometry) WKT() string {
	var b strings.Builder
	b.WriteString(string(g.Kind))
	g.writeBody(&b)
	return b.String()
}

func (g Geometry) writeBody(b *strings.Builder) {
	switch g.Kind {
	case KindPoint:
		b.WriteByte('(')
		writePoint(b, g.Coordinates[0][0])
		b.WriteByte(')')
	case KindLineString:
		writePoints(b, g.Coordinates[0])
	case KindPolygon:
		b.WriteByte('(')
		for i, ring := range g.Coordinates {
			if i > 0 {
				b.WriteByte(',')
			}
			writePoints(b, ring)
		}
		b.WriteByte(')')
	}
}

func writePoints(b *strings.Builder, pts []Point) {
	b.WriteByte('(')
	for i, p := range pts {
		if i > 0 {
			b.WriteByte(',')
		}
		writePoint(b, p)
	}
	b.WriteByte(')')
}

func writePoint(b *strings.Builder, p Point) {
	b.WriteString(strconv.FormatFloat(p.X, 'f', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(p.Y, 'f', -1, 64))
}

// CollectionWKT returns the well-known text of a list of geometries.
func CollectionWKT(gs []Geometry) (string, error) {
	if len(gs) == 0 {
		return string(KindGeometryCollection) + " EMPTY", nil
	}
	homogeneous := true
	for _, g := range gs {
		if err := g.Validate(); err != nil {
			return "", err
		}
		homogeneous = homogeneous && g.Kind == gs[0].Kind
	}
	var b strings.Builder
	if homogeneous {
		b.WriteString(string(multiKinds[gs[0].Kind]))
		b.WriteByte('(')
		for i, g := range gs {
			if i > 0 {
				b.WriteByte(',')
			}
			g.writeBody(&b)
		}
		b.WriteByte(')')
		return b.String(), nil
	}
	b.WriteString(string(KindGeometryCollection))
	b.WriteByte('(')
	for i, g := range gs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(g.WKT())
	}
	b.WriteByte(')')
	return b.String(), nil
}

func geometryLiteral(v any) (string, error) {
	var wkt string
	switch v := v.(type) {
	case Point:
		wkt = NewPoint(v.X, v.Y).WKT()
	case *Point:
		wkt = NewPoint(v.X, v.Y).WKT()
	case Geometry:
		if err := v.Validate(); err != nil {
			return "", err
		}
		wkt = v.WKT()
	case *Geometry:
		if err := v.Validate(); err != nil {
			return "", err
		}
		wkt = v.WKT()
	case []Geometry:
		s, err := CollectionWKT(v)
		if err != nil {
			return "", err
		}
		wkt = s
	default:
		return "", fmt.Errorf("codec: cannot encode %T as geometry", v)
	}
	return "ST_GeomFromText(" + Quote(wkt) + ")", nil
}

// ParseWKT parses well-known text as returned by ST_AsText. POINT,
// LINESTRING and POLYGON values are returned as Geometry, MULTI* and
// GEOMETRYCOLLECTION values as []Geometry.
func ParseWKT(s string) (any, error) {
	p := &wktParser{s: s}
	v, err := p.geometry()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, p.errorf("unexpected trailing input")
	}
	return v, nil
}

type wktParser struct {
	s   string
	pos int
}

func (p *wktParser) errorf(format string, args ...any) error {
	return fmt.Errorf("codec: wkt %q at %d: %s", p.s, p.pos, fmt.Sprintf(format, args...))
}

func (p *wktParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t' || p.s[p.pos] == '\n' || p.s[p.pos] == '\r') {
		p.pos++
	}
}

func (p *wktParser) keyword() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && (p.s[p.pos] >= 'A' && p.s[p.pos] <= 'Z' || p.s[p.pos] >= 'a' && p.s[p.pos] <= 'z') {
		p.pos++
	}
	return strings.ToUpper(p.s[start:p.pos])
}

func (p *wktParser) peek() byte {
	p.skipSpace()
	if p.pos < len(p.s) {
		return p.s[p.pos]
	}
	return 0
}

func (p *wktParser) expect(c byte) error {
	if p.peek() != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

// more consumes a separating comma.
func (p *wktParser) more() bool {
	if p.peek() == ',' {
		p.pos++
		return true
	}
	return false
}

func (p *wktParser) empty() bool {
	save := p.pos
	if p.keyword() == "EMPTY" {
		return true
	}
	p.pos = save
	return false
}

func (p *wktParser) number() (float64, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && strings.IndexByte("+-.0123456789eE", p.s[p.pos]) >= 0 {
		p.pos++
	}
	if start == p.pos {
		return 0, p.errorf("expected number")
	}
	f, err := strconv.ParseFloat(p.s[start:p.pos], 64)
	if err != nil {
		return 0, p.errorf("invalid number %q", p.s[start:p.pos])
	}
	return f, nil
}

func (p *wktParser) point() (Point, error) {
	x, err := p.number()
	if err != nil {
		return Point{}, err
	}
	y, err := p.number()
	if err != nil {
		return Point{}, err
	}
	return Point{X: x, Y: y}, nil
}

// points parses "(x y,x y,...)".
func (p *wktParser) points() ([]Point, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var pts []Point
	for {
		pt, err := p.point()
		if err != nil {
			return nil, err
		}
		pts = append(pts, pt)
		if !p.more() {
			break
		}
	}
	return pts, p.expect(')')
}

// rings parses "((x y,...),(x y,...))".
func (p *wktParser) rings() ([][]Point, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var rings [][]Point
	for {
		r, err := p.points()
		if err != nil {
			return nil, err
		}
		rings = append(rings, r)
		if !p.more() {
			break
		}
	}
	return rings, p.expect(')')
}

func (p *wktParser) geometry() (any, error) {
	kind := GeometryKind(p.keyword())
	switch kind {
	case KindPoint:
		if err := p.expect('('); err != nil {
			return nil, err
		}
		pt, err := p.point()
		if err != nil {
			return nil, err
		}
		return Geometry{Kind: kind, Coordinates: [][]Point{{pt}}}, p.expect(')')
	case KindLineString:
		pts, err := p.points()
		if err != nil {
			return nil, err
		}
		return Geometry{Kind: kind, Coordinates: [][]Point{pts}}, nil
	case KindPolygon:
		rings, err := p.rings()
		if err != nil {
			return nil, err
		}
		return Geometry{Kind: kind, Coordinates: rings}, nil
	case KindMultiPoint:
		return p.multiPoint()
	case KindMultiLineString:
		if p.empty() {
			return []Geometry{}, nil
		}
		rings, err := p.rings()
		if err != nil {
			return nil, err
		}
		gs := make([]Geometry, 0, len(rings))
		for _, r := range rings {
			gs = append(gs, NewLineString(r...))
		}
		return gs, nil
	case KindMultiPolygon:
		if p.empty() {
			return []Geometry{}, nil
		}
		if err := p.expect('('); err != nil {
			return nil, err
		}
		var gs []Geometry
		for {
			rings, err := p.rings()
			if err != nil {
				return nil, err
			}
			gs = append(gs, NewPolygon(rings...))
			if !p.more() {
				break
			}
		}
		return gs, p.expect(')')
	case KindGeometryCollection:
		return p.collection()
	default:
		return nil, p.errorf("unknown geometry type %q", kind)
	}
}

// multiPoint accepts both MULTIPOINT(1 2,3 4) and MULTIPOINT((1 2),(3 4)).
func (p *wktParser) multiPoint() (any, error) {
	if p.empty() {
		return []Geometry{}, nil
	}
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var gs []Geometry
	for {
		wrapped := p.peek() == '('
		if wrapped {
			p.pos++
		}
		pt, err := p.point()
		if err != nil {
			return nil, err
		}
		if wrapped {
			if err := p.expect(')'); err != nil {
				return nil, err
			}
		}
		gs = append(gs, NewPoint(pt.X, pt.Y))
		if !p.more() {
			break
		}
	}
	return gs, p.expect(')')
}

func (p *wktParser) collection() (any, error) {
	if p.empty() {
		return []Geometry{}, nil
	}
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var gs []Geometry
	for {
		v, err := p.geometry()
		if err != nil {
			return nil, err
		}
		switch v := v.(type) {
		case Geometry:
			gs = append(gs, v)
		case []Geometry:
			gs = append(gs, v...)
		}
		if !p.more() {
			break
		}
	}
	return gs, p.expect(')')
}
