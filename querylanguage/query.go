// Package querylanguage defines the structured read and write requests
// accepted by the compiler: selections with projection, filter and sorter
// trees, aggregations, and create/update/remove operations.
//
// Trees are plain maps so they can be built in Go or decoded from JSON:
//
//	sel := &querylanguage.Selection{
//		Data:   querylanguage.Projection{"id": 1, "user": querylanguage.Projection{"nickname": 1}},
//		Filter: querylanguage.Filter{"user": querylanguage.Filter{"name": querylanguage.Includes("xc")}},
//		Sorter: []querylanguage.SortItem{querylanguage.Desc("user", "name")},
//	}
package querylanguage

type (
	// Row is one entity row keyed by attribute name.
	Row = map[string]any
	// Projection maps attribute names to 1 (include), an alias string,
	// a nested Projection (relation) or, for $expr keys, an Expression.
	Projection = map[string]any
	// Filter maps attribute names to literals, operator objects or nested
	// filters; logical keys hold lists of filters.
	Filter = map[string]any
	// Expression is a single-key map from function name to operands.
	Expression = map[string]any
)

// Selection is a read request against one entity.
type Selection struct {
	Data      Projection
	Filter    Filter
	Sorter    []SortItem
	IndexFrom int
	// Count limits the number of rows; zero means no limit.
	Count    int
	Distinct bool
	Hint     *Hint
}

// CountSelection is a count request against one entity.
type CountSelection struct {
	Filter    Filter
	IndexFrom int
	Count     int
}

// Aggregation is a grouped read. Data holds the "#aggr" group-by projection
// and aggregate keys of the form "#count-1", "#sum-1", "#max-1", "#min-1"
// and "#avg-1", each mapped to a single-attribute projection.
type Aggregation struct {
	Data      map[string]any
	Filter    Filter
	Sorter    []SortItem
	IndexFrom int
	Count     int
	Distinct  bool
}

// SortItem orders by a single attribute path, optionally ending in an $expr.
type SortItem struct {
	Attr      map[string]any
	Direction string // "asc", "desc" or empty
}

// Sort directions.
const (
	Ascending  = "asc"
	Descending = "desc"
)

// IndexHintMode selects the MySQL index hint keyword.
type IndexHintMode string

// Index hint modes.
const (
	ForceIndex  IndexHintMode = "FORCE"
	UseIndex    IndexHintMode = "USE"
	IgnoreIndex IndexHintMode = "IGNORE"
)

// Hint carries dialect specific hints. IndexHints maps a relation path
// ("" for the root, "user", "user/org") to index names.
type Hint struct {
	Mode       IndexHintMode
	IndexHints map[string][]string
}

// SubQuery is the right-hand side of $in, $nin and $exists when the values
// come from another entity.
type SubQuery struct {
	Entity string
	// Attr is the selected attribute, "id" when empty.
	Attr   string
	Filter Filter
}

// Create inserts one or more rows.
type Create struct {
	Data []Row
}

// Update modifies the rows matched by Filter. Sorter, IndexFrom and Count
// restrict the update to a window of the matched rows.
type Update struct {
	Data      Row
	Filter    Filter
	Sorter    []SortItem
	IndexFrom int
	Count     int
}

// Restricted reports if the update targets a window of rows.
func (u *Update) Restricted() bool {
	return len(u.Sorter) > 0 || u.IndexFrom > 0 || u.Count > 0
}

// Remove soft deletes the rows matched by Filter.
type Remove struct {
	Filter    Filter
	Sorter    []SortItem
	IndexFrom int
	Count     int
}

// Restricted reports if the removal targets a window of rows.
func (r *Remove) Restricted() bool {
	return len(r.Sorter) > 0 || r.IndexFrom > 0 || r.Count > 0
}
