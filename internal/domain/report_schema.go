package domain

import (
	"slices"
	"strings"
	"time"
)

// ForeignKeySuffix marks columns that carry relationship metadata rather than
// report payload. Such columns are resolvable but not listed by default.
const ForeignKeySuffix = "_id"

// ColumnType is the declared semantic type of a reportable column.
type ColumnType string

// Supported column types.
const (
	ColumnTypeString   ColumnType = "string"
	ColumnTypeInteger  ColumnType = "integer"
	ColumnTypeDecimal  ColumnType = "decimal"
	ColumnTypeDate     ColumnType = "date"
	ColumnTypeDateTime ColumnType = "datetime"
	ColumnTypeBoolean  ColumnType = "boolean"
	ColumnTypeJSON     ColumnType = "json"
)

// Valid reports whether t is one of the supported column types.
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnTypeString, ColumnTypeInteger, ColumnTypeDecimal, ColumnTypeDate,
		ColumnTypeDateTime, ColumnTypeBoolean, ColumnTypeJSON:
		return true
	}
	return false
}

// IsNumeric reports whether values of this type support arithmetic.
func (t ColumnType) IsNumeric() bool {
	return t == ColumnTypeInteger || t == ColumnTypeDecimal
}

// IsTemporal reports whether values of this type are dates or timestamps.
func (t ColumnType) IsTemporal() bool {
	return t == ColumnTypeDate || t == ColumnTypeDateTime
}

// DefaultAggregatable is the aggregatable default for a column of this type.
func (t ColumnType) DefaultAggregatable() bool {
	return t.IsNumeric() || t.IsTemporal()
}

// ValueTransform rewrites a single result value after it is read from storage.
type ValueTransform func(v interface{}) interface{}

// ColumnDefinition describes one physical column, or a JSON-path sub-column
// when Name contains a dot (e.g. "details.price").
type ColumnDefinition struct {
	Name          string
	Label         string
	Type          ColumnType
	Nullable      bool
	Searchable    bool
	Sortable      bool
	Filterable    bool
	Aggregatable  bool
	Hidden        bool
	TransformName string
	Transform     ValueTransform
}

// IsJSONPath reports whether the column addresses a path inside a JSON column.
func (c ColumnDefinition) IsJSONPath() bool {
	return strings.Contains(c.Name, ".")
}

// JSONPath splits a JSON-path column into the physical column and the path
// inside it. For "details.price" it returns ("details", "$.price").
func (c ColumnDefinition) JSONPath() (base, path string) {
	base, rest, ok := strings.Cut(c.Name, ".")
	if !ok {
		return c.Name, ""
	}
	return base, "$." + rest
}

// IsForeignKey reports whether the column name carries the foreign-key suffix.
func (c ColumnDefinition) IsForeignKey() bool {
	return strings.HasSuffix(c.Name, ForeignKeySuffix)
}

// ComputedColumnDefinition is a column derived at query time from a validated
// expression over the owning table.
type ComputedColumnDefinition struct {
	Name         string
	Label        string
	Expression   string
	Type         ColumnType
	Searchable   bool
	Sortable     bool
	Filterable   bool
	Aggregatable bool
	Hidden       bool
}

// JoinType is the SQL join kind used for a relationship or explicit join.
type JoinType string

// Supported join types.
const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
	JoinFull  JoinType = "full"
)

// ParseJoinType normalizes s into a JoinType. The empty string maps to JoinLeft.
func ParseJoinType(s string) (JoinType, bool) {
	switch JoinType(strings.ToLower(strings.TrimSpace(s))) {
	case JoinInner:
		return JoinInner, true
	case JoinLeft, "":
		return JoinLeft, true
	case JoinRight:
		return JoinRight, true
	case JoinFull:
		return JoinFull, true
	}
	return "", false
}

// SQL returns the join keyword sequence.
func (j JoinType) SQL() string {
	switch j {
	case JoinInner:
		return "INNER JOIN"
	case JoinRight:
		return "RIGHT JOIN"
	case JoinFull:
		return "FULL JOIN"
	default:
		return "LEFT JOIN"
	}
}

// RelationshipDefinition links a table to a target table through an equality
// between LocalKey (on the owning table) and ForeignKey (on the target).
// Nested relationships hang off the target table and allow a.b.c traversal.
type RelationshipDefinition struct {
	Name       string
	Table      string
	Type       JoinType
	LocalKey   string
	ForeignKey string
	Enabled    bool
	AutoJoin   bool
	Nested     []RelationshipDefinition
}

// NestedRelationship looks up a nested relationship by name.
func (r RelationshipDefinition) NestedRelationship(name string) (RelationshipDefinition, bool) {
	for _, n := range r.Nested {
		if n.Name == name {
			return n, true
		}
	}
	return RelationshipDefinition{}, false
}

func (r RelationshipDefinition) clone() RelationshipDefinition {
	out := r
	if r.Nested != nil {
		out.Nested = make([]RelationshipDefinition, len(r.Nested))
		for i, n := range r.Nested {
			out.Nested[i] = n.clone()
		}
	}
	return out
}

// TableDefinition describes one reportable relation. Values are treated as
// immutable once registered; use the With* methods to derive variants.
type TableDefinition struct {
	Name            string
	Label           string
	Category        string
	TenantColumn    string
	Columns         []ColumnDefinition
	Computed        []ComputedColumnDefinition
	Relationships   []RelationshipDefinition
	ExcludedColumns []string
	AllowAggregates bool
	MaxRows         int
	Cacheable       bool
	CacheTTL        time.Duration
	Timeout         time.Duration
	Permissions     []string
}

// Column looks up a physical or JSON-path column by exact name.
func (t TableDefinition) Column(name string) (ColumnDefinition, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDefinition{}, false
}

// ComputedColumn looks up a computed column by exact name.
func (t TableDefinition) ComputedColumn(name string) (ComputedColumnDefinition, bool) {
	for _, c := range t.Computed {
		if c.Name == name {
			return c, true
		}
	}
	return ComputedColumnDefinition{}, false
}

// Relationship looks up a relationship by name.
func (t TableDefinition) Relationship(name string) (RelationshipDefinition, bool) {
	for _, r := range t.Relationships {
		if r.Name == name {
			return r, true
		}
	}
	return RelationshipDefinition{}, false
}

// IsExcluded reports whether name is hidden from discovery listings.
func (t TableDefinition) IsExcluded(name string) bool {
	return slices.Contains(t.ExcludedColumns, name)
}

// Clone returns a deep copy that shares no slices with t.
func (t TableDefinition) Clone() TableDefinition {
	out := t
	out.Columns = slices.Clone(t.Columns)
	out.Computed = slices.Clone(t.Computed)
	out.ExcludedColumns = slices.Clone(t.ExcludedColumns)
	out.Permissions = slices.Clone(t.Permissions)
	if t.Relationships != nil {
		out.Relationships = make([]RelationshipDefinition, len(t.Relationships))
		for i, r := range t.Relationships {
			out.Relationships[i] = r.clone()
		}
	}
	return out
}

// WithMaxRows returns a copy of t with a different row cap.
func (t TableDefinition) WithMaxRows(n int) TableDefinition {
	out := t.Clone()
	out.MaxRows = n
	return out
}

// WithCache returns a copy of t with caching reconfigured.
func (t TableDefinition) WithCache(enabled bool, ttl time.Duration) TableDefinition {
	out := t.Clone()
	out.Cacheable = enabled
	out.CacheTTL = ttl
	return out
}

// ResolvedColumn is the result of resolving an identifier against a table.
// Exactly one of Column and Computed is set. Via lists the relationships
// traversed from the base table, outermost first.
type ResolvedColumn struct {
	Table    string
	Name     string
	Column   *ColumnDefinition
	Computed *ComputedColumnDefinition
	Via      []RelationshipDefinition
}

// IsComputed reports whether the identifier resolved to a computed column.
func (r ResolvedColumn) IsComputed() bool { return r.Computed != nil }

// Type returns the declared type of the resolved column.
func (r ResolvedColumn) Type() ColumnType {
	if r.Computed != nil {
		return r.Computed.Type
	}
	if r.Column != nil {
		return r.Column.Type
	}
	return ""
}

// Aggregatable reports the aggregatable flag of the resolved column.
func (r ResolvedColumn) Aggregatable() bool {
	if r.Computed != nil {
		return r.Computed.Aggregatable
	}
	return r.Column != nil && r.Column.Aggregatable
}

// Filterable reports the filterable flag of the resolved column.
func (r ResolvedColumn) Filterable() bool {
	if r.Computed != nil {
		return r.Computed.Filterable
	}
	return r.Column != nil && r.Column.Filterable
}

// Sortable reports the sortable flag of the resolved column.
func (r ResolvedColumn) Sortable() bool {
	if r.Computed != nil {
		return r.Computed.Sortable
	}
	return r.Column != nil && r.Column.Sortable
}

// RelationshipPath returns the dotted relationship names traversed, or "" for
// a column on the base table.
func (r ResolvedColumn) RelationshipPath() string {
	names := make([]string, len(r.Via))
	for i, rel := range r.Via {
		names[i] = rel.Name
	}
	return strings.Join(names, ".")
}
