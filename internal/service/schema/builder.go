package schema

import (
	"strings"
	"time"

	"fleet-reports/internal/domain"
)

// TableOption configures a table built by NewTable.
type TableOption func(*domain.TableDefinition)

// NewTable builds an immutable table definition. Aggregates are allowed and
// caching is disabled unless options say otherwise.
func NewTable(name, label string, opts ...TableOption) domain.TableDefinition {
	def := domain.TableDefinition{
		Name:            name,
		Label:           label,
		AllowAggregates: true,
	}
	if def.Label == "" {
		def.Label = humanize(name)
	}
	for _, opt := range opts {
		opt(&def)
	}
	return def
}

// Category tags the table with a feature-area or extension name.
func Category(c string) TableOption {
	return func(t *domain.TableDefinition) { t.Category = c }
}

// TenantScoped names the column that holds the owning tenant id.
func TenantScoped(column string) TableOption {
	return func(t *domain.TableDefinition) { t.TenantColumn = column }
}

// Columns appends physical columns.
func Columns(cols ...domain.ColumnDefinition) TableOption {
	return func(t *domain.TableDefinition) { t.Columns = append(t.Columns, cols...) }
}

// ComputedColumns appends computed columns.
func ComputedColumns(cols ...domain.ComputedColumnDefinition) TableOption {
	return func(t *domain.TableDefinition) { t.Computed = append(t.Computed, cols...) }
}

// Relationships appends relationships.
func Relationships(rels ...domain.RelationshipDefinition) TableOption {
	return func(t *domain.TableDefinition) { t.Relationships = append(t.Relationships, rels...) }
}

// Exclude hides columns from discovery listings.
func Exclude(names ...string) TableOption {
	return func(t *domain.TableDefinition) { t.ExcludedColumns = append(t.ExcludedColumns, names...) }
}

// NoAggregates forbids aggregate functions on the table.
func NoAggregates() TableOption {
	return func(t *domain.TableDefinition) { t.AllowAggregates = false }
}

// MaxRows caps the number of rows any query on the table may return.
func MaxRows(n int) TableOption {
	return func(t *domain.TableDefinition) { t.MaxRows = n }
}

// Cached enables result caching with the given TTL.
func Cached(ttl time.Duration) TableOption {
	return func(t *domain.TableDefinition) {
		t.Cacheable = true
		t.CacheTTL = ttl
	}
}

// Timeout bounds execution time of queries rooted at the table.
func Timeout(d time.Duration) TableOption {
	return func(t *domain.TableDefinition) { t.Timeout = d }
}

// RequirePermissions declares permission tags forwarded to the authorizer.
func RequirePermissions(tags ...string) TableOption {
	return func(t *domain.TableDefinition) { t.Permissions = append(t.Permissions, tags...) }
}

// ColumnOption configures a column built by Column.
type ColumnOption func(*domain.ColumnDefinition)

// Column builds a physical column. Strings are searchable; numeric and
// temporal types are aggregatable; every column is sortable and filterable
// except JSON columns, which are neither sortable nor aggregatable.
func Column(name string, typ domain.ColumnType, opts ...ColumnOption) domain.ColumnDefinition {
	c := domain.ColumnDefinition{
		Name:         name,
		Label:        humanize(name),
		Type:         typ,
		Searchable:   typ == domain.ColumnTypeString,
		Sortable:     typ != domain.ColumnTypeJSON,
		Filterable:   true,
		Aggregatable: typ.DefaultAggregatable(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Label sets the human label.
func Label(l string) ColumnOption {
	return func(c *domain.ColumnDefinition) { c.Label = l }
}

// Nullable marks the column as nullable.
func Nullable() ColumnOption {
	return func(c *domain.ColumnDefinition) { c.Nullable = true }
}

// Hidden hides the column from discovery listings.
func Hidden() ColumnOption {
	return func(c *domain.ColumnDefinition) { c.Hidden = true }
}

// Capabilities overrides all four capability flags.
func Capabilities(searchable, sortable, filterable, aggregatable bool) ColumnOption {
	return func(c *domain.ColumnDefinition) {
		c.Searchable = searchable
		c.Sortable = sortable
		c.Filterable = filterable
		c.Aggregatable = aggregatable
	}
}

// Transform attaches a named value transform (see LookupTransform).
func Transform(name string) ColumnOption {
	return func(c *domain.ColumnDefinition) {
		c.TransformName = name
		c.Transform, _ = LookupTransform(name)
	}
}

// ComputedOption configures a computed column built by Computed.
type ComputedOption func(*domain.ComputedColumnDefinition)

// Computed builds a computed column. Computed values are derived at query time
// and are neither sortable nor searchable by default.
func Computed(name, expression string, typ domain.ColumnType, opts ...ComputedOption) domain.ComputedColumnDefinition {
	c := domain.ComputedColumnDefinition{
		Name:         name,
		Label:        humanize(name),
		Expression:   expression,
		Type:         typ,
		Filterable:   true,
		Aggregatable: typ.DefaultAggregatable(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ComputedLabel sets the human label of a computed column.
func ComputedLabel(l string) ComputedOption {
	return func(c *domain.ComputedColumnDefinition) { c.Label = l }
}

// ComputedCapabilities overrides the capability flags of a computed column.
func ComputedCapabilities(searchable, sortable, filterable, aggregatable bool) ComputedOption {
	return func(c *domain.ComputedColumnDefinition) {
		c.Searchable = searchable
		c.Sortable = sortable
		c.Filterable = filterable
		c.Aggregatable = aggregatable
	}
}

// RelationshipOption configures a relationship built by Relationship.
type RelationshipOption func(*domain.RelationshipDefinition)

// Relationship builds an enabled, manually joined LEFT relationship where
// owner.localKey = target.foreignKey.
func Relationship(name, target, localKey, foreignKey string, opts ...RelationshipOption) domain.RelationshipDefinition {
	r := domain.RelationshipDefinition{
		Name:       name,
		Table:      target,
		Type:       domain.JoinLeft,
		LocalKey:   localKey,
		ForeignKey: foreignKey,
		Enabled:    true,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// AutoJoin makes references to the relationship's columns add the join implicitly.
func AutoJoin() RelationshipOption {
	return func(r *domain.RelationshipDefinition) { r.AutoJoin = true }
}

// JoinAs sets the join type.
func JoinAs(t domain.JoinType) RelationshipOption {
	return func(r *domain.RelationshipDefinition) { r.Type = t }
}

// Disabled switches the relationship off.
func Disabled() RelationshipOption {
	return func(r *domain.RelationshipDefinition) { r.Enabled = false }
}

// Nested adds relationships reachable from the target table.
func Nested(rels ...domain.RelationshipDefinition) RelationshipOption {
	return func(r *domain.RelationshipDefinition) { r.Nested = append(r.Nested, rels...) }
}

func humanize(name string) string {
	name = strings.NewReplacer("_", " ", ".", " ").Replace(name)
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
