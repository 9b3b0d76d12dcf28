// Package schema holds the catalogue of reportable tables, their columns and
// their relationships, and resolves column identifiers against it.
package schema

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"fleet-reports/internal/domain"
)

var (
	identPattern    = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	jsonPathPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)+$`)
)

// Registry is the catalogue of reportable tables. Registration normally
// completes at bootstrap; lookups are safe from any number of goroutines and
// are excluded while a registration is in progress.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]domain.TableDefinition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]domain.TableDefinition)}
}

type registerOptions struct {
	replace bool
}

// RegisterOption adjusts RegisterTable behavior.
type RegisterOption func(*registerOptions)

// WithReplace lets RegisterTable overwrite an existing definition. Intended for
// test fixtures and tooling only.
func WithReplace() RegisterOption {
	return func(o *registerOptions) { o.replace = true }
}

// RegisterTable adds def to the catalogue. It fails with a
// *domain.DuplicateTableError when the name is taken, unless WithReplace is set.
func (r *Registry) RegisterTable(def domain.TableDefinition, opts ...RegisterOption) error {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	def = def.Clone()
	if err := checkTable(&def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tables[def.Name]; exists && !o.replace {
		return &domain.DuplicateTableError{Table: def.Name}
	}
	r.tables[def.Name] = def
	return nil
}

// RegisterAll registers tables in order and stops at the first failure.
func (r *Registry) RegisterAll(defs []domain.TableDefinition, opts ...RegisterOption) error {
	for _, def := range defs {
		if err := r.RegisterTable(def, opts...); err != nil {
			return err
		}
	}
	return nil
}

// GetTable returns a copy of the named table definition.
func (r *Registry) GetTable(name string) (domain.TableDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tables[name]
	if !ok {
		return domain.TableDefinition{}, &domain.UnknownTableError{Table: name}
	}
	return def.Clone(), nil
}

// HasTable reports whether name is registered.
func (r *Registry) HasTable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tables[name]
	return ok
}

// Tables returns every registered table ordered by name.
func (r *Registry) Tables() []domain.TableDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.TableDefinition, 0, len(r.tables))
	for _, def := range r.tables {
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolveColumn resolves name on table. Plain names match a physical or
// computed column. Dotted names are tried as an auto-join relationship
// traversal first (recursing through nested relationships) and then as a
// declared JSON-path column on the table itself.
func (r *Registry) ResolveColumn(table, name string) (domain.ResolvedColumn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tables[table]
	if !ok {
		return domain.ResolvedColumn{}, &domain.UnknownTableError{Table: table}
	}
	res, ok := r.resolveIn(def, strings.TrimSpace(name), nil)
	if !ok {
		return domain.ResolvedColumn{}, &domain.UnknownColumnError{Table: table, Column: name}
	}
	return res, nil
}

func (r *Registry) resolveIn(def domain.TableDefinition, name string, via []domain.RelationshipDefinition) (domain.ResolvedColumn, bool) {
	if name == "" {
		return domain.ResolvedColumn{}, false
	}
	if !strings.Contains(name, ".") {
		return exactColumn(def, name, via)
	}

	prefix, rest, _ := strings.Cut(name, ".")
	if rel, ok := def.Relationship(prefix); ok && rel.Enabled && rel.AutoJoin {
		if res, ok := r.resolveThrough(rel, rest, via); ok {
			return res, true
		}
	}
	return exactColumn(def, name, via)
}

func (r *Registry) resolveThrough(rel domain.RelationshipDefinition, rest string, via []domain.RelationshipDefinition) (domain.ResolvedColumn, bool) {
	target, ok := r.tables[rel.Table]
	if !ok {
		return domain.ResolvedColumn{}, false
	}
	path := append(append([]domain.RelationshipDefinition(nil), via...), rel)

	if strings.Contains(rest, ".") {
		prefix, tail, _ := strings.Cut(rest, ".")
		if nested, ok := rel.NestedRelationship(prefix); ok && nested.Enabled && nested.AutoJoin {
			if res, ok := r.resolveThrough(nested, tail, path); ok {
				return res, true
			}
		}
	}
	return exactColumn(target, rest, path)
}

func exactColumn(def domain.TableDefinition, name string, via []domain.RelationshipDefinition) (domain.ResolvedColumn, bool) {
	if c, ok := def.Column(name); ok {
		return domain.ResolvedColumn{Table: def.Name, Name: name, Column: &c, Via: via}, true
	}
	if c, ok := def.ComputedColumn(name); ok {
		return domain.ResolvedColumn{Table: def.Name, Name: name, Computed: &c, Via: via}, true
	}
	return domain.ResolvedColumn{}, false
}

// ColumnInfo is one entry of a discovery listing.
type ColumnInfo struct {
	Name         string            `json:"name"`
	Label        string            `json:"label"`
	Type         domain.ColumnType `json:"type"`
	Computed     bool              `json:"computed"`
	Relationship string            `json:"relationship,omitempty"`
	Searchable   bool              `json:"searchable"`
	Sortable     bool              `json:"sortable"`
	Filterable   bool              `json:"filterable"`
	Aggregatable bool              `json:"aggregatable"`
}

// VisibleColumns lists the columns a report author can pick for table: its
// own physical and computed columns, then the columns reachable through
// auto-join relationships under their dotted names. Hidden, excluded and
// foreign-key columns are omitted but remain resolvable by name.
func (r *Registry) VisibleColumns(table string) ([]ColumnInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tables[table]
	if !ok {
		return nil, &domain.UnknownTableError{Table: table}
	}
	out := visibleOwnColumns(def, "", "")
	for _, rel := range def.Relationships {
		out = append(out, r.relationshipColumns(rel, "")...)
	}
	return out, nil
}

func (r *Registry) relationshipColumns(rel domain.RelationshipDefinition, parent string) []ColumnInfo {
	if !rel.Enabled || !rel.AutoJoin {
		return nil
	}
	target, ok := r.tables[rel.Table]
	if !ok {
		return nil
	}
	prefix := rel.Name
	if parent != "" {
		prefix = parent + "." + rel.Name
	}
	out := visibleOwnColumns(target, prefix+".", prefix)
	for _, nested := range rel.Nested {
		out = append(out, r.relationshipColumns(nested, prefix)...)
	}
	return out
}

func visibleOwnColumns(def domain.TableDefinition, namePrefix, relPath string) []ColumnInfo {
	var out []ColumnInfo
	for _, c := range def.Columns {
		if c.Hidden || def.IsExcluded(c.Name) || c.IsForeignKey() {
			continue
		}
		out = append(out, ColumnInfo{
			Name:         namePrefix + c.Name,
			Label:        c.Label,
			Type:         c.Type,
			Relationship: relPath,
			Searchable:   c.Searchable,
			Sortable:     c.Sortable,
			Filterable:   c.Filterable,
			Aggregatable: c.Aggregatable,
		})
	}
	for _, c := range def.Computed {
		if c.Hidden || def.IsExcluded(c.Name) {
			continue
		}
		out = append(out, ColumnInfo{
			Name:         namePrefix + c.Name,
			Label:        c.Label,
			Type:         c.Type,
			Computed:     true,
			Relationship: relPath,
			Searchable:   c.Searchable,
			Sortable:     c.Sortable,
			Filterable:   c.Filterable,
			Aggregatable: c.Aggregatable,
		})
	}
	return out
}

func checkTable(def *domain.TableDefinition) error {
	if !identPattern.MatchString(def.Name) {
		return domain.ErrValidation("invalid table name %q", def.Name)
	}
	if def.MaxRows < 0 {
		return domain.ErrValidation("table %q: max rows must not be negative", def.Name)
	}

	seen := make(map[string]bool, len(def.Columns)+len(def.Computed))
	for i := range def.Columns {
		c := &def.Columns[i]
		if !identPattern.MatchString(c.Name) && !jsonPathPattern.MatchString(c.Name) {
			return domain.ErrValidation("table %q: invalid column name %q", def.Name, c.Name)
		}
		if !c.Type.Valid() {
			return domain.ErrValidation("table %q: column %q has unsupported type %q", def.Name, c.Name, c.Type)
		}
		if seen[c.Name] {
			return domain.ErrValidation("table %q: duplicate column %q", def.Name, c.Name)
		}
		seen[c.Name] = true
		if c.Transform == nil && c.TransformName != "" {
			fn, ok := LookupTransform(c.TransformName)
			if !ok {
				return domain.ErrValidation("table %q: column %q uses unknown transform %q", def.Name, c.Name, c.TransformName)
			}
			c.Transform = fn
		}
	}
	for _, c := range def.Computed {
		if !identPattern.MatchString(c.Name) {
			return domain.ErrValidation("table %q: invalid computed column name %q", def.Name, c.Name)
		}
		if strings.TrimSpace(c.Expression) == "" {
			return domain.ErrValidation("table %q: computed column %q has an empty expression", def.Name, c.Name)
		}
		if !c.Type.Valid() {
			return domain.ErrValidation("table %q: computed column %q has unsupported type %q", def.Name, c.Name, c.Type)
		}
		if seen[c.Name] {
			return domain.ErrValidation("table %q: duplicate column %q", def.Name, c.Name)
		}
		seen[c.Name] = true
	}
	if def.TenantColumn != "" && !identPattern.MatchString(def.TenantColumn) {
		return domain.ErrValidation("table %q: invalid tenant column %q", def.Name, def.TenantColumn)
	}
	return checkRelationships(def.Name, def.Relationships)
}

func checkRelationships(table string, rels []domain.RelationshipDefinition) error {
	seen := make(map[string]bool, len(rels))
	for i := range rels {
		rel := &rels[i]
		if !identPattern.MatchString(rel.Name) {
			return domain.ErrValidation("table %q: invalid relationship name %q", table, rel.Name)
		}
		if seen[rel.Name] {
			return domain.ErrValidation("table %q: duplicate relationship %q", table, rel.Name)
		}
		seen[rel.Name] = true
		if !identPattern.MatchString(rel.Table) {
			return domain.ErrValidation("table %q: relationship %q has invalid target %q", table, rel.Name, rel.Table)
		}
		if !identPattern.MatchString(rel.LocalKey) || !identPattern.MatchString(rel.ForeignKey) {
			return domain.ErrValidation("table %q: relationship %q needs plain local and foreign keys", table, rel.Name)
		}
		jt, ok := domain.ParseJoinType(string(rel.Type))
		if !ok {
			return domain.ErrValidation("table %q: relationship %q has unsupported join type %q", table, rel.Name, rel.Type)
		}
		rel.Type = jt
		if err := checkRelationships(table, rel.Nested); err != nil {
			return err
		}
	}
	return nil
}
