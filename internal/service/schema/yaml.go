package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fleet-reports/internal/domain"
)

//go:embed fleet.yaml
var fleetYAML []byte

type catalogDoc struct {
	Tables []tableDoc `yaml:"tables"`
}

type tableDoc struct {
	Name            string            `yaml:"name"`
	Label           string            `yaml:"label"`
	Category        string            `yaml:"category"`
	TenantColumn    string            `yaml:"tenant_column"`
	AllowAggregates *bool             `yaml:"allow_aggregates"`
	MaxRows         int               `yaml:"max_rows"`
	CacheTTL        string            `yaml:"cache_ttl"`
	Timeout         string            `yaml:"timeout"`
	Permissions     []string          `yaml:"permissions"`
	Exclude         []string          `yaml:"exclude"`
	Columns         []columnDoc       `yaml:"columns"`
	Computed        []computedDoc     `yaml:"computed"`
	Relationships   []relationshipDoc `yaml:"relationships"`
}

type columnDoc struct {
	Name         string `yaml:"name"`
	Label        string `yaml:"label"`
	Type         string `yaml:"type"`
	Nullable     bool   `yaml:"nullable"`
	Hidden       bool   `yaml:"hidden"`
	Transform    string `yaml:"transform"`
	Searchable   *bool  `yaml:"searchable"`
	Sortable     *bool  `yaml:"sortable"`
	Filterable   *bool  `yaml:"filterable"`
	Aggregatable *bool  `yaml:"aggregatable"`
}

type computedDoc struct {
	Name         string `yaml:"name"`
	Label        string `yaml:"label"`
	Expression   string `yaml:"expression"`
	Type         string `yaml:"type"`
	Hidden       bool   `yaml:"hidden"`
	Searchable   *bool  `yaml:"searchable"`
	Sortable     *bool  `yaml:"sortable"`
	Filterable   *bool  `yaml:"filterable"`
	Aggregatable *bool  `yaml:"aggregatable"`
}

type relationshipDoc struct {
	Name       string            `yaml:"name"`
	Table      string            `yaml:"table"`
	Join       string            `yaml:"join"`
	LocalKey   string            `yaml:"local_key"`
	ForeignKey string            `yaml:"foreign_key"`
	AutoJoin   bool              `yaml:"auto_join"`
	Enabled    *bool             `yaml:"enabled"`
	Nested     []relationshipDoc `yaml:"nested"`
}

// FleetTables returns the built-in fleet-management catalogue.
func FleetTables() ([]domain.TableDefinition, error) {
	return LoadYAML(bytes.NewReader(fleetYAML))
}

// LoadYAMLFile reads table definitions from a YAML file on disk.
func LoadYAMLFile(path string) ([]domain.TableDefinition, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("open schema file: %w", err)
	}
	defer f.Close() //nolint:errcheck
	return LoadYAML(f)
}

// LoadYAML decodes an ordered list of table definitions. The result still has
// to be registered; registration performs the structural checks.
func LoadYAML(r io.Reader) ([]domain.TableDefinition, error) {
	var doc catalogDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schema yaml: %w", err)
	}

	defs := make([]domain.TableDefinition, 0, len(doc.Tables))
	for _, td := range doc.Tables {
		def, err := td.toDefinition()
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", td.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (td tableDoc) toDefinition() (domain.TableDefinition, error) {
	opts := []TableOption{
		Category(td.Category),
		TenantScoped(td.TenantColumn),
		MaxRows(td.MaxRows),
		RequirePermissions(td.Permissions...),
		Exclude(td.Exclude...),
	}
	if td.AllowAggregates != nil && !*td.AllowAggregates {
		opts = append(opts, NoAggregates())
	}
	if td.CacheTTL != "" {
		ttl, err := time.ParseDuration(td.CacheTTL)
		if err != nil {
			return domain.TableDefinition{}, fmt.Errorf("cache_ttl: %w", err)
		}
		opts = append(opts, Cached(ttl))
	}
	if td.Timeout != "" {
		d, err := time.ParseDuration(td.Timeout)
		if err != nil {
			return domain.TableDefinition{}, fmt.Errorf("timeout: %w", err)
		}
		opts = append(opts, Timeout(d))
	}

	for _, cd := range td.Columns {
		col := Column(cd.Name, domain.ColumnType(cd.Type))
		if cd.Label != "" {
			col.Label = cd.Label
		}
		col.Nullable = cd.Nullable
		col.Hidden = cd.Hidden
		col.TransformName = cd.Transform
		overrideFlags(&col.Searchable, &col.Sortable, &col.Filterable, &col.Aggregatable,
			cd.Searchable, cd.Sortable, cd.Filterable, cd.Aggregatable)
		opts = append(opts, Columns(col))
	}
	for _, cd := range td.Computed {
		col := Computed(cd.Name, cd.Expression, domain.ColumnType(cd.Type))
		if cd.Label != "" {
			col.Label = cd.Label
		}
		col.Hidden = cd.Hidden
		overrideFlags(&col.Searchable, &col.Sortable, &col.Filterable, &col.Aggregatable,
			cd.Searchable, cd.Sortable, cd.Filterable, cd.Aggregatable)
		opts = append(opts, ComputedColumns(col))
	}
	for _, rd := range td.Relationships {
		rel, err := rd.toDefinition()
		if err != nil {
			return domain.TableDefinition{}, err
		}
		opts = append(opts, Relationships(rel))
	}
	return NewTable(td.Name, td.Label, opts...), nil
}

func (rd relationshipDoc) toDefinition() (domain.RelationshipDefinition, error) {
	jt, ok := domain.ParseJoinType(rd.Join)
	if !ok {
		return domain.RelationshipDefinition{}, fmt.Errorf("relationship %q: unsupported join type %q", rd.Name, rd.Join)
	}
	opts := []RelationshipOption{JoinAs(jt)}
	if rd.AutoJoin {
		opts = append(opts, AutoJoin())
	}
	if rd.Enabled != nil && !*rd.Enabled {
		opts = append(opts, Disabled())
	}
	for _, nd := range rd.Nested {
		nested, err := nd.toDefinition()
		if err != nil {
			return domain.RelationshipDefinition{}, err
		}
		opts = append(opts, Nested(nested))
	}
	return Relationship(rd.Name, rd.Table, rd.LocalKey, rd.ForeignKey, opts...), nil
}

func overrideFlags(searchable, sortable, filterable, aggregatable *bool, s, so, f, a *bool) {
	if s != nil {
		*searchable = *s
	}
	if so != nil {
		*sortable = *so
	}
	if f != nil {
		*filterable = *f
	}
	if a != nil {
		*aggregatable = *a
	}
}
