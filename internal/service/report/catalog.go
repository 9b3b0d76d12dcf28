package report

import (
	"fleet-reports/internal/domain"
	"fleet-reports/internal/service/expression"
	"fleet-reports/internal/service/schema"
)

// TableSummary is one entry of the table listing.
type TableSummary struct {
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	Category    string   `json:"category,omitempty"`
	MaxRows     int      `json:"max_rows"`
	Cacheable   bool     `json:"cacheable"`
	Aggregates  bool     `json:"aggregates"`
	Permissions []string `json:"permissions,omitempty"`
}

// RelationshipSummary describes a relationship reachable from a table.
type RelationshipSummary struct {
	Name     string                `json:"name"`
	Table    string                `json:"table"`
	Type     domain.JoinType       `json:"type"`
	AutoJoin bool                  `json:"auto_join"`
	Nested   []RelationshipSummary `json:"nested,omitempty"`
}

// TableDetail is the discovery view of one table.
type TableDetail struct {
	TableSummary
	Columns       []schema.ColumnInfo   `json:"columns"`
	Relationships []RelationshipSummary `json:"relationships"`
}

// Grammar lists what computed expressions may contain.
type Grammar struct {
	Functions []string `json:"functions"`
	Operators []string `json:"operators"`
	Keywords  []string `json:"keywords"`
}

// Tables lists every registered table by name.
func (s *Service) Tables() []TableSummary {
	defs := s.registry.Tables()
	out := make([]TableSummary, len(defs))
	for i, d := range defs {
		out[i] = summarize(d)
	}
	return out
}

// Table returns the discovery view of name.
func (s *Service) Table(name string) (*TableDetail, error) {
	def, err := s.registry.GetTable(name)
	if err != nil {
		return nil, err
	}
	cols, err := s.registry.VisibleColumns(name)
	if err != nil {
		return nil, err
	}
	return &TableDetail{
		TableSummary:  summarize(def),
		Columns:       cols,
		Relationships: summarizeRelationships(def.Relationships),
	}, nil
}

// Grammar returns the expression safelists.
func (s *Service) Grammar() Grammar {
	return Grammar{
		Functions: expression.AllowedFunctions(),
		Operators: expression.AllowedOperators(),
		Keywords:  expression.AllowedKeywords(),
	}
}

func summarize(d domain.TableDefinition) TableSummary {
	return TableSummary{
		Name:        d.Name,
		Label:       d.Label,
		Category:    d.Category,
		MaxRows:     d.MaxRows,
		Cacheable:   d.Cacheable,
		Aggregates:  d.AllowAggregates,
		Permissions: d.Permissions,
	}
}

func summarizeRelationships(rels []domain.RelationshipDefinition) []RelationshipSummary {
	out := make([]RelationshipSummary, 0, len(rels))
	for _, r := range rels {
		if !r.Enabled {
			continue
		}
		out = append(out, RelationshipSummary{
			Name:     r.Name,
			Table:    r.Table,
			Type:     r.Type,
			AutoJoin: r.AutoJoin,
			Nested:   summarizeRelationships(r.Nested),
		})
	}
	return out
}
