package domain

import (
	"strings"
	"time"
)

// AggregateFunction is one of the closed set of aggregates a select item may apply.
type AggregateFunction string

// Supported aggregate functions.
const (
	AggregateCount AggregateFunction = "COUNT"
	AggregateSum   AggregateFunction = "SUM"
	AggregateAvg   AggregateFunction = "AVG"
	AggregateMin   AggregateFunction = "MIN"
	AggregateMax   AggregateFunction = "MAX"
)

// ParseAggregate normalizes s into an AggregateFunction.
func ParseAggregate(s string) (AggregateFunction, bool) {
	switch AggregateFunction(strings.ToUpper(strings.TrimSpace(s))) {
	case AggregateCount:
		return AggregateCount, true
	case AggregateSum:
		return AggregateSum, true
	case AggregateAvg:
		return AggregateAvg, true
	case AggregateMin:
		return AggregateMin, true
	case AggregateMax:
		return AggregateMax, true
	}
	return "", false
}

// SelectItem is one entry of a QuerySpecification select list.
type SelectItem struct {
	Table    string `json:"table,omitempty" validate:"omitempty,max=128"`
	Column   string `json:"column" validate:"required,max=256"`
	Alias    string `json:"alias,omitempty" validate:"omitempty,max=128"`
	Function string `json:"function,omitempty" validate:"omitempty,max=16"`
}

// JoinCondition is one equality between two column references.
type JoinCondition struct {
	Left  string `json:"left" validate:"required,max=256"`
	Right string `json:"right" validate:"required,max=256"`
}

// JoinSpec is an explicitly declared join.
type JoinSpec struct {
	Type  string          `json:"type,omitempty" validate:"omitempty,max=16"`
	Table string          `json:"table" validate:"required,max=128"`
	On    []JoinCondition `json:"on" validate:"required,min=1,dive"`
}

// Condition is one link of a where/having predicate chain. Logic joins the
// condition to everything before it; it is ignored on the first entry.
type Condition struct {
	Column   string      `json:"column" validate:"required,max=256"`
	Operator string      `json:"operator" validate:"required,max=16"`
	Value    interface{} `json:"value,omitempty"`
	Logic    string      `json:"logic,omitempty" validate:"omitempty,max=3"`
	Function string      `json:"function,omitempty" validate:"omitempty,max=16"`
}

// OrderSpec is one orderBy entry.
type OrderSpec struct {
	Column    string `json:"column" validate:"required,max=256"`
	Direction string `json:"direction,omitempty" validate:"omitempty,max=4"`
}

// QuerySpecification is the caller-supplied description of a report query.
// It is plain data and is never trusted until compiled.
type QuerySpecification struct {
	Select  []SelectItem `json:"select" validate:"required,min=1,dive"`
	From    string       `json:"from" validate:"required,max=128"`
	Joins   []JoinSpec   `json:"joins,omitempty" validate:"dive"`
	Where   []Condition  `json:"where,omitempty" validate:"dive"`
	GroupBy []string     `json:"groupBy,omitempty" validate:"dive,required"`
	Having  []Condition  `json:"having,omitempty" validate:"dive"`
	OrderBy []OrderSpec  `json:"orderBy,omitempty" validate:"dive"`
	Limit   *int         `json:"limit,omitempty" validate:"omitempty,min=0"`
	Offset  *int         `json:"offset,omitempty" validate:"omitempty,min=0"`
}

// OutputColumn describes one column of a compiled query's result.
type OutputColumn struct {
	Alias     string
	Source    string
	Type      ColumnType
	Aggregate AggregateFunction
	Transform ValueTransform
}

// ResolvedJoin is a join that the compiler added to the query.
type ResolvedJoin struct {
	Path  string
	Table string
	Alias string
	Type  JoinType
	Auto  bool
}

// CompiledQuery is the compiler's output: an executable statement with bound
// parameters plus the metadata the execution layer needs. It is never mutated
// after compilation.
type CompiledQuery struct {
	SQL                 string
	Args                []interface{}
	Table               string
	TenantID            string
	Columns             []OutputColumn
	Joins               []ResolvedJoin
	RowCap              int
	RequestedLimit      int
	Clamped             bool
	Offset              int
	Fingerprint         string
	Cacheable           bool
	CacheTTL            time.Duration
	Timeout             time.Duration
	RequiredPermissions []string
	Spec                QuerySpecification
}

// ColumnNames returns the output aliases in projection order.
func (q *CompiledQuery) ColumnNames() []string {
	names := make([]string, len(q.Columns))
	for i, c := range q.Columns {
		names[i] = c.Alias
	}
	return names
}

// RowSet is the raw tabular output of the storage collaborator.
type RowSet struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}
