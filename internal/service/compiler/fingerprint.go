package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/goccy/go-json"
)

type canonicalColumn struct {
	Alias string `json:"alias"`
	SQL   string `json:"sql"`
}

// canonicalQuery is the order-insensitive form of a compiled query. Select
// items, joins and group terms are sorted; order terms and bound values keep
// their order because they change the result.
type canonicalQuery struct {
	Tenant     string            `json:"tenant"`
	From       string            `json:"from"`
	Select     []canonicalColumn `json:"select"`
	Joins      []string          `json:"joins"`
	Where      string            `json:"where"`
	WhereArgs  []interface{}     `json:"where_args"`
	GroupBy    []string          `json:"group_by"`
	Having     string            `json:"having"`
	HavingArgs []interface{}     `json:"having_args"`
	OrderBy    []string          `json:"order_by"`
	HasLimit   bool              `json:"has_limit"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// fingerprint hashes the canonical query. The root table name prefixes the
// digest so cache entries can be invalidated per table.
func (b *build) fingerprint(joins []*joinClause) string {
	cq := canonicalQuery{
		Tenant:     b.tenant.TenantID,
		From:       b.base.Name,
		Where:      b.whereSQL,
		WhereArgs:  b.whereArgs,
		Having:     b.havingSQL,
		HavingArgs: b.havingArgs,
		OrderBy:    b.orderSQL,
		HasLimit:   b.hasLimit,
		Limit:      b.rowCap,
		Offset:     b.offset,
	}
	for _, s := range b.selects {
		cq.Select = append(cq.Select, canonicalColumn{Alias: s.alias, SQL: s.sql})
	}
	sort.Slice(cq.Select, func(i, j int) bool { return cq.Select[i].Alias < cq.Select[j].Alias })
	for _, j := range joins {
		cq.Joins = append(cq.Joins, string(j.typ)+" "+j.table.Name+" "+j.alias+" "+j.on)
	}
	sort.Strings(cq.Joins)
	cq.GroupBy = append(cq.GroupBy, b.groupSQL...)
	sort.Strings(cq.GroupBy)

	// Marshal cannot fail: every field is a string, number, bool or a bound
	// value produced by coerce.
	payload, _ := json.Marshal(cq)
	sum := sha256.Sum256(payload)
	return b.base.Name + ":" + hex.EncodeToString(sum[:])
}
