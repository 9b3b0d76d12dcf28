package compiler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/service/expression"
)

// errNoRoot marks a reference that cannot be checked because the root table
// failed to resolve.
var errNoRoot = errors.New("root table unresolved")

// ref is a resolved column reference anchored at a table alias. The column's
// relationship path (if any) starts from owner.
type ref struct {
	res     domain.ResolvedColumn
	owner   string
	display string
}

// resolve resolves name, optionally qualified by an explicitly joined table.
// Unqualified names are tried on the root table first, then as
// "<joined table>.<column>" and "<manual relationship>.<column>" when the
// relationship's target is explicitly joined.
func (b *build) resolve(table, name string) (*ref, error) {
	table = strings.TrimSpace(table)
	name = strings.TrimSpace(name)

	if table != "" && (!b.baseOK || table != b.base.Name) {
		jc, ok := b.explicitT[table]
		if !ok {
			if b.c.catalog.HasTable(table) {
				return nil, fmt.Errorf("table %q is not joined", table)
			}
			return nil, &domain.UnknownTableError{Table: table}
		}
		return b.resolveIn(jc, name)
	}

	if !b.baseOK {
		if prefix, rest, ok := strings.Cut(name, "."); ok {
			if jc, ok := b.explicitT[prefix]; ok {
				return b.resolveIn(jc, rest)
			}
		}
		return nil, errNoRoot
	}

	res, err := b.c.catalog.ResolveColumn(b.base.Name, name)
	if err == nil {
		return &ref{res: res, owner: b.base.Name, display: b.base.Name + "." + name}, nil
	}
	prefix, rest, dotted := strings.Cut(name, ".")
	if !dotted {
		return nil, err
	}
	if prefix == b.base.Name {
		if res, rerr := b.c.catalog.ResolveColumn(b.base.Name, rest); rerr == nil {
			return &ref{res: res, owner: b.base.Name, display: name}, nil
		}
	}
	if jc, ok := b.explicitT[prefix]; ok {
		return b.resolveIn(jc, rest)
	}
	if rel, ok := b.base.Relationship(prefix); ok && rel.Enabled && !rel.AutoJoin {
		if jc, ok := b.explicitT[rel.Table]; ok {
			return b.resolveIn(jc, rest)
		}
	}
	return nil, err
}

func (b *build) resolveIn(jc *joinClause, name string) (*ref, error) {
	res, err := b.c.catalog.ResolveColumn(jc.table.Name, name)
	if err != nil {
		return nil, err
	}
	return &ref{res: res, owner: jc.alias, display: jc.alias + "." + name}, nil
}

// columnSQL renders r as a qualified SQL expression, adding any auto joins
// its relationship path needs.
func (b *build) columnSQL(label string, r *ref) string {
	return b.columnSQLFrom(label, r, nil)
}

func (b *build) columnSQLFrom(label string, r *ref, stack []string) string {
	alias := r.owner
	path := ""
	if r.owner != b.base.Name {
		path = r.owner
	}
	for _, rel := range r.res.Via {
		parent := alias
		alias = alias + "__" + rel.Name
		if path == "" {
			path = rel.Name
		} else {
			path = path + "." + rel.Name
		}
		b.ensureAutoJoin(label, alias, parent, path, rel)
	}

	if r.res.Computed != nil {
		return b.computedSQL(label, alias, r.res.Table, *r.res.Computed, stack)
	}
	col := r.res.Column
	if col.IsJSONPath() {
		base, jsonPath := col.JSONPath()
		return fmt.Sprintf("json_extract(%s, '%s')", qualify(alias, base), jsonPath)
	}
	return qualify(alias, col.Name)
}

func (b *build) ensureAutoJoin(label, alias, parent, path string, rel domain.RelationshipDefinition) {
	if _, ok := b.auto[alias]; ok {
		return
	}
	target, err := b.c.catalog.GetTable(rel.Table)
	if err != nil {
		b.problems.add("%s: relationship %q: %v", label, path, err)
		return
	}
	jc := &joinClause{
		alias: alias,
		path:  path,
		table: target,
		typ:   rel.Type,
		on:    qualify(parent, rel.LocalKey) + " = " + qualify(alias, rel.ForeignKey),
		auto:  true,
	}
	if target.TenantColumn != "" && b.tenant.TenantID != "" {
		jc.on += " AND " + qualify(alias, target.TenantColumn) + " = ?"
		jc.args = append(jc.args, b.tenant.TenantID)
	}
	b.auto[alias] = jc
}

// computedSQL expands a computed column into a parenthesized SQL expression
// whose identifiers are resolved relative to owner. The expression is checked
// by the validator before any token is rendered.
func (b *build) computedSQL(label, owner, table string, cc domain.ComputedColumnDefinition, stack []string) string {
	key := table + "." + cc.Name
	if slices.Contains(stack, key) {
		b.problems.add("%s: computed column %q references itself", label, cc.Name)
		return "NULL"
	}
	valid, seen := b.validated[key]
	if !seen {
		valid = true
		if err := b.c.validator.Check(cc.Expression, table); err != nil {
			valid = false
			var invalid *domain.InvalidExpressionError
			if errors.As(err, &invalid) {
				for _, p := range invalid.Problems {
					b.problems.add("%s: computed column %q: %s", label, cc.Name, p)
				}
			} else {
				b.problems.add("%s: computed column %q: %v", label, cc.Name, err)
			}
		}
		b.validated[key] = valid
	}
	if !valid {
		return "NULL"
	}
	stack = append(slices.Clone(stack), key)

	tokens := expression.Tokenize(cc.Expression)
	var sb strings.Builder
	for i, tok := range tokens {
		text := tok.Text
		if tok.Kind == expression.TokenIdent {
			switch {
			case expression.IsKeyword(text), expression.IsFunctionCall(tokens, i):
				text = strings.ToUpper(text)
			default:
				res, err := b.c.catalog.ResolveColumn(table, text)
				if err != nil {
					b.problems.add("%s: computed column %q: %v", label, cc.Name, err)
					return "NULL"
				}
				text = b.columnSQLFrom(label, &ref{res: res, owner: owner}, stack)
			}
		}
		if i > 0 && needsSpace(tokens, i) {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return "(" + sb.String() + ")"
}

func needsSpace(tokens []expression.Token, i int) bool {
	prev, cur := tokens[i-1], tokens[i]
	switch {
	case prev.Kind == expression.TokenLParen:
		return false
	case cur.Kind == expression.TokenRParen, cur.Kind == expression.TokenComma:
		return false
	case cur.Kind == expression.TokenLParen && expression.IsFunctionCall(tokens, i-1):
		return false
	}
	return true
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualify(alias, column string) string {
	return quoteIdent(alias) + "." + quoteIdent(column)
}
