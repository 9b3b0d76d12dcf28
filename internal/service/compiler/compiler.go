// Package compiler turns a QuerySpecification into an executable,
// parameterized CompiledQuery after checking it against the schema catalogue.
package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/service/expression"
)

// noLimit stands in for "unbounded" when an OFFSET needs a LIMIT clause.
const noLimit = "9223372036854775807"

var aliasPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Catalog is the read side of the schema registry.
type Catalog interface {
	expression.ColumnResolver
	GetTable(name string) (domain.TableDefinition, error)
}

// Compiler compiles query specifications. It performs no I/O and holds no
// mutable state, so one instance may be shared by any number of goroutines.
type Compiler struct {
	catalog   Catalog
	validator *expression.Validator
}

// New creates a Compiler.
func New(catalog Catalog, validator *expression.Validator) *Compiler {
	return &Compiler{catalog: catalog, validator: validator}
}

// Compile checks spec against the catalogue and emits a CompiledQuery for
// tenant. Every detectable problem is reported at once in a
// *domain.QueryCompilationError.
func (c *Compiler) Compile(spec domain.QuerySpecification, tenant domain.TenantContext) (*domain.CompiledQuery, error) {
	b := newBuild(c, spec, tenant)
	b.run()
	if len(b.problems) > 0 {
		return nil, &domain.QueryCompilationError{Problems: b.problems.list()}
	}
	return b.result(), nil
}

type selected struct {
	alias     string
	sql       string
	ref       *ref
	aggregate domain.AggregateFunction
	typ       domain.ColumnType
	transform domain.ValueTransform
}

type joinClause struct {
	alias string
	path  string
	table domain.TableDefinition
	typ   domain.JoinType
	on    string
	args  []interface{}
	auto  bool
}

type build struct {
	c      *Compiler
	spec   domain.QuerySpecification
	tenant domain.TenantContext

	problems problems
	base     domain.TableDefinition
	baseOK   bool

	explicit  []*joinClause
	explicitT map[string]*joinClause
	auto      map[string]*joinClause

	selects  []selected
	aliases  map[string]int
	hasAgg   bool
	groupSQL []string

	whereSQL   string
	whereArgs  []interface{}
	havingSQL  string
	havingArgs []interface{}
	orderSQL   []string

	validated map[string]bool

	rowCap    int
	hasLimit  bool
	requested int
	clamped   bool
	offset    int
}

func newBuild(c *Compiler, spec domain.QuerySpecification, tenant domain.TenantContext) *build {
	return &build{
		c:         c,
		spec:      spec,
		tenant:    tenant,
		explicitT: make(map[string]*joinClause),
		auto:      make(map[string]*joinClause),
		aliases:   make(map[string]int),
		validated: make(map[string]bool),
	}
}

func (b *build) run() {
	base, err := b.c.catalog.GetTable(strings.TrimSpace(b.spec.From))
	if err != nil {
		b.problems.add("from: %v", err)
	} else {
		b.base = base
		b.baseOK = true
		if base.TenantColumn != "" && b.tenant.TenantID == "" {
			b.problems.add("from: table %q is tenant scoped but no tenant is set", base.Name)
		}
	}

	// Explicit joins are checked even when the root table is unknown.
	b.compileJoins()
	if !b.baseOK {
		return
	}

	b.compileSelect()
	b.whereSQL, b.whereArgs = b.compileConditions("where", b.spec.Where, false)
	b.compileGroupBy()
	b.havingSQL, b.havingArgs = b.compileConditions("having", b.spec.Having, true)
	b.compileOrderBy()
	b.compileLimit()
}

func (b *build) compileJoins() {
	for i, j := range b.spec.Joins {
		label := fmt.Sprintf("joins[%d]", i)
		jt, ok := domain.ParseJoinType(j.Type)
		if !ok {
			b.problems.add("%s: unsupported join type %q", label, j.Type)
		}
		target, err := b.c.catalog.GetTable(strings.TrimSpace(j.Table))
		if err != nil {
			b.problems.add("%s: %v", label, err)
			continue
		}
		if b.baseOK && target.Name == b.base.Name {
			b.problems.add("%s: table %q is already the root table", label, target.Name)
			continue
		}
		if _, dup := b.explicitT[target.Name]; dup {
			b.problems.add("%s: table %q is joined more than once", label, target.Name)
			continue
		}
		if len(j.On) == 0 {
			b.problems.add("%s: at least one join condition is required", label)
		}

		jc := &joinClause{alias: target.Name, path: target.Name, table: target, typ: jt}
		// Conditions may reference the root, earlier joins and this join.
		b.explicitT[target.Name] = jc
		var on []string
		for k, cond := range j.On {
			left, lok := b.joinOperand(fmt.Sprintf("%s.on[%d].left", label, k), cond.Left)
			right, rok := b.joinOperand(fmt.Sprintf("%s.on[%d].right", label, k), cond.Right)
			if lok && rok {
				on = append(on, left+" = "+right)
			}
		}
		if target.TenantColumn != "" && b.tenant.TenantID != "" {
			on = append(on, qualify(jc.alias, target.TenantColumn)+" = ?")
			jc.args = append(jc.args, b.tenant.TenantID)
		}
		jc.on = strings.Join(on, " AND ")
		b.explicit = append(b.explicit, jc)
	}
}

func (b *build) joinOperand(label, name string) (string, bool) {
	r, err := b.resolve("", name)
	if errors.Is(err, errNoRoot) {
		return "", false
	}
	if err != nil {
		b.problems.add("%s: %v", label, err)
		return "", false
	}
	if len(r.res.Via) > 0 || r.res.IsComputed() {
		b.problems.add("%s: join conditions must reference plain columns, got %q", label, name)
		return "", false
	}
	return b.columnSQL(label, r), true
}

func (b *build) compileSelect() {
	if len(b.spec.Select) == 0 {
		b.problems.add("select: at least one column is required")
	}
	for i, item := range b.spec.Select {
		label := fmt.Sprintf("select[%d]", i)
		s := selected{}

		if item.Function != "" {
			fn, ok := domain.ParseAggregate(item.Function)
			if !ok {
				b.problems.add("%s: unsupported aggregate function %q", label, item.Function)
				continue
			}
			s.aggregate = fn
		}

		tableName := strings.TrimSpace(item.Table)
		if tableName == "" {
			tableName = b.base.Name
		}

		if strings.TrimSpace(item.Column) == "*" {
			if s.aggregate != domain.AggregateCount {
				b.problems.add("%s: \"*\" can only be used with COUNT", label)
				continue
			}
			if !b.base.AllowAggregates {
				b.problems.add("%s: table %q does not permit aggregate functions", label, b.base.Name)
			}
			s.sql = "COUNT(*)"
			s.typ = domain.ColumnTypeInteger
			b.hasAgg = true
			b.addSelect(label, item.Alias, defaultAlias(s.aggregate, tableName, "all"), s)
			continue
		}

		r, err := b.resolve(item.Table, item.Column)
		if err != nil {
			b.problems.add("%s: %v", label, err)
			continue
		}
		colSQL := b.columnSQL(label, r)
		s.ref = r

		if s.aggregate != "" {
			b.hasAgg = true
			if !b.tableAllowsAggregates(r.res.Table) {
				b.problems.add("%s: table %q does not permit aggregate functions", label, r.res.Table)
			}
			if s.aggregate != domain.AggregateCount && !r.res.Aggregatable() {
				b.problems.add("%s: column %q is not aggregatable", label, item.Column)
			}
			s.sql = fmt.Sprintf("%s(%s)", s.aggregate, colSQL)
			s.typ = aggregateType(s.aggregate, r.res.Type())
		} else {
			s.sql = colSQL
			s.typ = r.res.Type()
			if r.res.Column != nil {
				s.transform = r.res.Column.Transform
			}
		}
		b.addSelect(label, item.Alias, defaultAlias(s.aggregate, tableName, item.Column), s)
	}
}

func (b *build) addSelect(label, alias, fallback string, s selected) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		alias = fallback
	}
	if !aliasPattern.MatchString(alias) {
		b.problems.add("%s: invalid alias %q", label, alias)
		return
	}
	if _, dup := b.aliases[alias]; dup {
		b.problems.add("%s: duplicate alias %q", label, alias)
		return
	}
	s.alias = alias
	b.aliases[alias] = len(b.selects)
	b.selects = append(b.selects, s)
}

func (b *build) compileGroupBy() {
	seen := make(map[string]bool)
	for i, name := range b.spec.GroupBy {
		label := fmt.Sprintf("groupBy[%d]", i)
		sql, ok := b.groupTerm(label, name)
		if !ok || seen[sql] {
			continue
		}
		seen[sql] = true
		b.groupSQL = append(b.groupSQL, sql)
	}

	if !b.hasAgg && len(b.groupSQL) == 0 {
		return
	}
	for i := range b.selects {
		s := &b.selects[i]
		if s.aggregate != "" {
			continue
		}
		if !seen[s.sql] {
			b.problems.add("select column %q must appear in groupBy or use an aggregate function", s.alias)
		}
	}
}

func (b *build) groupTerm(label, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if s, ok := b.selectByAlias(name); ok {
		if s.aggregate != "" {
			b.problems.add("%s: cannot group by aggregated column %q", label, name)
			return "", false
		}
		return s.sql, true
	}
	r, err := b.resolve("", name)
	if err != nil {
		b.problems.add("%s: %v", label, err)
		return "", false
	}
	return b.columnSQL(label, r), true
}

func (b *build) compileOrderBy() {
	grouped := make(map[string]bool, len(b.groupSQL))
	for _, g := range b.groupSQL {
		grouped[g] = true
	}
	for i, o := range b.spec.OrderBy {
		label := fmt.Sprintf("orderBy[%d]", i)
		dir := strings.ToUpper(strings.TrimSpace(o.Direction))
		switch dir {
		case "":
			dir = "ASC"
		case "ASC", "DESC":
		default:
			b.problems.add("%s: unsupported direction %q", label, o.Direction)
			continue
		}

		name := strings.TrimSpace(o.Column)
		if s, ok := b.selectByAlias(name); ok {
			if b.hasAgg && s.aggregate == "" && !grouped[s.sql] {
				b.problems.add("%s: column %q must appear in groupBy when aggregates are selected", label, name)
				continue
			}
			b.orderSQL = append(b.orderSQL, quoteIdent(s.alias)+" "+dir)
			continue
		}

		r, err := b.resolve("", name)
		if err != nil {
			b.problems.add("%s: %v", label, err)
			continue
		}
		if !r.res.Sortable() {
			b.problems.add("%s: column %q is not sortable", label, name)
			continue
		}
		sql := b.columnSQL(label, r)
		if b.hasAgg && !grouped[sql] {
			b.problems.add("%s: column %q must appear in groupBy when aggregates are selected", label, name)
			continue
		}
		b.orderSQL = append(b.orderSQL, sql+" "+dir)
	}
}

func (b *build) compileLimit() {
	if b.spec.Limit != nil {
		if *b.spec.Limit < 0 {
			b.problems.add("limit: must not be negative")
		} else {
			b.hasLimit = true
			b.requested = *b.spec.Limit
			b.rowCap = b.requested
		}
	}
	if b.base.MaxRows > 0 {
		if !b.hasLimit || b.rowCap > b.base.MaxRows {
			b.clamped = b.hasLimit
			b.rowCap = b.base.MaxRows
		}
		b.hasLimit = true
	}
	if b.spec.Offset != nil {
		if *b.spec.Offset < 0 {
			b.problems.add("offset: must not be negative")
		} else {
			b.offset = *b.spec.Offset
		}
	}
}

func (b *build) selectByAlias(alias string) (selected, bool) {
	i, ok := b.aliases[alias]
	if !ok {
		return selected{}, false
	}
	return b.selects[i], true
}

func (b *build) tableAllowsAggregates(name string) bool {
	if name == b.base.Name {
		return b.base.AllowAggregates
	}
	def, err := b.c.catalog.GetTable(name)
	return err == nil && def.AllowAggregates
}

// orderedJoins returns explicit joins in declaration order followed by auto
// joins ordered by alias, which places every parent before its children.
func (b *build) orderedJoins() []*joinClause {
	out := slices.Clone(b.explicit)
	autos := make([]*joinClause, 0, len(b.auto))
	for _, j := range b.auto {
		autos = append(autos, j)
	}
	sort.Slice(autos, func(i, j int) bool { return autos[i].alias < autos[j].alias })
	return append(out, autos...)
}

func (b *build) result() *domain.CompiledQuery {
	var sb strings.Builder
	var args []interface{}

	cols := make([]string, len(b.selects))
	out := make([]domain.OutputColumn, len(b.selects))
	for i, s := range b.selects {
		cols[i] = s.sql + " AS " + quoteIdent(s.alias)
		out[i] = domain.OutputColumn{Alias: s.alias, Type: s.typ, Aggregate: s.aggregate, Transform: s.transform}
		if s.ref != nil {
			out[i].Source = s.ref.display
		}
	}
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(b.base.Name))

	joins := b.orderedJoins()
	resolved := make([]domain.ResolvedJoin, len(joins))
	perms := slices.Clone(b.base.Permissions)
	for i, j := range joins {
		fmt.Fprintf(&sb, " %s %s", j.typ.SQL(), quoteIdent(j.table.Name))
		if j.alias != j.table.Name {
			sb.WriteString(" AS " + quoteIdent(j.alias))
		}
		sb.WriteString(" ON " + j.on)
		args = append(args, j.args...)
		resolved[i] = domain.ResolvedJoin{Path: j.path, Table: j.table.Name, Alias: j.alias, Type: j.typ, Auto: j.auto}
		perms = append(perms, j.table.Permissions...)
	}

	var where []string
	if b.base.TenantColumn != "" {
		where = append(where, qualify(b.base.Name, b.base.TenantColumn)+" = ?")
		args = append(args, b.tenant.TenantID)
	}
	if b.whereSQL != "" {
		if len(where) > 0 {
			where = append(where, "("+b.whereSQL+")")
		} else {
			where = append(where, b.whereSQL)
		}
		args = append(args, b.whereArgs...)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if len(b.groupSQL) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(b.groupSQL, ", "))
	}
	if b.havingSQL != "" {
		sb.WriteString(" HAVING " + b.havingSQL)
		args = append(args, b.havingArgs...)
	}
	if len(b.orderSQL) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(b.orderSQL, ", "))
	}
	if b.hasLimit {
		sb.WriteString(" LIMIT " + strconv.Itoa(b.rowCap))
	}
	if b.offset > 0 {
		if !b.hasLimit {
			sb.WriteString(" LIMIT " + noLimit)
		}
		sb.WriteString(" OFFSET " + strconv.Itoa(b.offset))
	}

	slices.Sort(perms)
	perms = slices.Compact(perms)

	q := &domain.CompiledQuery{
		SQL:                 sb.String(),
		Args:                args,
		Table:               b.base.Name,
		TenantID:            b.tenant.TenantID,
		Columns:             out,
		Joins:               resolved,
		RequestedLimit:      b.requested,
		Clamped:             b.clamped,
		Offset:              b.offset,
		Cacheable:           b.base.Cacheable,
		CacheTTL:            b.base.CacheTTL,
		Timeout:             b.base.Timeout,
		RequiredPermissions: perms,
		Spec:                b.spec,
	}
	if b.hasLimit {
		q.RowCap = b.rowCap
	}
	q.Fingerprint = b.fingerprint(joins)
	return q
}

func defaultAlias(fn domain.AggregateFunction, table, column string) string {
	alias := table + "_" + strings.ReplaceAll(strings.TrimSpace(column), ".", "_")
	if fn != "" {
		alias = strings.ToLower(string(fn)) + "_" + alias
	}
	return alias
}

func aggregateType(fn domain.AggregateFunction, col domain.ColumnType) domain.ColumnType {
	switch fn {
	case domain.AggregateCount:
		return domain.ColumnTypeInteger
	case domain.AggregateAvg:
		return domain.ColumnTypeDecimal
	case domain.AggregateSum:
		if col == domain.ColumnTypeInteger {
			return domain.ColumnTypeInteger
		}
		return domain.ColumnTypeDecimal
	default:
		return col
	}
}

// problems is an ordered, de-duplicated problem list.
type problems []string

func (p *problems) add(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if slices.Contains(*p, msg) {
		return
	}
	*p = append(*p, msg)
}

func (p problems) list() []string { return slices.Clone(p) }
