package compiler

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"fleet-reports/internal/domain"
)

var conditionOperators = map[string]bool{
	"=":           true,
	"!=":          true,
	"<":           true,
	"<=":          true,
	">":           true,
	">=":          true,
	"LIKE":        true,
	"IN":          true,
	"NOT IN":      true,
	"IS NULL":     true,
	"IS NOT NULL": true,
	"BETWEEN":     true,
}

// compileConditions renders a predicate chain strictly left to right: each
// connective applies to everything before it. Values are always bound.
func (b *build) compileConditions(clause string, conds []domain.Condition, having bool) (string, []interface{}) {
	var (
		chain    string
		args     []interface{}
		lastOp   string
		rendered int
	)
	for i, cond := range conds {
		label := fmt.Sprintf("%s[%d]", clause, i)

		logic := strings.ToUpper(strings.TrimSpace(cond.Logic))
		if logic == "" {
			logic = "AND"
		}
		if logic != "AND" && logic != "OR" {
			b.problems.add("%s: unsupported logic %q", label, cond.Logic)
			continue
		}
		op := normalizeOperator(cond.Operator)
		if !conditionOperators[op] {
			b.problems.add("%s: unsupported operator %q", label, cond.Operator)
			continue
		}
		lhs, typ, ok := b.conditionTerm(label, cond, having)
		if !ok {
			continue
		}
		pred, vals, ok := b.bindPredicate(label, cond, lhs, op, typ)
		if !ok {
			continue
		}

		switch {
		case rendered == 0:
			chain = pred
		case rendered > 1 && logic != lastOp:
			chain = "(" + chain + ") " + logic + " " + pred
		default:
			chain = chain + " " + logic + " " + pred
		}
		if rendered > 0 {
			lastOp = logic
		}
		rendered++
		args = append(args, vals...)
	}
	return chain, args
}

func normalizeOperator(op string) string {
	return strings.Join(strings.Fields(strings.ToUpper(op)), " ")
}

// conditionTerm resolves the left-hand side of a condition. Having clauses may
// name a select alias or apply an aggregate; where clauses may not aggregate.
func (b *build) conditionTerm(label string, cond domain.Condition, having bool) (string, domain.ColumnType, bool) {
	name := strings.TrimSpace(cond.Column)

	if having && cond.Function == "" {
		if s, ok := b.selectByAlias(name); ok {
			if s.aggregate == "" && !b.isGrouped(s.sql) {
				b.problems.add("%s: column %q must be grouped or aggregated", label, name)
				return "", "", false
			}
			return s.sql, s.typ, true
		}
	}

	if cond.Function != "" {
		if !having {
			b.problems.add("%s: aggregate functions are only allowed in having", label)
			return "", "", false
		}
		fn, ok := domain.ParseAggregate(cond.Function)
		if !ok {
			b.problems.add("%s: unsupported aggregate function %q", label, cond.Function)
			return "", "", false
		}
		if name == "*" {
			if fn != domain.AggregateCount {
				b.problems.add("%s: \"*\" can only be used with COUNT", label)
				return "", "", false
			}
			return "COUNT(*)", domain.ColumnTypeInteger, true
		}
		r, err := b.resolve("", name)
		if err != nil {
			b.problems.add("%s: %v", label, err)
			return "", "", false
		}
		if fn != domain.AggregateCount && !r.res.Aggregatable() {
			b.problems.add("%s: column %q is not aggregatable", label, name)
			return "", "", false
		}
		if !b.tableAllowsAggregates(r.res.Table) {
			b.problems.add("%s: table %q does not permit aggregate functions", label, r.res.Table)
			return "", "", false
		}
		return fmt.Sprintf("%s(%s)", fn, b.columnSQL(label, r)), aggregateType(fn, r.res.Type()), true
	}

	r, err := b.resolve("", name)
	if err != nil {
		b.problems.add("%s: %v", label, err)
		return "", "", false
	}
	if !r.res.Filterable() {
		b.problems.add("%s: column %q is not filterable", label, name)
		return "", "", false
	}
	sql := b.columnSQL(label, r)
	if having && !b.isGrouped(sql) {
		b.problems.add("%s: column %q must be grouped or aggregated", label, name)
		return "", "", false
	}
	return sql, r.res.Type(), true
}

func (b *build) isGrouped(sql string) bool {
	for _, g := range b.groupSQL {
		if g == sql {
			return true
		}
	}
	return false
}

func (b *build) bindPredicate(label string, cond domain.Condition, lhs, op string, typ domain.ColumnType) (string, []interface{}, bool) {
	switch op {
	case "IS NULL", "IS NOT NULL":
		if cond.Value != nil {
			b.problems.add("%s: operator %s does not take a value", label, op)
			return "", nil, false
		}
		return lhs + " " + op, nil, true

	case "IN", "NOT IN", "BETWEEN":
		list, ok := toList(cond.Value)
		switch {
		case op == "BETWEEN" && (!ok || len(list) != 2):
			b.problems.add("%s: operator BETWEEN needs exactly two values", label)
			return "", nil, false
		case !ok || len(list) == 0:
			b.problems.add("%s: operator %s needs a non-empty list of values", label, op)
			return "", nil, false
		}
		vals := make([]interface{}, 0, len(list))
		for _, v := range list {
			cv, err := coerce(typ, v)
			if err != nil {
				b.problems.add("%s: %v", label, err)
				return "", nil, false
			}
			vals = append(vals, cv)
		}
		if op == "BETWEEN" {
			return lhs + " BETWEEN ? AND ?", vals, true
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(vals)), ", ")
		return fmt.Sprintf("%s %s (%s)", lhs, op, placeholders), vals, true
	}

	if cond.Value == nil {
		b.problems.add("%s: operator %s needs a value; use IS NULL or IS NOT NULL to match nulls", label, op)
		return "", nil, false
	}
	if _, isList := toList(cond.Value); isList {
		b.problems.add("%s: operator %s takes a single value", label, op)
		return "", nil, false
	}
	if op == "LIKE" {
		if typ != domain.ColumnTypeString {
			b.problems.add("%s: operator LIKE requires a string column", label)
			return "", nil, false
		}
		s, err := cast.ToStringE(cond.Value)
		if err != nil {
			b.problems.add("%s: LIKE pattern must be a string", label)
			return "", nil, false
		}
		return lhs + " LIKE ?", []interface{}{s}, true
	}
	v, err := coerce(typ, cond.Value)
	if err != nil {
		b.problems.add("%s: %v", label, err)
		return "", nil, false
	}
	return lhs + " " + op + " ?", []interface{}{v}, true
}

func toList(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// fitsInt64 rejects fractional, non-finite and out-of-range numbers that
// cast would otherwise truncate or wrap.
func fitsInt64(v interface{}) bool {
	switch n := v.(type) {
	case float64:
		return n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64
	case float32:
		return fitsInt64(float64(n))
	case uint64:
		return n <= math.MaxInt64
	case uint:
		return uint64(n) <= math.MaxInt64
	}
	return true
}

// coerce converts a caller-supplied filter value to the bind type of typ.
func coerce(typ domain.ColumnType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, fmt.Errorf("null is not allowed in a value list")
	}
	switch typ {
	case domain.ColumnTypeInteger:
		if !fitsInt64(v) {
			return nil, fmt.Errorf("value %v is not a valid integer", v)
		}
		n, err := cast.ToInt64E(v)
		if err != nil {
			return nil, fmt.Errorf("value %v is not a valid integer", v)
		}
		return n, nil
	case domain.ColumnTypeDecimal:
		d, err := decimal.NewFromString(cast.ToString(v))
		if err != nil {
			return nil, fmt.Errorf("value %v is not a valid decimal", v)
		}
		return d.InexactFloat64(), nil
	case domain.ColumnTypeBoolean:
		bv, err := cast.ToBoolE(v)
		if err != nil {
			return nil, fmt.Errorf("value %v is not a valid boolean", v)
		}
		return bv, nil
	case domain.ColumnTypeDate:
		t, err := cast.ToTimeE(v)
		if err != nil {
			return nil, fmt.Errorf("value %v is not a valid date", v)
		}
		return t.Format("2006-01-02"), nil
	case domain.ColumnTypeDateTime:
		t, err := cast.ToTimeE(v)
		if err != nil {
			return nil, fmt.Errorf("value %v is not a valid datetime", v)
		}
		return t.UTC().Format("2006-01-02 15:04:05"), nil
	default:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("value %v is not a valid string", v)
		}
		return s, nil
	}
}
