package expression

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/service/schema"
)

func newTestValidator(t *testing.T) (*Validator, *schema.Registry) {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.RegisterAll([]domain.TableDefinition{
		schema.NewTable("related_things", "", schema.Columns(
			schema.Column("id", domain.ColumnTypeInteger),
			schema.Column("value", domain.ColumnTypeDecimal),
		)),
		schema.NewTable("trips", "",
			schema.Columns(
				schema.Column("id", domain.ColumnTypeInteger),
				schema.Column("related_id", domain.ColumnTypeInteger),
				schema.Column("start_date", domain.ColumnTypeDate),
				schema.Column("end_date", domain.ColumnTypeDate),
				schema.Column("distance_km", domain.ColumnTypeDecimal),
				schema.Column("updated_at", domain.ColumnTypeDateTime),
				schema.Column("status", domain.ColumnTypeString),
			),
			schema.Relationships(schema.Relationship("related", "related_things", "related_id", "id", schema.AutoJoin())),
		),
		schema.NewTable("fuel_logs", "", schema.Columns(
			schema.Column("id", domain.ColumnTypeInteger),
			schema.Column("quantity", domain.ColumnTypeDecimal),
			schema.Column("details", domain.ColumnTypeJSON),
			schema.Column("details.price", domain.ColumnTypeDecimal),
		)),
		schema.NewTable("plain", "", schema.Columns(
			schema.Column("id", domain.ColumnTypeInteger),
		)),
	}))
	return NewValidator(reg), reg
}

func TestValidate_ResolutionCorrectness(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t)

	ok := v.Validate("DATEDIFF(end_date, start_date)", "trips")
	assert.True(t, ok.Valid)
	assert.Empty(t, ok.Errors)

	bad := v.Validate("DATEDIFF(invalid_column, start_date)", "trips")
	assert.False(t, bad.Valid)
	require.Len(t, bad.Errors, 1)
	assert.Contains(t, bad.Errors[0], "invalid_column")
}

func TestValidate_RelationshipTraversal(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t)

	assert.True(t, v.Validate("related.value * 2", "trips").Valid)

	res := v.Validate("related.value * 2", "plain")
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "related.value")
}

func TestValidate_JSONPath(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t)
	assert.True(t, v.Validate("details.price * quantity", "fuel_logs").Valid)
	assert.False(t, v.Validate("details.octane * quantity", "fuel_logs").Valid)
}

func TestValidate_UnknownTableShortCircuit(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t)

	res := v.Validate("DROP TABLE x; -- nasty || 'a'", "ghosts")
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "ghosts")
}

func TestValidate_Safety(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t)

	tests := []struct {
		name string
		expr string
		want string
	}{
		{name: "drop", expr: "distance_km + DROP", want: `forbidden keyword "DROP"`},
		{name: "delete lower case", expr: "delete", want: `forbidden keyword "delete"`},
		{name: "update", expr: "Update", want: "forbidden keyword"},
		{name: "insert", expr: "distance_km * INSERT", want: "forbidden keyword"},
		{name: "union", expr: "distance_km UNION distance_km", want: "forbidden keyword"},
		{name: "alter", expr: "ALTER", want: "forbidden keyword"},
		{name: "truncate", expr: "TRUNCATE", want: "forbidden keyword"},
		{name: "terminator", expr: "distance_km; SELECT 1", want: "statement terminator"},
		{name: "line comment", expr: "distance_km -- trailing", want: `comment marker "--"`},
		{name: "block comment", expr: "distance_km /* hidden */ + 1", want: `comment marker "/*"`},
		{name: "concatenation", expr: "status || 'x'", want: "string concatenation"},
		{name: "modulo", expr: "distance_km % 2", want: `operator "%" is not allowed`},
		{name: "bang", expr: "! distance_km", want: `operator "!" is not allowed`},
		{name: "double quote", expr: `"distance_km"`, want: "unexpected character"},
		{name: "unterminated string", expr: "COALESCE(status, 'x)", want: "unterminated string"},
		{name: "unbalanced", expr: "ROUND(distance_km, 2", want: "unbalanced parentheses"},
		{name: "closing first", expr: ")distance_km(", want: "unbalanced parentheses"},
		{name: "unknown function", expr: "SLEEP(10)", want: `function "SLEEP" is not allowed`},
		{name: "empty", expr: "   ", want: "expression is empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := v.Validate(tc.expr, "trips")
			assert.False(t, res.Valid)
			joined := ""
			for _, e := range res.Errors {
				joined += e + "\n"
			}
			assert.Contains(t, joined, tc.want)
		})
	}
}

func TestValidate_WholeTokenKeywordMatch(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t)
	// updated_at merely contains UPDATE.
	res := v.Validate("DATEDIFF(updated_at, start_date)", "trips")
	assert.True(t, res.Valid, res.Errors)
}

func TestValidate_AcceptsSafelistedConstructs(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t)

	exprs := []string{
		"ROUND(distance_km / NULLIF(DATEDIFF(end_date, start_date), 0), 2)",
		"CASE WHEN status = 'done' THEN 1 ELSE 0 END",
		"COALESCE(status, 'it''s unknown')",
		"CONCAT(status, '-', id)",
		"LEAST(distance_km, 100) >= GREATEST(0, -1)",
		"status IN ('a', 'b') AND NOT (distance_km BETWEEN 1 AND 2) OR status IS NULL",
		"status <> 'x' AND distance_km != 0 AND distance_km <= .5",
		"COUNT(DISTINCT status)",
		"DATEDIFF(CURRENT_DATE, start_date)",
		"sum(distance_km) / count(id)",
	}
	for _, expr := range exprs {
		res := v.Validate(expr, "trips")
		assert.True(t, res.Valid, "%s: %v", expr, res.Errors)
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t)

	res := v.Validate("SLEEP(ghost) || other; DROP", "trips")
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 6)
	assert.Contains(t, res.Errors, `function "SLEEP" is not allowed`)
	assert.Contains(t, res.Errors, `unknown column "ghost"`)
	assert.Contains(t, res.Errors, `unknown column "other"`)
}

func TestValidate_DeduplicatesErrors(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t)
	res := v.Validate("ghost + ghost + ghost", "trips")
	assert.Equal(t, []string{`unknown column "ghost"`}, res.Errors)
}

func TestValidate_Idempotent(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t)

	exprs := []string{"DATEDIFF(end_date, start_date)", "ghost || 1; --", "related.value"}
	for _, expr := range exprs {
		first := v.Validate(expr, "trips")
		second := v.Validate(expr, "trips")
		assert.Equal(t, first, second)
	}

	var wg sync.WaitGroup
	want := v.Validate("ghost || 1", "trips")
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, v.Validate("ghost || 1", "trips"))
		}()
	}
	wg.Wait()
}

func TestCheck(t *testing.T) {
	t.Parallel()
	v, _ := newTestValidator(t)

	require.NoError(t, v.Check("distance_km * 2", "trips"))

	var unknown *domain.UnknownTableError
	require.ErrorAs(t, v.Check("1", "ghosts"), &unknown)

	var invalid *domain.InvalidExpressionError
	require.ErrorAs(t, v.Check("DROP", "trips"), &invalid)
	assert.Equal(t, "DROP", invalid.Expression)
	assert.NotEmpty(t, invalid.Problems)
}

func TestValidateRegistry(t *testing.T) {
	t.Parallel()

	defs, err := schema.FleetTables()
	require.NoError(t, err)
	reg := schema.NewRegistry()
	require.NoError(t, reg.RegisterAll(defs))
	v := NewValidator(reg)
	require.NoError(t, ValidateRegistry(v, reg.Tables()))

	require.NoError(t, reg.RegisterTable(schema.NewTable("broken", "",
		schema.Columns(schema.Column("id", domain.ColumnTypeInteger)),
		schema.ComputedColumns(schema.Computed("bad", "id; DROP", domain.ColumnTypeInteger)),
	)))
	err = ValidateRegistry(v, reg.Tables())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `computed column "bad"`)
	var invalid *domain.InvalidExpressionError
	assert.ErrorAs(t, err, &invalid)
}

func TestIntrospection(t *testing.T) {
	t.Parallel()

	funcs := AllowedFunctions()
	for _, f := range []string{"DATEDIFF", "CONCAT", "CASE", "WHEN", "THEN", "ELSE", "END", "COALESCE", "NULLIF", "ROUND", "LEAST", "GREATEST", "COUNT", "SUM", "AVG", "MIN", "MAX"} {
		assert.Contains(t, funcs, f)
	}
	for f := range allowedFunctions {
		assert.True(t, IsAllowedFunction(f))
	}

	ops := AllowedOperators()
	assert.ElementsMatch(t, []string{"+", "-", "*", "/", "=", "!=", "<>", "<", "<=", ">", ">=", "AND", "OR", "NOT"}, ops)
	assert.True(t, IsKeyword("case"))
	assert.False(t, IsKeyword("status"))

	kws := AllowedKeywords()
	for _, k := range []string{"IS", "IN", "BETWEEN", "LIKE", "DISTINCT", "NULL", "TRUE", "FALSE", "CURRENT_DATE", "CURRENT_TIMESTAMP"} {
		assert.Contains(t, kws, k)
	}
	assert.True(t, sort.StringsAreSorted(kws))
}

func TestIntrospection_CoversEveryAcceptedWord(t *testing.T) {
	t.Parallel()

	listed := map[string]bool{}
	for _, list := range [][]string{AllowedFunctions(), AllowedOperators(), AllowedKeywords()} {
		for _, w := range list {
			listed[w] = true
		}
	}
	for k := range keywords {
		assert.True(t, listed[k], "keyword %s is accepted but not listed", k)
	}
	for f := range allowedFunctions {
		assert.True(t, listed[f], "function %s is accepted but not listed", f)
	}
	for op := range allowedOperators {
		assert.True(t, listed[op], "operator %s is accepted but not listed", op)
	}
	for k := range forbiddenKeywords {
		assert.False(t, listed[k], "forbidden keyword %s is listed", k)
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	toks := Tokenize("ROUND(vehicle.depot.id, 2) >= 'it''s' -- c")
	kinds := make([]TokenKind, len(toks))
	texts := make([]string, len(toks))
	for i, tok := range toks {
		kinds[i] = tok.Kind
		texts[i] = tok.Text
	}
	assert.Equal(t, []TokenKind{
		TokenIdent, TokenLParen, TokenIdent, TokenComma, TokenNumber, TokenRParen,
		TokenOperator, TokenString, TokenComment,
	}, kinds)
	assert.Equal(t, []string{"ROUND", "(", "vehicle.depot.id", ",", "2", ")", ">=", "'it''s'", "--"}, texts)
	assert.True(t, IsFunctionCall(toks, 0))
	assert.False(t, IsFunctionCall(toks, 2))
}
