// Package expression validates computed-column expressions against the
// schema catalogue and a closed safelist of functions, keywords and operators.
package expression

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"fleet-reports/internal/domain"
)

var allowedFunctions = map[string]bool{
	"DATEDIFF": true,
	"CONCAT":   true,
	"COALESCE": true,
	"NULLIF":   true,
	"ROUND":    true,
	"LEAST":    true,
	"GREATEST": true,
	"COUNT":    true,
	"SUM":      true,
	"AVG":      true,
	"MIN":      true,
	"MAX":      true,
}

var keywords = map[string]bool{
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"AND": true, "OR": true, "NOT": true,
	"NULL": true, "IS": true, "IN": true, "BETWEEN": true, "LIKE": true,
	"TRUE": true, "FALSE": true, "DISTINCT": true,
	"CURRENT_DATE": true, "CURRENT_TIMESTAMP": true,
}

var forbiddenKeywords = map[string]bool{
	"DROP":     true,
	"DELETE":   true,
	"UPDATE":   true,
	"INSERT":   true,
	"UNION":    true,
	"ALTER":    true,
	"TRUNCATE": true,
}

var allowedOperators = map[string]bool{
	"+": true, "-": true, "*": true, "/": true,
	"=": true, "!=": true, "<>": true,
	"<": true, "<=": true, ">": true, ">=": true,
}

// IsKeyword reports whether word (any case) is a reserved expression keyword.
func IsKeyword(word string) bool { return keywords[strings.ToUpper(word)] }

// IsAllowedFunction reports whether name (any case) is on the function safelist.
func IsAllowedFunction(name string) bool { return allowedFunctions[strings.ToUpper(name)] }

// AllowedFunctions lists the function names and conditional keywords an
// expression may use.
func AllowedFunctions() []string {
	out := make([]string, 0, len(allowedFunctions)+5)
	for f := range allowedFunctions {
		out = append(out, f)
	}
	out = append(out, "CASE", "WHEN", "THEN", "ELSE", "END")
	sort.Strings(out)
	return out
}

// AllowedOperators lists the operators an expression may use.
func AllowedOperators() []string {
	out := make([]string, 0, len(allowedOperators)+3)
	for op := range allowedOperators {
		out = append(out, op)
	}
	out = append(out, "AND", "OR", "NOT")
	sort.Strings(out)
	return out
}

// AllowedKeywords lists every reserved word an expression may use, including
// the conditional and logical keywords also reported by AllowedFunctions and
// AllowedOperators.
func AllowedKeywords() []string {
	out := make([]string, 0, len(keywords))
	for k := range keywords {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ColumnResolver is the part of the schema catalogue the validator needs.
type ColumnResolver interface {
	HasTable(name string) bool
	ResolveColumn(table, name string) (domain.ResolvedColumn, error)
}

// Result is the outcome of validating one expression.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validator checks expressions. It holds no mutable state and is safe for
// concurrent use.
type Validator struct {
	schema ColumnResolver
}

// NewValidator creates a Validator over schema.
func NewValidator(schema ColumnResolver) *Validator {
	return &Validator{schema: schema}
}

// Validate checks expr in the context of table and returns every problem it
// finds. An unknown table yields exactly one error and no further checks.
func (v *Validator) Validate(expr, table string) Result {
	if !v.schema.HasTable(table) {
		return Result{Errors: []string{fmt.Sprintf("unknown table %q", table)}}
	}
	if strings.TrimSpace(expr) == "" {
		return Result{Errors: []string{"expression is empty"}}
	}

	var errs problems
	tokens := Tokenize(expr)
	depth := 0
	for i, tok := range tokens {
		switch tok.Kind {
		case TokenComment:
			errs.add("comment marker %q is not allowed", tok.Text)
		case TokenTerminator:
			errs.add("statement terminator %q is not allowed", tok.Text)
		case TokenInvalid:
			if strings.HasPrefix(tok.Text, "'") {
				errs.add("unterminated string literal at position %d", tok.Pos)
			} else {
				errs.add("unexpected character %q at position %d", tok.Text, tok.Pos)
			}
		case TokenOperator:
			switch {
			case tok.Text == "||":
				errs.add("string concatenation operator %q is not allowed", tok.Text)
			case !allowedOperators[tok.Text]:
				errs.add("operator %q is not allowed", tok.Text)
			}
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
			if depth < 0 {
				errs.add("unbalanced parentheses")
				depth = 0
			}
		case TokenIdent:
			v.checkIdent(&errs, table, tok, IsFunctionCall(tokens, i))
		}
	}
	if depth != 0 {
		errs.add("unbalanced parentheses")
	}
	return Result{Valid: len(errs) == 0, Errors: errs.list()}
}

// Check is Validate reported as an error: nil, *domain.UnknownTableError or
// *domain.InvalidExpressionError.
func (v *Validator) Check(expr, table string) error {
	if !v.schema.HasTable(table) {
		return &domain.UnknownTableError{Table: table}
	}
	res := v.Validate(expr, table)
	if res.Valid {
		return nil
	}
	return &domain.InvalidExpressionError{Expression: expr, Problems: res.Errors}
}

func (v *Validator) checkIdent(errs *problems, table string, tok Token, call bool) {
	upper := strings.ToUpper(tok.Text)
	switch {
	case forbiddenKeywords[upper]:
		errs.add("forbidden keyword %q", tok.Text)
	case keywords[upper]:
	case call:
		if !allowedFunctions[upper] {
			errs.add("function %q is not allowed", tok.Text)
		}
	default:
		if _, err := v.schema.ResolveColumn(table, tok.Text); err != nil {
			errs.add("unknown column %q", tok.Text)
		}
	}
}

// IsFunctionCall reports whether tokens[i] is an identifier immediately
// followed by an opening parenthesis.
func IsFunctionCall(tokens []Token, i int) bool {
	return tokens[i].Kind == TokenIdent && i+1 < len(tokens) && tokens[i+1].Kind == TokenLParen
}

// ValidateRegistry checks every computed column of every table known to
// tables. It is run once after bootstrap registration.
func ValidateRegistry(v *Validator, tables []domain.TableDefinition) error {
	var errs []error
	for _, t := range tables {
		for _, c := range t.Computed {
			if err := v.Check(c.Expression, t.Name); err != nil {
				errs = append(errs, fmt.Errorf("table %q computed column %q: %w", t.Name, c.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// problems is an ordered, de-duplicated error list.
type problems []string

func (p *problems) add(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if slices.Contains(*p, msg) {
		return
	}
	*p = append(*p, msg)
}

func (p problems) list() []string {
	if len(p) == 0 {
		return []string{}
	}
	return p
}
