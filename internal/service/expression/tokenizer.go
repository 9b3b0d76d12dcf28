package expression

import (
	"strings"
	"unicode"
)

// TokenKind classifies a lexical token of a computed-column expression.
type TokenKind int

// Token kinds.
const (
	TokenIdent TokenKind = iota
	TokenNumber
	TokenString
	TokenOperator
	TokenLParen
	TokenRParen
	TokenComma
	TokenComment
	TokenTerminator
	TokenInvalid
)

func (k TokenKind) String() string {
	switch k {
	case TokenIdent:
		return "identifier"
	case TokenNumber:
		return "number"
	case TokenString:
		return "string"
	case TokenOperator:
		return "operator"
	case TokenLParen, TokenRParen:
		return "parenthesis"
	case TokenComma:
		return "comma"
	case TokenComment:
		return "comment"
	case TokenTerminator:
		return "terminator"
	default:
		return "invalid"
	}
}

// Token is one lexeme. For TokenComment Text holds only the opening marker;
// for TokenString it holds the literal including its quotes.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

// Tokenize splits expr into tokens. It never fails: characters outside the
// expression grammar become TokenInvalid tokens so that a validator can
// report every problem in one pass.
func Tokenize(expr string) []Token {
	var out []Token
	rs := []rune(expr)
	n := len(rs)

	for i := 0; i < n; {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '-' && i+1 < n && rs[i+1] == '-':
			out = append(out, Token{Kind: TokenComment, Text: "--", Pos: i})
			for i < n && rs[i] != '\n' {
				i++
			}

		case r == '/' && i+1 < n && rs[i+1] == '*':
			out = append(out, Token{Kind: TokenComment, Text: "/*", Pos: i})
			i += 2
			for i < n && !(rs[i] == '*' && i+1 < n && rs[i+1] == '/') {
				i++
			}
			i += 2

		case r == ';':
			out = append(out, Token{Kind: TokenTerminator, Text: ";", Pos: i})
			i++

		case r == '(':
			out = append(out, Token{Kind: TokenLParen, Text: "(", Pos: i})
			i++

		case r == ')':
			out = append(out, Token{Kind: TokenRParen, Text: ")", Pos: i})
			i++

		case r == ',':
			out = append(out, Token{Kind: TokenComma, Text: ",", Pos: i})
			i++

		case r == '\'':
			start := i
			i++
			closed := false
			for i < n {
				if rs[i] == '\'' {
					if i+1 < n && rs[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			kind := TokenString
			if !closed {
				kind = TokenInvalid
			}
			out = append(out, Token{Kind: kind, Text: string(rs[start:i]), Pos: start})

		case isDigit(r) || (r == '.' && i+1 < n && isDigit(rs[i+1])):
			start := i
			seenDot := false
			for i < n && (isDigit(rs[i]) || (rs[i] == '.' && !seenDot)) {
				if rs[i] == '.' {
					seenDot = true
				}
				i++
			}
			out = append(out, Token{Kind: TokenNumber, Text: string(rs[start:i]), Pos: start})

		case isIdentStart(r):
			start := i
			i++
			for i < n {
				if isIdentPart(rs[i]) {
					i++
					continue
				}
				// Dotted names (relationship traversal, JSON paths) are one token.
				if rs[i] == '.' && i+1 < n && isIdentStart(rs[i+1]) {
					i++
					continue
				}
				break
			}
			out = append(out, Token{Kind: TokenIdent, Text: string(rs[start:i]), Pos: start})

		case strings.ContainsRune(operatorChars, r):
			start := i
			text := string(r)
			if i+1 < n && isTwoCharOperator(string(rs[i:i+2])) {
				text = string(rs[i : i+2])
			}
			i += len([]rune(text))
			out = append(out, Token{Kind: TokenOperator, Text: text, Pos: start})

		default:
			out = append(out, Token{Kind: TokenInvalid, Text: string(r), Pos: i})
			i++
		}
	}
	return out
}

const operatorChars = "+-*/=<>!|%^&~"

func isTwoCharOperator(s string) bool {
	switch s {
	case "<=", ">=", "<>", "!=", "||":
		return true
	}
	return false
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool { return isIdentStart(r) || isDigit(r) }
