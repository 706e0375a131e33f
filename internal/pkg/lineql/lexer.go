package lineql

import (
	"fmt"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenWord
	TokenString
	TokenColon
	TokenLParen
	TokenRParen
	TokenAnd
	TokenOr
	TokenNot
	TokenNeq // !=
	TokenGt  // >
	TokenGte // >=
	TokenLt  // <
	TokenLte // <=
)

var tokenNames = map[TokenType]string{
	TokenEOF:    "end of query",
	TokenWord:   "word",
	TokenString: "string",
	TokenColon:  "':'",
	TokenLParen: "'('",
	TokenRParen: "')'",
	TokenAnd:    "AND",
	TokenOr:     "OR",
	TokenNot:    "NOT",
	TokenNeq:    "'!='",
	TokenGt:     "'>'",
	TokenGte:    "'>='",
	TokenLt:     "'<'",
	TokenLte:    "'<='",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is one lexical unit and its byte offset in the query.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// Lexer splits a query into tokens.
type Lexer struct {
	input string
	pos   int
}

func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// NextToken returns the next token; TokenEOF once the input is exhausted.
// Characters that cannot start a token are skipped.
func (l *Lexer) NextToken() Token {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.input) {
			return Token{Type: TokenEOF, Pos: l.pos}
		}

		start := l.pos
		ch := l.input[l.pos]
		switch ch {
		case ':':
			l.pos++
			return Token{Type: TokenColon, Value: ":", Pos: start}
		case '(':
			l.pos++
			return Token{Type: TokenLParen, Value: "(", Pos: start}
		case ')':
			l.pos++
			return Token{Type: TokenRParen, Value: ")", Pos: start}
		case '!':
			if l.peek(1) == '=' {
				l.pos += 2
				return Token{Type: TokenNeq, Value: "!=", Pos: start}
			}
		case '>', '<':
			typ, val := TokenGt, ">"
			if ch == '<' {
				typ, val = TokenLt, "<"
			}
			l.pos++
			if l.peek(0) == '=' {
				l.pos++
				if typ == TokenGt {
					return Token{Type: TokenGte, Value: ">=", Pos: start}
				}
				return Token{Type: TokenLte, Value: "<=", Pos: start}
			}
			return Token{Type: typ, Value: val, Pos: start}
		case '"':
			return l.readString()
		}

		if isWordChar(ch) {
			return l.readWord()
		}
		l.pos++
	}
}

func (l *Lexer) peek(offset int) byte {
	if l.pos+offset < len(l.input) {
		return l.input[l.pos+offset]
	}
	return 0
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

// readString reads a double-quoted literal; \" and \\ are unescaped.
func (l *Lexer) readString() Token {
	start := l.pos
	l.pos++
	var buf []byte
	for l.pos < len(l.input) && l.input[l.pos] != '"' {
		if l.input[l.pos] == '\\' && l.pos+1 < len(l.input) {
			l.pos++
		}
		buf = append(buf, l.input[l.pos])
		l.pos++
	}
	if l.pos < len(l.input) {
		l.pos++
	}
	return Token{Type: TokenString, Value: string(buf), Pos: start}
}

func (l *Lexer) readWord() Token {
	start := l.pos
	for l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
		l.pos++
	}
	value := l.input[start:l.pos]

	switch value {
	case "AND", "and":
		return Token{Type: TokenAnd, Value: "AND", Pos: start}
	case "OR", "or":
		return Token{Type: TokenOr, Value: "OR", Pos: start}
	case "NOT", "not":
		return Token{Type: TokenNot, Value: "NOT", Pos: start}
	}
	return Token{Type: TokenWord, Value: value, Pos: start}
}

// isWordChar accepts what appears in request lines: paths, numbers,
// methods and dotted names.
func isWordChar(ch byte) bool {
	r := rune(ch)
	return unicode.IsLetter(r) || unicode.IsDigit(r) ||
		ch == '_' || ch == '-' || ch == '.' || ch == '/' || ch == '*' || ch == '?' || ch == '&' || ch == '='
}
