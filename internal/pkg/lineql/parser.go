package lineql

import (
	"fmt"
	"strconv"
)

// Parser builds an AST with the precedence NOT > AND > OR.
// Two expressions written side by side are joined with AND.
type Parser struct {
	lexer   *Lexer
	current Token
}

// Parse parses a query. An empty query yields a nil Node, which matches
// every record.
func Parse(input string) (Node, error) {
	p := &Parser{lexer: NewLexer(input)}
	p.advance()
	if p.current.Type == TokenEOF {
		return nil, nil
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, fmt.Errorf("unexpected %s at offset %d", p.current.Type, p.current.Pos)
	}
	return node, nil
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		switch p.current.Type {
		case TokenAnd:
			p.advance()
		case TokenWord, TokenString, TokenLParen, TokenNot:
			// implicit AND
		default:
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "AND", Left: left, Right: right}
	}
}

func (p *Parser) parseNot() (Node, error) {
	if p.current.Type == TokenNot {
		p.advance()
		expr, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return NotExpr{Expr: expr}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.current
	switch tok.Type {
	case TokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			return nil, fmt.Errorf("expected ')' at offset %d, got %s", p.current.Pos, p.current.Type)
		}
		p.advance()
		return expr, nil

	case TokenString:
		p.advance()
		return MatchExpr{Value: tok.Value, Op: "CONTAINS"}, nil

	case TokenWord:
		p.advance()
		op, ok := comparisonOps[p.current.Type]
		if !ok {
			return MatchExpr{Value: tok.Value, Op: "CONTAINS"}, nil
		}
		p.advance()
		return p.parseValue(tok.Value, op)

	default:
		return nil, fmt.Errorf("unexpected %s at offset %d", tok.Type, tok.Pos)
	}
}

var comparisonOps = map[TokenType]string{
	TokenColon: "=",
	TokenNeq:   "!=",
	TokenGt:    ">",
	TokenGte:   ">=",
	TokenLt:    "<",
	TokenLte:   "<=",
}

func (p *Parser) parseValue(key, op string) (Node, error) {
	tok := p.current
	if tok.Type != TokenWord && tok.Type != TokenString {
		return nil, fmt.Errorf("expected value after %s%s at offset %d, got %s", key, op, tok.Pos, tok.Type)
	}
	p.advance()

	switch op {
	case ">", ">=", "<", "<=":
		if _, err := strconv.ParseFloat(tok.Value, 64); err != nil {
			return nil, fmt.Errorf("%s%s needs a number, got %q", key, op, tok.Value)
		}
	}
	return MatchExpr{Key: key, Value: tok.Value, Op: op}, nil
}
