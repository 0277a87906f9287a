package convex

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenOp
	tokenLParen
	tokenRParen
	tokenComma
	tokenEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input  string
	pos    int
	tokens []token
}

func tokenize(input string) ([]token, error) {
	lx := &lexer{input: input}
	for lx.pos < len(lx.input) {
		ch := lx.input[lx.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			lx.pos++
		case ch == '(':
			lx.emit(tokenLParen, "(")
		case ch == ')':
			lx.emit(tokenRParen, ")")
		case ch == ',':
			lx.emit(tokenComma, ",")
		case ch == '+' || ch == '-' || ch == '*' || ch == '/':
			lx.emit(tokenOp, string(ch))
		case ch == '<' || ch == '>' || ch == '=':
			if lx.pos+1 >= len(lx.input) || lx.input[lx.pos+1] != '=' {
				return nil, fmt.Errorf("unexpected character %q at position %d", ch, lx.pos)
			}
			lx.tokens = append(lx.tokens, token{kind: tokenOp, text: lx.input[lx.pos : lx.pos+2], pos: lx.pos})
			lx.pos += 2
		case unicode.IsDigit(rune(ch)) || ch == '.':
			start := lx.pos
			for lx.pos < len(lx.input) && (unicode.IsDigit(rune(lx.input[lx.pos])) || lx.input[lx.pos] == '.' || lx.input[lx.pos] == 'e' || lx.input[lx.pos] == 'E' ||
				((lx.input[lx.pos] == '+' || lx.input[lx.pos] == '-') && lx.pos > start && (lx.input[lx.pos-1] == 'e' || lx.input[lx.pos-1] == 'E'))) {
				lx.pos++
			}
			lx.tokens = append(lx.tokens, token{kind: tokenNumber, text: lx.input[start:lx.pos], pos: start})
		case unicode.IsLetter(rune(ch)) || ch == '_':
			start := lx.pos
			for lx.pos < len(lx.input) && (unicode.IsLetter(rune(lx.input[lx.pos])) || unicode.IsDigit(rune(lx.input[lx.pos])) || lx.input[lx.pos] == '_') {
				lx.pos++
			}
			lx.tokens = append(lx.tokens, token{kind: tokenIdent, text: lx.input[start:lx.pos], pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, lx.pos)
		}
	}
	lx.tokens = append(lx.tokens, token{kind: tokenEOF, pos: len(lx.input)})
	return lx.tokens, nil
}

func (lx *lexer) emit(kind tokenKind, text string) {
	lx.tokens = append(lx.tokens, token{kind: kind, text: text, pos: lx.pos})
	lx.pos += len(text)
}

type parser struct {
	tokens []token
	pos    int
}

// ParseExpression parses an arithmetic expression with no comparison.
func ParseExpression(input string) (Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.peek().text, p.peek().pos)
	}
	return node, nil
}

// ParseConstraint parses "left <op> right" where op is <=, >= or ==.
func ParseConstraint(input string) (*Comparison, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("empty constraint")
	}
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	op := p.peek()
	if op.kind != tokenOp || (op.text != "<=" && op.text != ">=" && op.text != "==") {
		return nil, fmt.Errorf("constraint must contain <=, >= or ==")
	}
	p.pos++

	right, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.peek().text, p.peek().pos)
	}

	return &Comparison{Op: op.text, Left: left, Right: right}, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) parseExpr() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokenOp || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.text, left: left, right: right}
	}
}

func (p *parser) parseTerm() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokenOp || (tok.text != "*" && tok.text != "/") {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.text, left: left, right: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.kind == tokenOp && tok.text == "-" {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{operand: operand}, nil
	}
	if tok.kind == tokenOp && tok.text == "+" {
		p.pos++
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokenNumber:
		p.pos++
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.text, tok.pos)
		}
		return &numberNode{value: value}, nil

	case tokenIdent:
		p.pos++
		if p.peek().kind == tokenLParen {
			return p.parseCall(tok.text)
		}
		return &identNode{name: tok.text}, nil

	case tokenLParen:
		p.pos++
		node, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokenRParen {
			return nil, fmt.Errorf("missing closing parenthesis at position %d", p.peek().pos)
		}
		p.pos++
		return node, nil

	default:
		return nil, fmt.Errorf("unexpected token %q at position %d", tok.text, tok.pos)
	}
}

func (p *parser) parseCall(name string) (Node, error) {
	// opening paren already peeked
	p.pos++

	args := make([]Node, 0, 2)
	if p.peek().kind == tokenRParen {
		p.pos++
		return &callNode{name: name, args: args}, nil
	}

	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		tok := p.peek()
		if tok.kind == tokenComma {
			p.pos++
			continue
		}
		if tok.kind == tokenRParen {
			p.pos++
			return &callNode{name: name, args: args}, nil
		}
		return nil, fmt.Errorf("expected ',' or ')' in call to %s at position %d", name, tok.pos)
	}
}
