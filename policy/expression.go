package policy

import (
	"fmt"
	"strings"
	"unicode"
)

// =============================================================================
// APPLIES-TO EXPRESSIONS
// =============================================================================
//
// Grammar:
//   expr  := and ( "||" and )*
//   and   := cond ( "&&" cond )*
//   cond  := "(" expr ")"
//          | attr ( "==" | "!=" ) value
//          | attr "in" "(" value ( "," value )* ")"
//   value := word | "quoted" | 'quoted'
//
// "*" alone matches every employee. An empty expression matches no one.

// Expression is a compiled appliesTo expression.
type Expression struct {
	src  string
	all  bool
	root exprNode
}

type exprNode interface {
	eval(Employee) bool
}

type orNode []exprNode
type andNode []exprNode

type cmpNode struct {
	attr   string
	values []string
	negate bool
}

func (n orNode) eval(e Employee) bool {
	for _, c := range n {
		if c.eval(e) {
			return true
		}
	}
	return false
}

func (n andNode) eval(e Employee) bool {
	for _, c := range n {
		if !c.eval(e) {
			return false
		}
	}
	return true
}

func (n cmpNode) eval(e Employee) bool {
	v, ok := e.Attribute(n.attr)
	hit := false
	if ok {
		for _, want := range n.values {
			if v == want {
				hit = true
				break
			}
		}
	}
	if n.negate {
		return !hit
	}
	return hit
}

// ParseExpression compiles an expression.
func ParseExpression(src string) (Expression, error) {
	trimmed := strings.TrimSpace(src)
	switch trimmed {
	case "":
		return Expression{src: src}, nil
	case "*":
		return Expression{src: src, all: true}, nil
	}

	toks, err := lex(src)
	if err != nil {
		return Expression{}, err
	}
	p := &parser{src: src, toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return Expression{}, err
	}
	if tok := p.peek(); tok.kind != tEOF {
		return Expression{}, p.fail(tok, fmt.Sprintf("unexpected %q", tok.text))
	}
	return Expression{src: src, root: root}, nil
}

// Matches evaluates the expression against an employee.
func (x Expression) Matches(e Employee) bool {
	if x.all {
		return true
	}
	if x.root == nil {
		return false
	}
	return x.root.eval(e)
}

func (x Expression) String() string { return x.src }

// =============================================================================
// LEXER
// =============================================================================

type tokKind int

const (
	tEOF tokKind = iota
	tWord
	tString
	tEq
	tNeq
	tAnd
	tOr
	tLParen
	tRParen
	tComma
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_-.:/@", r)
}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tRParen, ")", i})
			i++
		case r == ',':
			toks = append(toks, token{tComma, ",", i})
			i++
		case r == '=' && i+1 < len(rs) && rs[i+1] == '=':
			toks = append(toks, token{tEq, "==", i})
			i += 2
		case r == '!' && i+1 < len(rs) && rs[i+1] == '=':
			toks = append(toks, token{tNeq, "!=", i})
			i += 2
		case r == '&' && i+1 < len(rs) && rs[i+1] == '&':
			toks = append(toks, token{tAnd, "&&", i})
			i += 2
		case r == '|' && i+1 < len(rs) && rs[i+1] == '|':
			toks = append(toks, token{tOr, "||", i})
			i += 2
		case r == '"' || r == '\'':
			start := i
			i++
			for i < len(rs) && rs[i] != r {
				i++
			}
			if i >= len(rs) {
				return nil, &ExpressionError{Expr: src, Pos: start, Reason: "unterminated string"}
			}
			toks = append(toks, token{tString, string(rs[start+1 : i]), start})
			i++
		case isWordRune(r):
			start := i
			for i < len(rs) && isWordRune(rs[i]) {
				i++
			}
			toks = append(toks, token{tWord, string(rs[start:i]), start})
		default:
			return nil, &ExpressionError{Expr: src, Pos: i, Reason: "unexpected character " + string(r)}
		}
	}
	toks = append(toks, token{tEOF, "", len(rs)})
	return toks, nil
}

// =============================================================================
// PARSER
// =============================================================================

type parser struct {
	src  string
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tEOF {
		p.i++
	}
	return t
}

func (p *parser) fail(t token, reason string) error {
	return &ExpressionError{Expr: p.src, Pos: t.pos, Reason: reason}
}

func (p *parser) parseOr() (exprNode, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	nodes := orNode{first}
	for p.peek().kind == tOr {
		p.next()
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return nodes, nil
}

func (p *parser) parseAnd() (exprNode, error) {
	first, err := p.parseCond()
	if err != nil {
		return nil, err
	}
	nodes := andNode{first}
	for p.peek().kind == tAnd {
		p.next()
		n, err := p.parseCond()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return nodes, nil
}

func (p *parser) parseCond() (exprNode, error) {
	tok := p.next()
	if tok.kind == tLParen {
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tRParen {
			return nil, p.fail(closing, "expected )")
		}
		return inner, nil
	}
	if tok.kind != tWord {
		return nil, p.fail(tok, "expected attribute name")
	}
	attr := tok.text

	op := p.next()
	switch {
	case op.kind == tEq || op.kind == tNeq:
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return cmpNode{attr: attr, values: []string{v}, negate: op.kind == tNeq}, nil
	case op.kind == tWord && strings.EqualFold(op.text, "in"):
		if open := p.next(); open.kind != tLParen {
			return nil, p.fail(open, "expected ( after in")
		}
		var values []string
		for {
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			sep := p.next()
			if sep.kind == tRParen {
				break
			}
			if sep.kind != tComma {
				return nil, p.fail(sep, "expected , or )")
			}
		}
		return cmpNode{attr: attr, values: values}, nil
	default:
		return nil, p.fail(op, "expected ==, != or in")
	}
}

func (p *parser) parseValue() (string, error) {
	tok := p.next()
	if tok.kind != tWord && tok.kind != tString {
		return "", p.fail(tok, "expected value")
	}
	return tok.text, nil
}
