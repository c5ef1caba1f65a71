package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// The legacy expression grammar, smallest thing that covers the old
// payloads:
//
//	expr    = or
//	or      = and { "||" and }
//	and     = unary { "&&" unary }
//	unary   = "!" unary | compare
//	compare = primary [ cmpop primary ]
//	cmpop   = "==" | "===" | "!=" | "!==" | "<" | "<=" | ">" | ">="
//	primary = "(" expr ")" | string | number | "true" | "false" | "null"
//
// "===" and "!==" are synonyms for "==" and "!=" (old payloads were
// JS-flavored). There are no identifiers: template tokens were already
// substituted as quoted literals before parsing.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokString
	tokNumber
	tokBool
	tokNull
	tokOp
)

type token struct {
	kind tokenKind
	text string
	str  string
	num  float64
	b    bool
}

func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '"':
			end := i + 1
			for end < len(input) {
				if input[end] == '\\' {
					end += 2
					continue
				}
				if input[end] == '"' {
					break
				}
				end++
			}
			if end >= len(input) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			s, err := strconv.Unquote(input[i : end+1])
			if err != nil {
				return nil, fmt.Errorf("bad string literal at offset %d: %w", i, err)
			}
			toks = append(toks, token{kind: tokString, str: s})
			i = end + 1
		case c >= '0' && c <= '9':
			end := i
			for end < len(input) && input[end] >= '0' && input[end] <= '9' {
				end++
			}
			f, err := strconv.ParseFloat(input[i:end], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number at offset %d: %w", i, err)
			}
			toks = append(toks, token{kind: tokNumber, num: f})
			i = end
		case unicode.IsLetter(rune(c)):
			end := i
			for end < len(input) && unicode.IsLetter(rune(input[end])) {
				end++
			}
			word := input[i:end]
			switch word {
			case "true":
				toks = append(toks, token{kind: tokBool, b: true})
			case "false":
				toks = append(toks, token{kind: tokBool, b: false})
			case "null":
				toks = append(toks, token{kind: tokNull})
			default:
				return nil, fmt.Errorf("unexpected identifier %q", word)
			}
			i = end
		default:
			op, n := matchOperator(input[i:])
			if n == 0 {
				return nil, fmt.Errorf("unexpected character %q at offset %d", rune(c), i)
			}
			toks = append(toks, token{kind: tokOp, text: op})
			i += n
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks, nil
}

// matchOperator finds the longest operator at the start of s.
func matchOperator(s string) (string, int) {
	for _, op := range []string{"===", "!==", "==", "!=", "<=", ">=", "&&", "||", "<", ">", "!", "(", ")"} {
		if strings.HasPrefix(s, op) {
			return op, len(op)
		}
	}
	return "", 0
}

type exprNode interface {
	eval() (any, error)
}

type literalNode struct{ value any }

func (n literalNode) eval() (any, error) { return n.value, nil }

type notNode struct{ operand exprNode }

func (n notNode) eval() (any, error) {
	v, err := n.operand.eval()
	if err != nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("operator ! expects a boolean, got %T", v)
	}
	return !b, nil
}

type logicalNode struct {
	op          string // "&&" or "||"
	left, right exprNode
}

func (n logicalNode) eval() (any, error) {
	lv, err := n.left.eval()
	if err != nil {
		return nil, err
	}
	lb, ok := lv.(bool)
	if !ok {
		return nil, fmt.Errorf("operator %s expects boolean operands, got %T", n.op, lv)
	}
	// No short-circuit: the right side must also be well-typed so a
	// malformed expression is reported regardless of operand values.
	rv, err := n.right.eval()
	if err != nil {
		return nil, err
	}
	rb, ok := rv.(bool)
	if !ok {
		return nil, fmt.Errorf("operator %s expects boolean operands, got %T", n.op, rv)
	}
	if n.op == "&&" {
		return lb && rb, nil
	}
	return lb || rb, nil
}

type compareNode struct {
	op          string
	left, right exprNode
}

func (n compareNode) eval() (any, error) {
	lv, err := n.left.eval()
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval()
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==", "===":
		return looseEqual(lv, rv), nil
	case "!=", "!==":
		return !looseEqual(lv, rv), nil
	}
	lf, lok := toFloat(lv)
	rf, rok := toFloat(rv)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s expects numeric operands", n.op)
	}
	switch n.op {
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, fmt.Errorf("unknown comparison operator %q", n.op)
}

// looseEqual compares literals with numeric-string tolerance: a template
// substitution always yields a string, so "5" must compare equal to 5.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

type parser struct {
	toks []token
	pos  int
}

func parseExpression(input string) (exprNode, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing input")
	}
	return node, nil
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) next() token  { t := p.toks[p.pos]; p.pos++; return t }
func (p *parser) acceptOp(op string) bool {
	if p.peek().kind == tokOp && p.peek().text == op {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicalNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("&&") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = logicalNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (exprNode, error) {
	if p.acceptOp("!") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (exprNode, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp {
		switch p.peek().text {
		case "==", "===", "!=", "!==", "<", "<=", ">", ">=":
			op := p.next().text
			right, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return compareNode{op: op, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parsePrimary() (exprNode, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.next()
		return literalNode{value: t.str}, nil
	case tokNumber:
		p.next()
		return literalNode{value: t.num}, nil
	case tokBool:
		p.next()
		return literalNode{value: t.b}, nil
	case tokNull:
		p.next()
		return literalNode{value: nil}, nil
	case tokOp:
		if t.text == "(" {
			p.next()
			inner, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.acceptOp(")") {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			return inner, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}
