package odata

import (
	"fmt"
)

// parser is a recursive-descent parser over the token stream produced by
// lexer, for the documented $filter subset.
type parser struct {
	lx   *lexer
	cur  token
	peek *token
}

func newParser(s string) (*parser, error) {
	p := &parser{lx: newLexer(s)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parser) advance() error {
	t, err := p.lx.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) atEOF() bool { return p.cur.kind == tokEOF }

// ParseFilter parses a complete $filter expression string.
func ParseFilter(s string) (Node, error) {
	p, err := newParser(s)
	if err != nil {
		return nil, err
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, fmt.Errorf("odata: bad request: unexpected trailing input %q", p.cur.text)
	}
	return node, nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokIdent && p.cur.text == "or" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryNode{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokIdent && p.cur.text == "and" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryNode{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.cur.kind == tokIdent && p.cur.text == "not" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return UnaryNode{Op: "not", Operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]bool{"eq": true, "ne": true, "gt": true, "ge": true, "lt": true, "le": true}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.cur.kind == tokIdent && p.cur.text == "in" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tokLParen {
			return nil, fmt.Errorf("odata: bad request: expected '(' after 'in'")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		var values []Node
		for {
			v, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if p.cur.kind == tokComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("odata: bad request: expected ')' closing 'in' list")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return InNode{Target: left, Values: values}, nil
	}
	if p.cur.kind == tokIdent && comparisonOps[p.cur.text] {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return BinaryNode{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

var additiveOps = map[string]bool{"add": true, "sub": true}
var multiplicativeOps = map[string]bool{"mul": true, "div": true, "mod": true}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokIdent && additiveOps[p.cur.text] {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokIdent && multiplicativeOps[p.cur.text] {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.cur.kind == tokMinus {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryNode{Op: "-", Operand: operand}, nil
	}
	return p.parsePrimary()
}

var knownFunctions = map[string]int{
	"ceiling": 1, "floor": 1, "round": 1,
	"day": 1, "month": 1, "year": 1, "hour": 1, "minute": 1, "second": 1,
	"startswith": 2, "endswith": 2, "tolower": 1, "toupper": 1,
	"concat": 2, "cast": 2,
}

func (p *parser) parsePrimary() (Node, error) {
	switch p.cur.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("odata: bad request: expected ')'")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	case tokString:
		v := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ConstantNode{Value: v, EdmType: "String"}, nil
	case tokNumber:
		return p.parseNumberLiteral()
	case tokIdent:
		return p.parseIdentLed()
	default:
		return nil, fmt.Errorf("odata: bad request: unexpected token %q", p.cur.text)
	}
}

func (p *parser) parseIdentLed() (Node, error) {
	name := p.cur.text
	switch name {
	case "true":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ConstantNode{Value: true, EdmType: "Boolean"}, nil
	case "false":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ConstantNode{Value: false, EdmType: "Boolean"}, nil
	case "null":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ConstantNode{Value: nil, EdmType: ""}, nil
	}

	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.cur.kind == tokLParen {
		arity, known := knownFunctions[name]
		if !known {
			return nil, fmt.Errorf("odata: bad request: unknown function %q", name)
		}
		if name == "cast" {
			return p.parseCastCall()
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		var args []Node
		if p.cur.kind != tokRParen {
			for {
				a, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.cur.kind == tokComma {
					if err := p.advance(); err != nil {
						return nil, err
					}
					continue
				}
				break
			}
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("odata: bad request: expected ')' closing call to %q", name)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if arity > 0 && len(args) != arity {
			return nil, fmt.Errorf("odata: bad request: %q expects %d argument(s), got %d", name, arity, len(args))
		}
		return FunctionCallNode{Name: name, Args: args}, nil
	}

	return MemberAccessNode{Name: name}, nil
}

// parseCastCall parses `cast(<expr-or-raw-literal>, Edm.<Type>)`. The
// first argument is captured as raw text rather than tokenized, because
// the literal forms documented in spec.md §4.B (dates, times, guids) use
// characters ('-' ':' ) the general tokenizer does not accept.
func (p *parser) parseCastCall() (Node, error) {
	// p.cur is the '(' of "cast(". Capture raw text starting right after
	// it, directly off the lexer's rune buffer.
	raw, stoppedAtComma, err := p.lx.readRawArg()
	if err != nil {
		return nil, err
	}
	if !stoppedAtComma {
		return nil, fmt.Errorf("odata: bad request: cast expects 2 arguments")
	}
	// Resync the token stream: advance past the comma we just scanned to.
	if err := p.advance(); err != nil { // should yield tokComma
		return nil, err
	}
	if p.cur.kind != tokComma {
		return nil, fmt.Errorf("odata: bad request: expected ',' in cast(...)")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.kind != tokIdent {
		return nil, fmt.Errorf("odata: bad request: expected Edm type name in cast(...)")
	}
	edmType, err := normalizeEdmType(p.cur.text)
	if err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.kind != tokRParen {
		return nil, fmt.Errorf("odata: bad request: expected ')' closing cast(...)")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	operand, err := parseCastOperand(raw, edmType)
	if err != nil {
		return nil, err
	}
	return ConvertNode{Operand: operand, EdmType: edmType}, nil
}
