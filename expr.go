package settree

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Configuration sources may assign integer properties as constant
// expressions like "(1|2)&0x7". The accepted grammar is deliberately
// small: parentheses, unary minus, the binary operators |, &, +, -, * and /
// with division truncating towards zero, and literals in decimal or hex.
// The character set stops at '9', so hex literals with digits a-f (like
// "0xff") are rejected.
var intExprChars = regexp.MustCompile(`^[()|&!+\-/*x0-9]+$`)

// evalIntExpr evaluates a constant integer expression. The returned error
// carries no property context; callers wrap it.
func evalIntExpr(expr string) (int64, error) {
	if !intExprChars.MatchString(strings.ReplaceAll(expr, " ", "")) {
		return 0, fmt.Errorf("not an integer expression: '%s'", expr)
	}
	p := &exprParser{src: strings.ReplaceAll(expr, " ", "")}
	val, err := p.parseOr()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.src) {
		return 0, fmt.Errorf("unexpected '%c' in expression '%s'", p.src[p.pos], expr)
	}
	return val, nil
}

// exprParser is a recursive descent parser with one level per precedence
// tier, loosest binding first: | then & then +- then */.
type exprParser struct {
	src string
	pos int
}

func (p *exprParser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *exprParser) parseOr() (int64, error) {
	val, err := p.parseAnd()
	if err != nil {
		return 0, err
	}
	for p.peek() == '|' {
		p.pos++
		rhs, err := p.parseAnd()
		if err != nil {
			return 0, err
		}
		val |= rhs
	}
	return val, nil
}

func (p *exprParser) parseAnd() (int64, error) {
	val, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	for p.peek() == '&' {
		p.pos++
		rhs, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		val &= rhs
	}
	return val, nil
}

func (p *exprParser) parseSum() (int64, error) {
	val, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			val += rhs
		case '-':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			val -= rhs
		default:
			return val, nil
		}
	}
}

func (p *exprParser) parseTerm() (int64, error) {
	val, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			val *= rhs
		case '/':
			p.pos++
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero in expression '%s'", p.src)
			}
			val /= rhs
		default:
			return val, nil
		}
	}
}

func (p *exprParser) parseUnary() (int64, error) {
	if p.peek() == '-' {
		p.pos++
		val, err := p.parseUnary()
		return -val, err
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (int64, error) {
	switch {
	case p.peek() == '(':
		p.pos++
		val, err := p.parseOr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing ')' in expression '%s'", p.src)
		}
		p.pos++
		return val, nil
	case p.peek() >= '0' && p.peek() <= '9':
		start := p.pos
		base := 10
		if p.peek() == '0' && p.pos+1 < len(p.src) && p.src[p.pos+1] == 'x' {
			base = 16
			p.pos += 2
			start = p.pos
		}
		for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
		if start == p.pos {
			return 0, fmt.Errorf("malformed number in expression '%s'", p.src)
		}
		return strconv.ParseInt(p.src[start:p.pos], base, 64)
	default:
		return 0, fmt.Errorf("unexpected '%c' in expression '%s'", p.peek(), p.src)
	}
}
