package utils

import (
	"strings"
	"unicode"
)

// EvaluateCountFormula resolves the arithmetic shorthand counters use when
// tallying in boxes/units (e.g. "3*12+5"). Supports + - * / and parentheses
// over integers, with unary minus. Division must be exact: physical counts
// are whole units, so a non-integral quotient is rejected instead of rounded.
// Returns a VALIDATION error for empty or malformed input. Side-effect free.
func EvaluateCountFormula(expression string) (int, error) {
	if strings.TrimSpace(expression) == "" {
		return 0, NewValidationError("formula is empty")
	}
	p := &formulaParser{input: []rune(expression)}
	result, err := p.parseExpression()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos < len(p.input) {
		return 0, NewValidationError("unexpected character %q in formula at position %d", string(p.input[p.pos]), p.pos+1)
	}
	return result, nil
}

type formulaParser struct {
	input []rune
	pos   int
}

func (p *formulaParser) skipSpaces() {
	for p.pos < len(p.input) && unicode.IsSpace(p.input[p.pos]) {
		p.pos++
	}
}

func (p *formulaParser) peek() (rune, bool) {
	p.skipSpaces()
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

// expression := term (('+' | '-') term)*
func (p *formulaParser) parseExpression() (int, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '+' && c != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if c == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

// term := factor (('*' | '/') factor)*
func (p *formulaParser) parseTerm() (int, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '*' && c != '/') {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if c == '*' {
			left *= right
			continue
		}
		if right == 0 {
			return 0, NewValidationError("formula divides by zero")
		}
		if left%right != 0 {
			return 0, NewValidationError("formula division %d/%d is not a whole number", left, right)
		}
		left /= right
	}
}

// factor := number | '(' expression ')' | '-' factor
func (p *formulaParser) parseFactor() (int, error) {
	c, ok := p.peek()
	if !ok {
		return 0, NewValidationError("formula ends unexpectedly")
	}
	switch {
	case c == '(':
		p.pos++
		inner, err := p.parseExpression()
		if err != nil {
			return 0, err
		}
		c, ok = p.peek()
		if !ok || c != ')' {
			return 0, NewValidationError("formula has an unclosed parenthesis")
		}
		p.pos++
		return inner, nil
	case c == '-':
		p.pos++
		inner, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -inner, nil
	case unicode.IsDigit(c):
		return p.parseNumber()
	default:
		return 0, NewValidationError("unexpected character %q in formula at position %d", string(c), p.pos+1)
	}
}

func (p *formulaParser) parseNumber() (int, error) {
	start := p.pos
	for p.pos < len(p.input) && unicode.IsDigit(p.input[p.pos]) {
		p.pos++
	}
	n := 0
	for _, d := range p.input[start:p.pos] {
		n = n*10 + int(d-'0')
		if n < 0 {
			return 0, NewValidationError("number in formula is too large")
		}
	}
	return n, nil
}
