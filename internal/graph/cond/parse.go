package cond

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp // == != <= >= < > && || ! ( ) [ ] ,
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

func lex(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			var sb strings.Builder
			for j < len(runes) && runes[j] != quote {
				if runes[j] == '\\' && j+1 < len(runes) {
					j++
				}
				sb.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{kind: tokString, text: sb.String()})
			i = j + 1
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) && startsValue(toks)):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			text := string(runes[i:j])
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", text)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: f})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(runes[i:j])})
			i = j
		default:
			two := ""
			if i+1 < len(runes) {
				two = string(runes[i : i+2])
			}
			switch two {
			case "==", "!=", "<=", ">=", "&&", "||":
				toks = append(toks, token{kind: tokOp, text: two})
				i += 2
				continue
			}
			switch r {
			case '<', '>', '!', '(', ')', '[', ']', ',':
				toks = append(toks, token{kind: tokOp, text: string(r)})
				i++
			case '.':
				return nil, fmt.Errorf("attribute access is not allowed")
			case '=':
				return nil, fmt.Errorf("single '=' is not an operator; use '=='")
			default:
				return nil, fmt.Errorf("unexpected character %q", string(r))
			}
		}
	}
	return toks, nil
}

// startsValue reports whether a '-' at the current position begins a negative
// number rather than following a completed operand.
func startsValue(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	last := toks[len(toks)-1]
	if last.kind != tokOp {
		return false
	}
	return last.text != ")" && last.text != "]"
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) eof() bool     { return p.pos >= len(p.toks) }
func (p *parser) peek() token   { return p.toks[p.pos] }
func (p *parser) advance() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) matchOp(text string) bool {
	if p.eof() || p.toks[p.pos].kind != tokOp || p.toks[p.pos].text != text {
		return false
	}
	p.pos++
	return true
}

func (p *parser) matchIdent(text string) bool {
	if p.eof() || p.toks[p.pos].kind != tokIdent || p.toks[p.pos].text != text {
		return false
	}
	p.pos++
	return true
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchOp("||") || p.matchIdent("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binExpr{op: "||", l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.matchOp("&&") || p.matchIdent("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binExpr{op: "&&", l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.matchOp("!") || p.matchIdent("not") {
		arg, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notExpr{arg: arg}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if !p.eof() && p.peek().kind == tokOp {
		switch op := p.peek().text; op {
		case "==", "!=", "<", "<=", ">", ">=":
			p.advance()
			right, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return binExpr{op: op, l: left, r: right}, nil
		}
	}
	if p.matchIdent("in") {
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return binExpr{op: "in", l: left, r: right}, nil
	}
	if !p.eof() && p.peek().kind == tokIdent && p.peek().text == "not" &&
		p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == tokIdent && p.toks[p.pos+1].text == "in" {
		p.pos += 2
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return binExpr{op: "not in", l: left, r: right}, nil
	}
	return left, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.eof() {
		return nil, fmt.Errorf("unexpected end of condition")
	}
	t := p.advance()
	switch t.kind {
	case tokNumber:
		return litExpr{v: t.num}, nil
	case tokString:
		return litExpr{v: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return litExpr{v: true}, nil
		case "false":
			return litExpr{v: false}, nil
		case "null", "none":
			return litExpr{v: nil}, nil
		case "len":
			if !p.matchOp("(") {
				return nil, fmt.Errorf("len requires parentheses")
			}
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.matchOp(")") {
				return nil, fmt.Errorf("len: missing closing parenthesis")
			}
			return lenExpr{arg: arg}, nil
		}
		if strings.Contains(t.text, "__") {
			return nil, fmt.Errorf("dunder names are not allowed: %q", t.text)
		}
		// len is the only callable; any other ident followed by '(' is a
		// function invocation and is rejected outright.
		if !p.eof() && p.peek().kind == tokOp && p.peek().text == "(" {
			return nil, fmt.Errorf("function invocation is not allowed: %q", t.text)
		}
		if !p.eof() && p.peek().kind == tokOp && p.peek().text == "[" {
			return nil, fmt.Errorf("indexing is not allowed")
		}
		return varExpr{name: t.text}, nil
	case tokOp:
		switch t.text {
		case "(":
			inner, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.matchOp(")") {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			return inner, nil
		case "[":
			var items []Expr
			if !p.matchOp("]") {
				for {
					item, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					items = append(items, item)
					if p.matchOp(",") {
						continue
					}
					if p.matchOp("]") {
						break
					}
					return nil, fmt.Errorf("missing ']' in list literal")
				}
			}
			return listExpr{items: items}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}
