package selector

import (
	"fmt"
	"strings"
)

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool  { return p.pos >= len(p.src) }
func (p *parser) peek() byte { return p.src[p.pos] }

func (p *parser) skipSpace() bool {
	start := p.pos
	for !p.eof() && isSpace(p.peek()) {
		p.pos++
	}
	return p.pos > start
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("selector: %s at %d in %q", fmt.Sprintf(format, args...), p.pos, p.src)
}

func (p *parser) complex() (complexSel, error) {
	var g complexSel
	p.skipSpace()
	first, err := p.compound()
	if err != nil {
		return g, err
	}
	g.parts = append(g.parts, first)

	for {
		hadSpace := p.skipSpace()
		if p.eof() || p.peek() == ',' {
			return g, nil
		}
		comb := descendant
		if p.peek() == '>' {
			comb = child
			p.pos++
			p.skipSpace()
		} else if !hadSpace {
			return g, p.errorf("unexpected %q", p.peek())
		}
		next, err := p.compound()
		if err != nil {
			return g, err
		}
		g.combs = append(g.combs, comb)
		g.parts = append(g.parts, next)
	}
}

func (p *parser) compound() (compound, error) {
	var c compound
	start := p.pos

	if !p.eof() && p.peek() == '*' {
		c.tag = "*"
		p.pos++
	} else if !p.eof() && isIdent(p.peek()) {
		c.tag = strings.ToLower(p.ident())
	}

	for !p.eof() {
		switch p.peek() {
		case '.':
			p.pos++
			name := p.ident()
			if name == "" {
				return c, p.errorf("empty class name")
			}
			c.classes = append(c.classes, name)
		case '#':
			p.pos++
			id := p.ident()
			if id == "" {
				return c, p.errorf("empty id")
			}
			c.id = id
		case '[':
			a, err := p.attribute()
			if err != nil {
				return c, err
			}
			c.attrs = append(c.attrs, a)
		default:
			if p.pos == start {
				return c, p.errorf("expected selector, got %q", p.peek())
			}
			return c, nil
		}
	}
	if p.pos == start {
		return c, p.errorf("empty selector")
	}
	return c, nil
}

func (p *parser) attribute() (attrCond, error) {
	var a attrCond
	p.pos++ // [
	p.skipSpace()
	a.name = p.ident()
	if a.name == "" {
		return a, p.errorf("empty attribute name")
	}
	p.skipSpace()
	if p.eof() {
		return a, p.errorf("unterminated attribute")
	}

	switch ch := p.peek(); ch {
	case ']':
		p.pos++
		return a, nil
	case '=':
		a.op = opEquals
		p.pos++
	case '~', '^', '$', '*':
		p.pos++
		if p.eof() || p.peek() != '=' {
			return a, p.errorf("expected '=' after %q", ch)
		}
		a.op = attrOp(ch)
		p.pos++
	default:
		return a, p.errorf("unexpected %q in attribute", ch)
	}

	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return a, err
	}
	a.value = v
	p.skipSpace()
	if p.eof() || p.peek() != ']' {
		return a, p.errorf("expected ']'")
	}
	p.pos++
	return a, nil
}

func (p *parser) value() (string, error) {
	if p.eof() {
		return "", p.errorf("missing attribute value")
	}
	q := p.peek()
	if q != '\'' && q != '"' {
		return p.ident(), nil
	}
	p.pos++
	end := strings.IndexByte(p.src[p.pos:], q)
	if end < 0 {
		return "", p.errorf("unterminated string")
	}
	v := p.src[p.pos : p.pos+end]
	p.pos += end + 1
	return v, nil
}

func (p *parser) ident() string {
	start := p.pos
	for !p.eof() && isIdent(p.peek()) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func isIdent(c byte) bool {
	return c == '-' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c >= 0x80
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
