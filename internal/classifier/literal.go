package classifier

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// parseLiteral decodes the dict/list literal notation language models tend
// to emit when asked for JSON: single or double quoted strings (raw newlines
// allowed), True/False/None as well as true/false/null, tuples as lists and
// trailing commas. Objects decode to map[string]any, numbers to float64.
func parseLiteral(src string) (any, error) {
	p := &literalParser{src: src}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected trailing input")
	}
	return v, nil
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *literalParser) peek() byte {
	return p.src[p.pos]
}

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("literal offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) skipSpace() {
	for !p.eof() {
		switch p.peek() {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *literalParser) value() (any, error) {
	if p.eof() {
		return nil, p.errorf("unexpected end of input")
	}
	switch c := p.peek(); {
	case c == '{':
		return p.object()
	case c == '[':
		return p.list(']')
	case c == '(':
		return p.list(')')
	case c == '"' || c == '\'':
		return p.str()
	case c == '-' || c == '+' || c == '.' || isDigit(c):
		return p.number()
	case isLetter(c):
		return p.keyword()
	default:
		return nil, p.errorf("unexpected character %q", c)
	}
}

func (p *literalParser) object() (map[string]any, error) {
	p.pos++ // {
	out := make(map[string]any)
	for {
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated object")
		}
		if p.peek() == '}' {
			p.pos++
			return out, nil
		}

		key, err := p.value()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.eof() || p.peek() != ':' {
			return nil, p.errorf("expected ':' after key")
		}
		p.pos++
		p.skipSpace()
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		out[fmt.Sprint(key)] = val

		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated object")
		}
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return out, nil
		default:
			return nil, p.errorf("expected ',' or '}' in object")
		}
	}
}

func (p *literalParser) list(closing byte) ([]any, error) {
	p.pos++ // [ or (
	out := []any{}
	for {
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated list")
		}
		if p.peek() == closing {
			p.pos++
			return out, nil
		}
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, val)

		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated list")
		}
		switch p.peek() {
		case ',':
			p.pos++
		case closing:
			p.pos++
			return out, nil
		default:
			return nil, p.errorf("expected ',' or %q in list", closing)
		}
	}
}

func (p *literalParser) str() (string, error) {
	quote := p.peek()
	p.pos++
	var b strings.Builder
	for {
		if p.eof() {
			return "", p.errorf("unterminated string")
		}
		c := p.peek()
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\\':
			if err := p.escape(&b); err != nil {
				return "", err
			}
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

func (p *literalParser) escape(b *strings.Builder) error {
	p.pos++ // backslash
	if p.eof() {
		return p.errorf("unterminated escape")
	}
	c := p.peek()
	p.pos++
	switch c {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case '\\', '\'', '"', '/':
		b.WriteByte(c)
	case '\n':
		// line continuation
	case 'u':
		if p.pos+4 > len(p.src) {
			return p.errorf("short unicode escape")
		}
		n, err := strconv.ParseUint(p.src[p.pos:p.pos+4], 16, 32)
		if err != nil {
			return p.errorf("bad unicode escape")
		}
		p.pos += 4
		r := rune(n)
		if !utf8.ValidRune(r) {
			r = utf8.RuneError
		}
		b.WriteRune(r)
	default:
		b.WriteByte('\\')
		b.WriteByte(c)
	}
	return nil
}

func (p *literalParser) number() (float64, error) {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if isDigit(c) || strings.IndexByte("+-.eE_", c) >= 0 {
			p.pos++
			continue
		}
		break
	}
	text := strings.ReplaceAll(p.src[start:p.pos], "_", "")
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, p.errorf("bad number %q", text)
	}
	return f, nil
}

func (p *literalParser) keyword() (any, error) {
	start := p.pos
	for !p.eof() && (isLetter(p.peek()) || isDigit(p.peek())) {
		p.pos++
	}
	switch word := p.src[start:p.pos]; word {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	case "None", "null":
		return nil, nil
	default:
		return nil, p.errorf("unknown identifier %q", word)
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetter(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
