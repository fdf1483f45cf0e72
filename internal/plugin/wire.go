package plugin

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wire format: one newline-terminated, symbolic-expression-style record per
// message (spec §6). No pack repository or common Go package implements a
// Lisp/RON-style s-expression codec, so this is hand-rolled — the same
// choice the teacher makes for its own narrow domain formats (its robots.txt
// line parser has no library either).
//
// Grammar (one line, no embedded newlines):
//
//	value    := string | number | bool | nil | list | assoc
//	string   := `"` ... `"`  (backslash-escaped quotes and backslashes)
//	number   := Go int64 or float64 literal
//	bool     := #t | #f
//	nil      := nil
//	list     := ( value* )
//	assoc    := (map key value key value ...)   — keys are strings
//
// []any encodes as a list; map[string]any encodes as an assoc.

// WriteMessage encodes v and writes it followed by a newline.
func WriteMessage(w io.Writer, v any) error {
	enc, err := Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, enc)
	return err
}

// ReadMessage reads one newline-terminated record and decodes it.
func ReadMessage(r *bufio.Reader) (any, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return nil, err
	}
	return Unmarshal(strings.TrimRight(line, "\r\n"))
}

// Marshal encodes a Go value (string, int64/int/float64, bool, nil,
// []any, or map[string]any) into wire form.
func Marshal(v any) (string, error) {
	var b strings.Builder
	if err := marshalValue(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func marshalValue(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("nil")
	case string:
		marshalString(b, x)
	case bool:
		if x {
			b.WriteString("#t")
		} else {
			b.WriteString("#f")
		}
	case int:
		b.WriteString(strconv.Itoa(x))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case []any:
		b.WriteByte('(')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(' ')
			}
			if err := marshalValue(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(')')
	case map[string]any:
		b.WriteString("(map")
		for k, val := range x {
			b.WriteByte(' ')
			marshalString(b, k)
			b.WriteByte(' ')
			if err := marshalValue(b, val); err != nil {
				return err
			}
		}
		b.WriteByte(')')
	default:
		return fmt.Errorf("wire: marshal: unsupported type %T", v)
	}
	return nil
}

func marshalString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

// Unmarshal decodes one wire-format value.
func Unmarshal(s string) (any, error) {
	p := &parser{input: s}
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("wire: unmarshal: trailing input at offset %d", p.pos)
	}
	return v, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) parseValue() (any, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("wire: unmarshal: unexpected end of input")
	}

	switch c := p.input[p.pos]; {
	case c == '"':
		return p.parseString()
	case c == '(':
		return p.parseList()
	case strings.HasPrefix(p.input[p.pos:], "#t"):
		p.pos += 2
		return true, nil
	case strings.HasPrefix(p.input[p.pos:], "#f"):
		p.pos += 2
		return false, nil
	case strings.HasPrefix(p.input[p.pos:], "nil"):
		p.pos += 3
		return nil, nil
	default:
		return p.parseNumber()
	}
}

func (p *parser) parseString() (string, error) {
	if p.input[p.pos] != '"' {
		return "", fmt.Errorf("wire: expected string at offset %d", p.pos)
	}
	p.pos++
	var b strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '"' {
			p.pos++
			return b.String(), nil
		}
		if c == '\\' && p.pos+1 < len(p.input) {
			p.pos++
			b.WriteByte(p.input[p.pos])
			p.pos++
			continue
		}
		b.WriteByte(c)
		p.pos++
	}
	return "", fmt.Errorf("wire: unterminated string starting at offset %d", p.pos)
}

func (p *parser) parseNumber() (any, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		break
	}
	tok := p.input[start:p.pos]
	if tok == "" {
		return nil, fmt.Errorf("wire: unrecognized token at offset %d", start)
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, fmt.Errorf("wire: invalid number %q: %w", tok, err)
	}
	return f, nil
}

func (p *parser) parseList() (any, error) {
	p.pos++ // consume '('
	p.skipSpace()

	if strings.HasPrefix(p.input[p.pos:], "map") && (p.pos+3 == len(p.input) || p.input[p.pos+3] == ' ' || p.input[p.pos+3] == ')') {
		p.pos += 3
		m := make(map[string]any)
		for {
			p.skipSpace()
			if p.pos < len(p.input) && p.input[p.pos] == ')' {
				p.pos++
				return m, nil
			}
			key, err := p.parseString()
			if err != nil {
				return nil, err
			}
			val, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			m[key] = val
		}
	}

	items := make([]any, 0)
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return nil, fmt.Errorf("wire: unterminated list")
		}
		if p.input[p.pos] == ')' {
			p.pos++
			return items, nil
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
}
