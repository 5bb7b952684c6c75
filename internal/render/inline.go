package render

import "strings"

// Span is a run of text sharing one inline style.
type Span struct {
	Text   string
	Bold   bool
	Italic bool
	Code   bool
}

type inlineParser struct {
	spans []Span
	buf   strings.Builder
	style Span
}

func (p *inlineParser) flush() {
	if p.buf.Len() == 0 {
		return
	}
	span := p.style
	span.Text = p.buf.String()
	p.spans = append(p.spans, span)
	p.buf.Reset()
}

// toggle flips a style when the marker opens a closed pair or closes an open
// one. It reports whether the marker was consumed.
func (p *inlineParser) toggle(on *bool, rest, marker string) bool {
	if !*on && !strings.Contains(rest, marker) {
		return false
	}
	p.flush()
	*on = !*on
	return true
}

// ParseInline splits AI output into styled spans. It understands **bold**,
// *italic* and `code`; a backslash escapes the next byte and unmatched
// markers stay literal.
func ParseInline(input string) []Span {
	if input == "" {
		return nil
	}
	p := &inlineParser{}
	for i := 0; i < len(input); {
		switch {
		case input[i] == '\\' && i+1 < len(input):
			p.buf.WriteByte(input[i+1])
			i += 2
			continue
		case input[i] == '`':
			if p.toggle(&p.style.Code, input[i+1:], "`") {
				i++
				continue
			}
		case !p.style.Code && strings.HasPrefix(input[i:], "**"):
			if !p.toggle(&p.style.Bold, input[i+2:], "**") {
				p.buf.WriteString("**")
			}
			i += 2
			continue
		case !p.style.Code && input[i] == '*':
			if p.toggle(&p.style.Italic, input[i+1:], "*") {
				i++
				continue
			}
		}
		p.buf.WriteByte(input[i])
		i++
	}
	p.flush()
	return p.spans
}

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiItalic = "\x1b[3m"
	ansiCode   = "\x1b[36m"
)

// Styled renders spans, with ANSI escapes when color is set.
func Styled(spans []Span, color bool) string {
	var b strings.Builder
	for _, span := range spans {
		if !color || (!span.Bold && !span.Italic && !span.Code) {
			b.WriteString(span.Text)
			continue
		}
		if span.Bold {
			b.WriteString(ansiBold)
		}
		if span.Italic {
			b.WriteString(ansiItalic)
		}
		if span.Code {
			b.WriteString(ansiCode)
		}
		b.WriteString(span.Text)
		b.WriteString(ansiReset)
	}
	return b.String()
}
