package tgui

import (
	"html"
	"strings"
)

// H is escaped HTML, safe to send with ParseMode "HTML".
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks s as already escaped.
func Raw(s string) H { return H(s) }

func tag(name string, s string) H {
	return H("<" + name + ">" + html.EscapeString(s) + "</" + name + ">")
}

func B(s string) H    { return tag("b", s) }
func I(s string) H    { return tag("i", s) }
func Code(s string) H { return tag("code", s) }

func Link(text, url string) H {
	return H(`<a href="` + html.EscapeString(url) + `">` + html.EscapeString(text) + `</a>`)
}

// Concat joins parts with no separator.
func Concat(parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(string(p))
	}
	return H(b.String())
}

// Lines collects a multi-line message.
type Lines struct {
	lines []string
}

// Add appends one line made of parts.
func (l *Lines) Add(parts ...H) *Lines {
	l.lines = append(l.lines, string(Concat(parts...)))
	return l
}

func (l *Lines) Blank() *Lines {
	l.lines = append(l.lines, "")
	return l
}

func (l *Lines) Len() int { return len(l.lines) }

// String joins the lines, dropping trailing blanks.
func (l *Lines) String() string {
	end := len(l.lines)
	for end > 0 && strings.TrimSpace(l.lines[end-1]) == "" {
		end--
	}
	return strings.Join(l.lines[:end], "\n")
}
