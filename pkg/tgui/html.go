package tgui

import (
	"fmt"
	"html"
	"strings"
)

// H is HTML that is safe to send with ParseMode "HTML". Values of type H
// are already escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// Mention links to a Telegram user id.
func Mention(name string, userID int64) H {
	return Link(name, fmt.Sprintf("tg://user?id=%d", userID))
}

// JoinH joins non-blank parts with sep.
func JoinH(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, sep))
}

// Lines joins parts with newlines, keeping blank parts as empty lines.
func Lines(parts ...H) H {
	ss := make([]string, len(parts))
	for i, p := range parts {
		ss[i] = p.String()
	}
	return H(strings.Join(ss, "\n"))
}
