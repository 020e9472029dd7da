// Package snippet derives plain-text previews from HTML message bodies.
package snippet

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// MaxLength is the preview length in characters, before the ellipsis.
const MaxLength = 100

const ellipsis = "..."

var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"title":    true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "td": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true,
}

// PlainText strips markup from body and collapses runs of whitespace.
func PlainText(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	var b strings.Builder
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseSpace(b.String())
		case html.StartTagToken:
			tn, _ := z.TagName()
			if skipElements[string(tn)] {
				skipDepth++
			}
			if blockElements[string(tn)] {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			tn, _ := z.TagName()
			if blockElements[string(tn)] {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			tn, _ := z.TagName()
			if skipElements[string(tn)] && skipDepth > 0 {
				skipDepth--
			}
			if blockElements[string(tn)] {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skipDepth == 0 {
				// Text() already unescapes entities.
				b.Write(z.Text())
			}
		}
	}
}

// Derive builds the preview shown in conversation lists: markup stripped,
// cut to MaxLength characters, with an ellipsis only when something was cut.
func Derive(body string) string {
	return Truncate(PlainText(body), MaxLength)
}

// Truncate cuts s to at most n runes and appends "..." when it was longer.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return strings.TrimRightFunc(s[:pos], unicode.IsSpace) + ellipsis
		}
		i++
	}
	return s
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
