package content

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipTags hold content that must reach the reader untranslated.
var skipTags = map[atom.Atom]bool{
	atom.Pre:     true,
	atom.Code:    true,
	atom.Script:  true,
	atom.Style:   true,
	atom.Head:    true,
	atom.Title:   true,
	atom.Meta:    true,
	atom.Abbr:    true,
	atom.Address: true,
	atom.Samp:    true,
	atom.Kbd:     true,
	atom.Bdo:     true,
	atom.Cite:    true,
	atom.Dfn:     true,
	atom.Iframe:  true,
}

var (
	urlPattern   = regexp.MustCompile(`^http`)
	emailPattern = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+$`)
)

// ShouldSkip reports whether node must be left untranslated: comments, text
// inside code-like or metadata elements, KaTeX math, and text that is a URL,
// an e-mail address, or only digits and symbols.
func ShouldSkip(n *html.Node) bool {
	if n == nil {
		return false
	}
	if n.Type == html.CommentNode {
		return true
	}

	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if skipTags[p.DataAtom] {
			return true
		}
		if p.DataAtom == atom.Span && hasClass(p, "katex") {
			return true
		}
	}

	text := strings.TrimSpace(nodeText(n))
	if text == "" {
		return false
	}
	return urlPattern.MatchString(text) || emailPattern.MatchString(text) || digitsOrSymbols(text)
}

// MarkUntranslatable tags the parent of every skippable text node with the
// notranslate class and translate="no", so machine translators leave it alone.
func MarkUntranslatable(fragment string) (string, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" && ShouldSkip(n) && n.Parent != nil {
			markNoTranslate(n.Parent)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		walk(n)
		if err := html.Render(&buf, n); err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	}
	return buf.String(), nil
}

func markNoTranslate(n *html.Node) {
	if n.Type != html.ElementNode {
		return
	}
	setClass := false
	setTranslate := false
	for i, a := range n.Attr {
		switch a.Key {
		case "class":
			if !slices.Contains(strings.Fields(a.Val), "notranslate") {
				n.Attr[i].Val = strings.TrimSpace(a.Val + " notranslate")
			}
			setClass = true
		case "translate":
			n.Attr[i].Val = "no"
			setTranslate = true
		}
	}
	if !setClass {
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: "notranslate"})
	}
	if !setTranslate {
		n.Attr = append(n.Attr, html.Attribute{Key: "translate", Val: "no"})
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" && slices.Contains(strings.Fields(a.Val), class) {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		return n.Data
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return sb.String()
}

// digitsOrSymbols is true when text holds no letters, so it is only numbers,
// punctuation, symbols and spacing.
func digitsOrSymbols(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsMark(r) || r == '_' {
			return false
		}
	}
	return true
}
