// Package content holds the text helpers shared by the translation and
// summarization stages: HTML cleanup, token estimation, chunking and the
// do-not-translate markup.
package content

import (
	"html"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
)

// DisplaySeparator joins original and translated text in the combined modes.
const DisplaySeparator = " || "

// Translation display modes stored on a feed.
const (
	DisplayTranslationOnly     = 0
	DisplayTranslationOriginal = 1
	DisplayOriginalTranslation = 2
)

var (
	blankLines = regexp.MustCompile(`\n\s*\n`)
	paragraphs = regexp.MustCompile(`\n\s*\n+`)

	// textPolicy keeps block structure and drops links, images, tables and
	// emphasis while keeping their text.
	textPolicy = func() *bluemonday.Policy {
		p := bluemonday.NewPolicy()
		p.AllowElements("p", "br", "div", "h1", "h2", "h3", "h4", "h5", "h6",
			"ul", "ol", "li", "blockquote", "pre", "code", "hr")
		return p
	}()

	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
)

// CleanContent converts entry HTML into compact markdown-like text for the
// summarizer. Conversion errors fall back to the sanitized text.
func CleanContent(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	sanitized := textPolicy.Sanitize(src)
	out, err := mdConverter.ConvertString(sanitized)
	if err != nil {
		out = html.UnescapeString(bluemonday.StrictPolicy().Sanitize(sanitized))
	}
	out = blankLines.ReplaceAllString(out, "\n")
	return strings.TrimSpace(out)
}

// SetTranslationDisplay combines original and translated text for the given
// display mode. Unknown modes yield "".
func SetTranslationDisplay(original, translation string, mode int) string {
	switch mode {
	case DisplayTranslationOnly:
		return translation
	case DisplayTranslationOriginal:
		return translation + DisplaySeparator + original
	case DisplayOriginalTranslation:
		return original + DisplaySeparator + translation
	default:
		return ""
	}
}

// FormatArticle renders plain article text as HTML, one <p> per paragraph.
func FormatArticle(text string) string {
	var sb strings.Builder
	for _, para := range paragraphs.Split(strings.TrimSpace(text), -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		sb.WriteString("</p>\n")
	}
	return sb.String()
}
