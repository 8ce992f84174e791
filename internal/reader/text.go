package reader

import (
	"bytes"
	"html"
	"net/url"
	"regexp"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var (
	tagPattern      = regexp.MustCompile(`<\s*/?\s*[a-zA-Z!][^>]*>`)
	documentPattern = regexp.MustCompile(`(?i)<\s*(html|body)[\s>]`)

	sanitizer = bluemonday.UGCPolicy()

	// Articles arrive without a URL; readability only needs one to resolve links.
	placeholderURL = &url.URL{Scheme: "https", Host: "articles.invalid", Path: "/"}
)

const blockSelector = "p, div, li, ul, ol, h1, h2, h3, h4, h5, h6, blockquote, pre, tr, table, section, article, header, footer"

// PlainText turns stored article content (plain text, an HTML fragment from
// the rich-text editor, or a full HTML document) into cleaned plain text.
func PlainText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !tagPattern.MatchString(trimmed) {
		return CleanText(html.UnescapeString(trimmed))
	}
	if documentPattern.MatchString(trimmed) {
		if text := documentText(trimmed); text != "" {
			return text
		}
	}
	return fragmentText(trimmed)
}

func documentText(doc string) string {
	article, err := readability.FromReader(strings.NewReader(doc), placeholderURL)
	if err != nil {
		return ""
	}
	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return ""
	}
	text := CleanText(rendered.String())
	if text == "" {
		text = CleanText(article.Excerpt())
	}
	return text
}

func fragmentText(fragment string) string {
	safe := sanitizer.Sanitize(fragment)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(safe))
	if err != nil {
		return CleanText(html.UnescapeString(tagPattern.ReplaceAllString(safe, "\n")))
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return CleanText(doc.Text())
}

// CleanText normalizes line endings, collapses in-line whitespace and keeps
// one blank line between paragraphs.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

// TruncateRunes clips text to maxRunes runes and appends an ellipsis when
// anything was cut.
func TruncateRunes(raw string, maxRunes int) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if maxRunes <= 0 {
		return trimmed, false
	}

	runes := []rune(trimmed)
	if len(runes) <= maxRunes {
		return trimmed, false
	}
	if maxRunes == 1 {
		return "…", true
	}

	clipped := strings.TrimSpace(string(runes[:maxRunes-1]))
	if clipped == "" {
		return "…", true
	}
	return clipped + "…", true
}
