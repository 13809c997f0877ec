package preview

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// DefaultLength is the preview length in runes for persisted messages.
const DefaultLength = 160

// Extractor turns message bodies (HTML or plain text) into short previews
type Extractor struct {
	whitespaceRegex *regexp.Regexp
	newlineRegex    *regexp.Regexp
	invisibleRegex  *regexp.Regexp
}

// NewExtractor creates a new preview extractor
func NewExtractor() *Extractor {
	return &Extractor{
		whitespaceRegex: regexp.MustCompile(`[^\S\n]+`),
		newlineRegex:    regexp.MustCompile(`\n{3,}`),
		// Remove invisible Unicode characters (zero-width spaces, etc.)
		invisibleRegex: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{2060}-\x{2064}\x{206A}-\x{206F}\x{FE00}-\x{FE0F}]+`),
	}
}

// Text converts HTML to clean plain text. Non-HTML input passes through the
// same whitespace normalization.
func (e *Extractor) Text(body string) string {
	if body == "" {
		return ""
	}

	text := body
	if strings.Contains(body, "<") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err == nil {
			doc.Find("script, style, head, meta, link").Remove()

			// Add newlines before block elements
			doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
				s.PrependHtml("\n")
			})

			text = doc.Text()
		}
	}

	text = e.invisibleRegex.ReplaceAllString(text, "")
	text = e.whitespaceRegex.ReplaceAllString(text, " ")

	// Trim each line and drop empty ones
	lines := strings.Split(text, "\n")
	var cleanLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleanLines = append(cleanLines, line)
		}
	}
	text = strings.Join(cleanLines, "\n")
	text = e.newlineRegex.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// Snippet extracts plain text and truncates it to at most n runes,
// appending an ellipsis when the body was cut
func (e *Extractor) Snippet(body string, n int) string {
	text := strings.ReplaceAll(e.Text(body), "\n", " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}

	runes := []rune(text)
	cut := strings.TrimSpace(string(runes[:n]))
	return cut + "…"
}
