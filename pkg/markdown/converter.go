package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

// ToWhatsApp renders model-emitted markdown into WhatsApp formatting
// (*bold*, _italic_, ~strike~, triple-backtick monospace).
func ToWhatsApp(markdown string) string {
	if markdown == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))

	return htmlToWhatsApp(html)
}

var (
	paragraphRe = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	preRe       = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	codeRe      = regexp.MustCompile(`(?s)<code>(.*?)</code>`)
	headingRe   = regexp.MustCompile(`(?s)<h[1-6]>(.*?)</h[1-6]>`)
	anchorRe    = regexp.MustCompile(`<a href="([^"]*)"[^>]*>(.*?)</a>`)
	tagRe       = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	blankRe     = regexp.MustCompile(`\n{3,}`)
)

func htmlToWhatsApp(html string) string {
	html = preRe.ReplaceAllString(html, "```\n$1```\n")
	html = codeRe.ReplaceAllString(html, "`$1`")
	html = headingRe.ReplaceAllString(html, "*$1*\n")
	html = paragraphRe.ReplaceAllString(html, "$1\n")

	html = strings.ReplaceAll(html, "<strong>", "*")
	html = strings.ReplaceAll(html, "</strong>", "*")
	html = strings.ReplaceAll(html, "<em>", "_")
	html = strings.ReplaceAll(html, "</em>", "_")
	html = strings.ReplaceAll(html, "<del>", "~")
	html = strings.ReplaceAll(html, "</del>", "~")

	// Links: keep "text (url)" unless the text already is the url
	html = anchorRe.ReplaceAllStringFunc(html, func(m string) string {
		parts := anchorRe.FindStringSubmatch(m)
		if len(parts) != 3 {
			return m
		}
		if parts[1] == parts[2] {
			return parts[1]
		}
		return parts[2] + " (" + parts[1] + ")"
	})

	// Lists become bullet lines; the source newline after </li> already
	// separates items
	html = strings.ReplaceAll(html, "<li>", "• ")
	html = strings.ReplaceAll(html, "</li>", "")

	html = tagRe.ReplaceAllString(html, "")

	html = strings.ReplaceAll(html, "&quot;", `"`)
	html = strings.ReplaceAll(html, "&#39;", "'")
	html = strings.ReplaceAll(html, "&lt;", "<")
	html = strings.ReplaceAll(html, "&gt;", ">")
	html = strings.ReplaceAll(html, "&amp;", "&")

	html = blankRe.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
