package crawler

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// NoTitle is used when a page has no <title>.
const NoTitle = "No title"

// DefaultStripTags are removed, with their subtrees, before text extraction.
var DefaultStripTags = []string{"script", "style", "nav", "footer", "header", "noscript"}

// Page is the extracted content of an HTML document.
type Page struct {
	Title string
	Text  string
}

// Extract parses an HTML document, drops the strip tags and returns the
// title with whitespace-normalized visible text.
func Extract(r io.Reader, stripTags ...string) (Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Page{}, err
	}
	if len(stripTags) == 0 {
		stripTags = DefaultStripTags
	}

	strip := make(map[string]bool, len(stripTags))
	for _, t := range stripTags {
		strip[strings.ToLower(t)] = true
	}

	page := Page{Title: extractTitle(doc)}
	if page.Title == "" {
		page.Title = NoTitle
	}

	var b strings.Builder
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && (strip[n.Data] || n.Data == "title" || n.Data == "template") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	page.Text = NormalizeSpace(b.String())
	return page, nil
}

// ExtractString is Extract over a string.
func ExtractString(s string, stripTags ...string) (Page, error) {
	return Extract(strings.NewReader(s), stripTags...)
}

func extractTitle(doc *html.Node) string {
	var title string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			var b strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					b.WriteString(c.Data)
				}
			}
			title = NormalizeSpace(b.String())
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return title
}

// NormalizeSpace collapses runs of whitespace into single spaces.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// LooksLikeHTML reports whether s appears to be markup rather than text.
func LooksLikeHTML(s string) bool {
	t := strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(t, "<") {
		return false
	}
	for _, marker := range []string{"<html", "<!doctype", "<body", "<div", "<p", "<head", "<main", "<section", "<article"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}
