package expert

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/conclave/pkg/crawler"
)

// pageContentLimit caps the page text, in runes, handed to a model.
const pageContentLimit = 8000

// PageContext is the page the user is looking at.
type PageContext struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
}

// Empty reports whether there is no page content to use.
func (p *PageContext) Empty() bool {
	return p == nil || strings.TrimSpace(p.Content) == ""
}

// CleanContent returns the page text. Markup is stripped the same way
// crawled pages are, with asides removed as well.
func (p *PageContext) CleanContent() string {
	if p.Empty() {
		return ""
	}
	content := p.Content
	if crawler.LooksLikeHTML(content) {
		page, err := crawler.ExtractString(content, append(append([]string(nil), crawler.DefaultStripTags...), "aside")...)
		if err != nil {
			slog.Debug("Failed to clean page content, using it as is", "error", err)
		} else {
			content = page.Text
		}
	} else {
		content = crawler.NormalizeSpace(content)
	}
	return crawler.TruncateRunes(content, pageContentLimit)
}

// Render formats the page for a prompt.
func (p *PageContext) Render() string {
	if p.Empty() {
		return ""
	}
	title := p.Title
	if title == "" {
		title = "Unknown page"
	}
	url := p.URL
	if url == "" {
		url = "N/A"
	}
	return fmt.Sprintf("Page Title: %s\nPage URL: %s\nPage Content:\n%s", title, url, p.CleanContent())
}
