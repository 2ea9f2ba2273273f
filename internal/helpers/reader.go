package helpers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// Article is the readable portion of a fetched web page.
type Article struct {
	Title string
	Text  string
}

// FetchArticle downloads a page and extracts its main content via readability.
// Used by the knowledge import endpoint to turn a URL into a knowledge entry.
func FetchArticle(ctx context.Context, rawURL string, timeout time.Duration) (Article, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Article{}, fmt.Errorf("invalid url: %s", rawURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return Article{}, err
	}
	req.Header.Set("User-Agent", "FriendlyBot/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return Article{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Article{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return Article{}, fmt.Errorf("extract %s: %w", rawURL, err)
	}
	text := strings.TrimSpace(spacesRe.ReplaceAllString(article.TextContent, " "))
	if text == "" {
		return Article{}, fmt.Errorf("no readable content at %s", rawURL)
	}
	return Article{Title: strings.TrimSpace(article.Title), Text: text}, nil
}
