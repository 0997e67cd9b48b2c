// Package web fetches and extracts readable content from the public web,
// with SSRF protections, a retry/backoff schedule shared with the provider
// gateway's idiom, and a shallow same-host crawler.
package web

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/ashgrove-labs/orkestra"
)

const (
	maxFetchBytes   = 1 << 20 // 1MB
	maxContentChars = 8000
	maxCrawlPages   = 20
	crawlWorkers    = 4
)

// Tool fetches URLs and extracts readable content, and shallow-crawls a
// site following same-host links.
type Tool struct {
	client *http.Client

	mu    sync.Mutex
	seen  map[string]struct{} // sha256 of fetched content, for cross-call dedup
}

// New creates a web Tool with a 15-second per-request timeout.
func New() *Tool {
	return &Tool{
		client: &http.Client{Timeout: 15 * time.Second},
		seen:   make(map[string]struct{}),
	}
}

func (t *Tool) Definitions() []orkestra.ToolDefinition {
	return []orkestra.ToolDefinition{
		{
			Name:        "fetch_webpage",
			Description: "Fetch a URL and extract its readable text content.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`),
		},
		{
			Name:        "crawl_website",
			Description: "Shallow-crawl a site starting from a URL, following same-host links, up to 20 pages.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"},"max_pages":{"type":"integer"}},"required":["url"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (orkestra.Output, error) {
	var params struct {
		URL      string `json:"url"`
		MaxPages int    `json:"max_pages"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orkestra.Output{Text: "error: invalid args: " + err.Error()}, nil
	}

	switch name {
	case "fetch_webpage":
		content, err := t.fetchWithRetry(ctx, params.URL)
		if err != nil {
			return orkestra.Output{Text: "error: " + err.Error()}, nil
		}
		return orkestra.Output{Text: truncate(content)}, nil
	case "crawl_website":
		max := params.MaxPages
		if max <= 0 || max > maxCrawlPages {
			max = maxCrawlPages
		}
		return t.crawl(ctx, params.URL, max)
	default:
		return orkestra.Output{Text: "error: unknown web tool: " + name}, nil
	}
}

// fetchWithRetry retries up to 3 times with an exponential delay (250ms,
// 500ms, 1s; the provider backoff layer uses a 1s base instead). It stops
// early only on an HTTP status below 500 other than 429; errors that carry
// no status (network, URL, scheme and address-check failures) are retried.
func (t *Tool) fetchWithRetry(ctx context.Context, rawURL string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= 3; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * 250 * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		content, status, err := t.fetch(ctx, rawURL)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if status != 0 && status != 429 && status < 500 {
			break // fatal, not transient
		}
	}
	return "", lastErr
}

func (t *Tool) fetch(ctx context.Context, rawURL string) (string, int, error) {
	text, _, status, err := t.fetchWithHTML(ctx, rawURL)
	return text, status, err
}

// fetchWithHTML fetches rawURL and returns both the extracted readable
// text and the raw HTML (for link discovery by the crawler).
func (t *Tool) fetchWithHTML(ctx context.Context, rawURL string) (string, string, int, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", 0, fmt.Errorf("unsupported scheme: %s", parsed.Scheme)
	}
	if err := rejectPrivateHost(parsed.Hostname()); err != nil {
		return "", "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", 0, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OrkestraBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", resp.StatusCode, fmt.Errorf("http %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", "", 0, fmt.Errorf("read error: %w", err)
	}

	raw := string(body)
	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])

	t.mu.Lock()
	_, dup := t.seen[digest]
	t.seen[digest] = struct{}{}
	t.mu.Unlock()
	if dup {
		return "(identical content already fetched this session)", raw, resp.StatusCode, nil
	}

	if article, err := readability.FromReader(strings.NewReader(raw), parsed); err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), raw, resp.StatusCode, nil
	}
	return stripHTML(raw), raw, resp.StatusCode, nil
}

func (t *Tool) crawl(ctx context.Context, startURL string, maxPages int) (orkestra.Output, error) {
	start, err := url.Parse(startURL)
	if err != nil {
		return orkestra.Output{Text: "error: invalid URL: " + err.Error()}, nil
	}

	type job struct{ u string }
	type pageResult struct {
		u       string
		content string
		links   []string
		err     error
	}

	visited := map[string]bool{start.String(): true}
	queue := []string{start.String()}
	var results []pageResult

	for len(results) < maxPages && len(queue) > 0 {
		batch := queue
		queue = nil

		jobs := make(chan job, len(batch))
		out := make(chan pageResult, len(batch))
		var wg sync.WaitGroup
		for i := 0; i < crawlWorkers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range jobs {
					content, links, err := t.fetchPage(ctx, j.u, start.Host)
					out <- pageResult{u: j.u, content: content, links: links, err: err}
				}
			}()
		}
		for _, u := range batch {
			jobs <- job{u: u}
		}
		close(jobs)
		go func() { wg.Wait(); close(out) }()

		for r := range out {
			if len(results) >= maxPages {
				continue
			}
			if r.err == nil {
				results = append(results, r)
			}
			for _, link := range r.links {
				if !visited[link] && len(visited) < maxPages*4 {
					visited[link] = true
					queue = append(queue, link)
				}
			}
		}
		select {
		case <-ctx.Done():
			break
		default:
		}
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", r.u, truncate(r.content))
	}
	return orkestra.Output{Text: b.String()}, nil
}

func (t *Tool) fetchPage(ctx context.Context, rawURL, allowedHost string) (string, []string, error) {
	content, rawHTML, _, err := t.fetchWithHTML(ctx, rawURL)
	if err != nil {
		return "", nil, err
	}
	links := extractSameHostLinks(rawURL, rawHTML, allowedHost)
	return content, links, nil
}

func truncate(s string) string {
	if len(s) > maxContentChars {
		return s[:maxContentChars] + "\n... (truncated)"
	}
	return s
}

// rejectPrivateHost blocks loopback, link-local, and private-range
// addresses to keep fetch_webpage/crawl_website from being used to reach
// internal infrastructure.
func rejectPrivateHost(host string) error {
	ips, err := net.LookupIP(host)
	if err != nil {
		// let the HTTP layer surface the real DNS error
		return nil
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() || ip.IsUnspecified() {
			return fmt.Errorf("refusing to fetch internal address: %s", host)
		}
	}
	return nil
}

func stripHTML(raw string) string {
	tok := html.NewTokenizer(strings.NewReader(raw))
	var b strings.Builder
	skip := 0
	for {
		tt := tok.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				if tt == html.StartTagToken {
					skip++
				}
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			if string(name) == "script" || string(name) == "style" || string(name) == "noscript" {
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tok.Text())
				b.WriteByte(' ')
			}
		}
	}
}

// extractSameHostLinks walks rawHTML's anchor tags and returns absolute
// URLs that resolve to allowedHost, so the crawler stays on-site.
func extractSameHostLinks(pageURL, rawHTML string, allowedHost string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	tok := html.NewTokenizer(strings.NewReader(rawHTML))
	var links []string
	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			return links
		}
		if tt != html.StartTagToken {
			continue
		}
		name, hasAttr := tok.TagName()
		if string(name) != "a" || !hasAttr {
			continue
		}
		for {
			key, val, more := tok.TagAttr()
			if string(key) == "href" {
				if resolved, err := base.Parse(string(val)); err == nil && resolved.Host == allowedHost {
					resolved.Fragment = ""
					links = append(links, resolved.String())
				}
			}
			if !more {
				break
			}
		}
	}
}
