// Package fetch retrieves human-readable text from a domain's website for
// classification.
package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"dns-warden/pkg/config"
	"dns-warden/pkg/hostname"
	"dns-warden/pkg/logging"

	"github.com/chromedp/chromedp"
	"golang.org/x/net/html"
)

// Fetcher returns site text for a domain. Failures are not errors: a domain
// whose text cannot be fetched yields the empty string and is classified as
// safe downstream.
type Fetcher interface {
	Fetch(ctx context.Context, domain string) string
}

// SiteFetcher crawls a domain with a headless browser and falls back to a
// plain HTTP GET when the browser yields nothing.
type SiteFetcher struct {
	cfg        *config.FetcherConfig
	logger     *logging.Logger
	httpClient *http.Client

	// crawl is swappable for tests.
	crawl func(ctx context.Context, domain, scheme string) string
}

// NewSiteFetcher creates a fetcher from the configuration.
func NewSiteFetcher(cfg *config.FetcherConfig, logger *logging.Logger) *SiteFetcher {
	f := &SiteFetcher{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
	f.crawl = f.browserCrawl
	return f
}

// Fetch tries https then http with the browser, then the same pair with a
// plain GET. The first non-empty text wins. All failures collapse to "".
func (f *SiteFetcher) Fetch(ctx context.Context, domain string) string {
	// URLs use the bare host form rather than the dotted FQDN.
	domain = hostname.Bare(domain)

	for _, scheme := range []string{"https", "http"} {
		if text := f.crawl(ctx, domain, scheme); text != "" {
			return f.truncate(text)
		}
	}

	for _, scheme := range []string{"https", "http"} {
		if text := f.plainFetch(ctx, domain, scheme); text != "" {
			return f.truncate(text)
		}
	}

	f.logger.Debug("No site text retrieved", "domain", domain)
	return ""
}

// browserCrawl renders pages with a headless browser, following same-host
// links breadth-first up to MaxDepth and MaxPages.
func (f *SiteFetcher) browserCrawl(ctx context.Context, domain, scheme string) string {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	type page struct {
		url   string
		depth int
	}

	start := scheme + "://" + domain + "/"
	queue := []page{{url: start, depth: 0}}
	visited := map[string]bool{start: true}

	var text strings.Builder
	pages := 0

	for len(queue) > 0 && pages < f.cfg.MaxPages && text.Len() < f.cfg.MaxBytes {
		current := queue[0]
		queue = queue[1:]

		pageCtx, cancelPage := context.WithTimeout(browserCtx, f.cfg.Timeout)

		var body string
		var hrefs []string
		err := chromedp.Run(pageCtx,
			chromedp.Navigate(current.url),
			chromedp.Text("body", &body, chromedp.ByQuery),
			chromedp.Evaluate(`Array.from(document.querySelectorAll("a[href]")).map(a => a.href)`, &hrefs),
		)
		cancelPage()
		if err != nil {
			f.logger.Debug("Browser page fetch failed",
				"url", current.url,
				"error", err,
			)
			continue
		}

		pages++
		if body = strings.TrimSpace(body); body != "" {
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.WriteString(body)
		}

		if current.depth+1 >= f.cfg.MaxDepth {
			continue
		}
		for _, href := range hrefs {
			link, ok := sameHostLink(href, domain)
			if !ok || visited[link] {
				continue
			}
			visited[link] = true
			queue = append(queue, page{url: link, depth: current.depth + 1})
		}
	}

	return text.String()
}

// plainFetch issues a single GET and strips the HTML down to text.
func (f *SiteFetcher) plainFetch(ctx context.Context, domain, scheme string) string {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, scheme+"://"+domain+"/", nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; dns-warden)")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Debug("Plain fetch failed",
			"domain", domain,
			"scheme", scheme,
			"error", err,
		)
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ""
	}

	// Read a bounded amount of markup; markup is larger than its text.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.cfg.MaxBytes)*10))
	if err != nil {
		return ""
	}

	return extractText(body)
}

func (f *SiteFetcher) truncate(text string) string {
	if len(text) <= f.cfg.MaxBytes {
		return text
	}
	return text[:f.cfg.MaxBytes]
}

// sameHostLink reports whether href points at the given host and returns the
// normalized URL.
func sameHostLink(href, host string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host != host {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

// extractText walks the HTML tree collecting visible text nodes.
func extractText(markup []byte) string {
	doc, err := html.Parse(strings.NewReader(string(markup)))
	if err != nil {
		return ""
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(parts, " ")
}
