// Package search implements a web search tool backed by the DuckDuckGo
// HTML endpoint. Result pages are scraped for their paragraph text and
// the combined excerpt is handed back for prompt augmentation.
package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/SleepyXm/SynapseR/internal/config"
	"github.com/SleepyXm/SynapseR/internal/log"
	"github.com/SleepyXm/SynapseR/internal/tools"
)

// triggerPhrases fire the search tool when present in user input.
var triggerPhrases = []string{
	"search",
	"look up",
	"find info",
	"google",
	"can you check online",
	"what does the internet say",
}

// Client queries the search endpoint and scrapes result pages.
type Client struct {
	baseURL       string
	maxResults    int
	maxParagraphs int
	timeout       time.Duration
	userAgent     string
	httpClient    *http.Client
	logger        log.Logger
}

// NewClient creates a search client from configuration.
func NewClient(cfg config.SearchConfig, logger log.Logger) *Client {
	timeout := cfg.Timeout()
	return &Client{
		baseURL:       cfg.BaseURL,
		maxResults:    cfg.MaxResults,
		maxParagraphs: cfg.MaxParagraphs,
		timeout:       timeout,
		userAgent:     cfg.UserAgent,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// Should reports whether the input asks for a web search.
func Should(input string) bool {
	lowered := strings.ToLower(input)
	for _, phrase := range triggerPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// Tool adapts the client to the tool router.
func (c *Client) Tool() tools.Tool {
	return tools.Tool{
		Name:    "web_search",
		Trigger: Should,
		Run:     c.TopParagraphs,
	}
}

// TopParagraphs searches for the query, scrapes the top result pages and
// returns their leading paragraphs joined by blank lines. A page that
// cannot be fetched contributes a single diagnostic line instead of
// failing the whole search.
func (c *Client) TopParagraphs(ctx context.Context, query string) (string, error) {
	links, err := c.resultLinks(ctx, query)
	if err != nil {
		return "", err
	}
	if len(links) == 0 {
		return "", nil
	}

	sections := make([]string, 0, len(links))
	for _, link := range links {
		paragraphs, err := c.scrapeParagraphs(link)
		if err != nil {
			c.logger.Warn("result page fetch failed", "url", link, "error", err)
			sections = append(sections, fmt.Sprintf("Error fetching %s: %v", link, err))
			continue
		}
		if len(paragraphs) > 0 {
			sections = append(sections, strings.Join(paragraphs, "\n\n"))
		}
	}
	return strings.Join(sections, "\n\n"), nil
}

// resultLinks posts the query to the HTML search endpoint and extracts
// the top result URLs.
func (c *Client) resultLinks(ctx context.Context, query string) ([]string, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	links := make([]string, 0, c.maxResults)
	doc.Find("a.result__a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return true
		}
		links = append(links, resolveRedirect(href))
		return len(links) < c.maxResults
	})
	return links, nil
}

// resolveRedirect unwraps the endpoint's redirect links, which carry the
// destination in a uddg query parameter.
func resolveRedirect(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

// scrapeParagraphs fetches a result page and collects its paragraph text.
func (c *Client) scrapeParagraphs(pageURL string) ([]string, error) {
	collector := colly.NewCollector(
		colly.UserAgent(c.userAgent),
		colly.MaxDepth(1),
	)
	collector.SetRequestTimeout(c.timeout)

	var paragraphs []string
	collector.OnHTML("p", func(e *colly.HTMLElement) {
		if len(paragraphs) >= c.maxParagraphs {
			return
		}
		text := strings.TrimSpace(e.Text)
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	if err := collector.Visit(pageURL); err != nil {
		return nil, err
	}
	collector.Wait()
	return paragraphs, nil
}
