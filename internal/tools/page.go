package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/log"
)

// PageInput is the model-facing input for fetch_page.
type PageInput struct {
	URL string `json:"url" jsonschema_description:"URL of the web page to fetch"`
}

// FetcherConfig contains PageFetcher construction parameters.
type FetcherConfig struct {
	Validator   URLValidator
	Logger      log.Logger
	Parallelism int
	Delay       time.Duration
	Timeout     time.Duration
}

// PageFetcher fetches web pages through a shared collector so per-domain
// politeness limits hold across concurrent tool calls.
type PageFetcher struct {
	base      *colly.Collector
	validator URLValidator
	logger    log.Logger
}

// NewPageFetcher creates a PageFetcher. Zero config values get
// defaults: 2 parallel requests per domain, 1s delay, 30s timeout.
func NewPageFetcher(cfg FetcherConfig) (*PageFetcher, error) {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 2
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.MaxBodySize(fetchBodyMax),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(timeout)
	if sd, ok := cfg.Validator.(safeDialer); ok {
		// Resolved-address checks at dial time, shared by all clones.
		c.WithTransport(sd.Transport())
	}
	// Limit rules live in the collector's backend, which clones share.
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: parallelism,
		Delay:       delay,
	}); err != nil {
		return nil, fmt.Errorf("configuring fetch limits: %w", err)
	}

	return &PageFetcher{base: c, validator: cfg.Validator, logger: cfg.Logger}, nil
}

// Fetch downloads the page and returns its readable text prefixed with
// a source line. Non-HTML responses go through the upload extractors,
// so a directly linked PDF or plain-text file still comes back as text.
func (f *PageFetcher) Fetch(ctx context.Context, in PageInput) (string, error) {
	target := strings.TrimSpace(in.URL)
	if target == "" {
		return "", errors.New("url is required")
	}
	if err := f.validator.ValidateURL(target); err != nil {
		return "", err
	}

	// Each call gets a clone with fresh callbacks; the HTTP backend and
	// its rate limits stay shared.
	c := f.base.Clone()
	c.Context = ctx

	var (
		body        []byte
		contentType string
		finalURL    string
		fetchErr    error
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		contentType = r.Headers.Get("Content-Type")
		finalURL = r.Request.URL.String()
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("HTTP %d from %s", r.StatusCode, target)
			return
		}
		fetchErr = err
	})

	visitErr := c.Visit(target)
	if fetchErr != nil {
		return "", fetchErr
	}
	if visitErr != nil {
		return "", visitErr
	}
	if len(body) == 0 {
		return "", fmt.Errorf("empty response from %s", target)
	}
	if finalURL == "" {
		finalURL = target
	}

	var text string
	var err error
	if isHTML(contentType, body) {
		text, err = articleText(body, finalURL)
	} else {
		text, err = ingest.ExtractText(nameFromURL(finalURL), mediaType(contentType), body)
	}
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", finalURL, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no readable text at %s", finalURL)
	}
	return truncateResult(header(finalURL) + text), nil
}

func isHTML(contentType string, body []byte) bool {
	switch mediaType(contentType) {
	case "text/html", "application/xhtml+xml":
		return true
	}
	if contentType != "" {
		return false
	}
	head := bytes.ToLower(bytes.TrimSpace(body))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// mediaType strips parameters like charset from a Content-Type value.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "page"
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "page"
	}
	return name
}
