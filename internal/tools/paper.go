package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/log"
)

// fetchBodyMax caps one paper or page download.
const fetchBodyMax = 32 << 20

// PaperInput is the model-facing input for fetch_paper. One of URL or
// DOI must be set.
type PaperInput struct {
	URL string `json:"url,omitempty" jsonschema_description:"Direct URL of the paper landing page or PDF"`
	DOI string `json:"doi,omitempty" jsonschema_description:"DOI to resolve, with or without a doi.org prefix"`
}

// PaperFetcher downloads a paper and extracts its text. PDFs are
// extracted directly; HTML landing pages are scanned for a full-text
// PDF link before falling back to the page's article text.
type PaperFetcher struct {
	validator URLValidator
	logger    log.Logger
	client    *http.Client

	doiBase string
}

// paperFetchTimeout bounds one paper download, redirects included.
const paperFetchTimeout = 90 * time.Second

// NewPaperFetcher creates a PaperFetcher using the given URL validator.
// A validator that provides transport hardening supplies the HTTP
// client too, so resolved addresses and redirect targets get the same
// checks as the initial URL.
func NewPaperFetcher(validator URLValidator, logger log.Logger) *PaperFetcher {
	client := &http.Client{
		Timeout: paperFetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
	if sd, ok := validator.(safeDialer); ok {
		client = sd.Client(paperFetchTimeout)
	}
	return &PaperFetcher{
		validator: validator,
		logger:    logger,
		client:    client,
		doiBase:   "https://doi.org/",
	}
}

// Fetch resolves the input to a URL, downloads it, and returns the
// extracted text prefixed with a source line.
func (f *PaperFetcher) Fetch(ctx context.Context, in PaperInput) (string, error) {
	target := strings.TrimSpace(in.URL)
	if target == "" {
		doi := normalizeDOI(in.DOI)
		if doi == "" {
			return "", errors.New("url or doi is required")
		}
		target = f.doiBase + doi
	}
	if err := f.validator.ValidateURL(target); err != nil {
		return "", err
	}

	body, contentType, finalURL, err := f.get(ctx, target)
	if err != nil {
		return "", err
	}

	if isPDF(contentType, finalURL, body) {
		text := ingest.ExtractPDFText(body)
		if !readablePDFText(text) {
			return "", fmt.Errorf("no readable text in PDF at %s", finalURL)
		}
		return truncateResult(header(finalURL) + text), nil
	}

	// Landing pages usually link the full-text PDF; prefer that over
	// scraping the abstract.
	if pdfURL := findPDFLink(body, finalURL); pdfURL != "" {
		if text := f.tryPDF(ctx, pdfURL); text != "" {
			return text, nil
		}
	}

	text, err := articleText(body, finalURL)
	if err != nil {
		return "", err
	}
	return truncateResult(header(finalURL) + text), nil
}

// tryPDF fetches a candidate PDF URL and returns its formatted text, or
// "" when the fetch fails or yields no readable text.
func (f *PaperFetcher) tryPDF(ctx context.Context, pdfURL string) string {
	if err := f.validator.ValidateURL(pdfURL); err != nil {
		f.logger.Debug("linked PDF rejected", "url", pdfURL, "error", err)
		return ""
	}
	body, contentType, finalURL, err := f.get(ctx, pdfURL)
	if err != nil {
		f.logger.Debug("linked PDF fetch failed", "url", pdfURL, "error", err)
		return ""
	}
	if !isPDF(contentType, finalURL, body) {
		return ""
	}
	text := ingest.ExtractPDFText(body)
	if !readablePDFText(text) {
		return ""
	}
	return truncateResult(header(finalURL) + text)
}

// readablePDFText reports whether extracted PDF text is substantial
// enough to be the document itself rather than header fragments from
// the extractor's printable-byte fallback.
func readablePDFText(text string) bool {
	return len(strings.TrimSpace(text)) >= 100
}

// get fetches the URL and returns the body, content type, and final URL
// after redirects.
func (f *PaperFetcher) get(ctx context.Context, rawURL string) (body []byte, contentType, finalURL string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/pdf, text/html;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", "", err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, fetchBodyMax))
	if err != nil {
		return nil, "", "", err
	}
	finalURL = rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", "", fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, finalURL, snippet(body))
	}
	return body, resp.Header.Get("Content-Type"), finalURL, nil
}

// isPDF reports whether the response looks like a PDF: by declared
// content type, URL path suffix, or the %PDF magic bytes.
func isPDF(contentType, finalURL string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	if u, err := url.Parse(finalURL); err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return true
	}
	return bytes.HasPrefix(body, []byte("%PDF"))
}

// findPDFLink scans an HTML landing page for a full-text PDF link: the
// citation_pdf_url meta tag scholarly publishers emit, then the first
// anchor that declares a PDF type or points at a .pdf path. Returns an
// absolute URL or "".
func findPDFLink(body []byte, pageURL string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	if href, ok := doc.Find(`meta[name="citation_pdf_url"]`).Attr("content"); ok {
		if resolved := resolveRef(base, href); resolved != "" {
			return resolved
		}
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		typ, _ := sel.Attr("type")
		if typ == "application/pdf" || strings.HasSuffix(strings.ToLower(strings.TrimSpace(href)), ".pdf") {
			found = resolveRef(base, href)
			return false
		}
		return true
	})
	return found
}

func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// articleText extracts readable text from an HTML page, preferring
// readability's article extraction with a plain tag strip as fallback.
func articleText(body []byte, pageURL string) (string, error) {
	parsed, _ := url.Parse(pageURL)
	if article, err := readability.FromReader(bytes.NewReader(body), parsed); err == nil {
		if text := strings.TrimSpace(article.TextContent); text != "" {
			if title := strings.TrimSpace(article.Title); title != "" && !strings.HasPrefix(text, title) {
				return title + "\n\n" + text, nil
			}
			return text, nil
		}
	}
	text, err := ingest.ExtractText("page.html", "text/html", body)
	if err != nil {
		return "", fmt.Errorf("extracting page text: %w", err)
	}
	return text, nil
}
