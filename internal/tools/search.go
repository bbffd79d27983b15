package tools

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/libris-ai/libris/internal/log"
)

// searchBodyMax caps one search API response read.
const searchBodyMax = 4 << 20

// SearchInput is the model-facing input for search_papers.
type SearchInput struct {
	Query      string   `json:"query" jsonschema_description:"Search topic or keywords"`
	MaxResults int      `json:"max_results,omitempty" jsonschema_description:"Maximum results per source (1-20, default 5)"`
	Sources    []string `json:"sources,omitempty" jsonschema_description:"Sources to search: semantic_scholar, arxiv, crossref, pubmed, openalex. Defaults to all."`
}

// Paper holds one search hit's metadata.
type Paper struct {
	Source   string
	Title    string
	Authors  []string
	Year     string
	Abstract string
	DOI      string
	URL      string
	PDFURL   string
}

// Format renders the paper as a text block for the model.
func (p Paper) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	if len(p.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\n", strings.Join(p.Authors, ", "))
	}
	if p.Year != "" {
		fmt.Fprintf(&b, "Year: %s\n", p.Year)
	}
	if p.DOI != "" {
		fmt.Fprintf(&b, "DOI: %s\n", p.DOI)
	}
	if p.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", p.URL)
	}
	if p.PDFURL != "" {
		fmt.Fprintf(&b, "PDF: %s\n", p.PDFURL)
	}
	if p.Abstract != "" {
		abstract := p.Abstract
		if runes := []rune(abstract); len(runes) > 500 {
			abstract = string(runes[:500]) + "..."
		}
		fmt.Fprintf(&b, "Abstract: %s\n", abstract)
	}
	fmt.Fprintf(&b, "Source: %s\n", p.Source)
	return b.String()
}

// SearcherConfig contains Searcher construction parameters.
type SearcherConfig struct {
	Logger              log.Logger
	Mail                string
	SemanticScholarKey  string
	MaxResultsPerSource int
	Timeout             time.Duration
}

// Searcher fans a query out to the academic search APIs and merges the
// results. Safe for concurrent use.
type Searcher struct {
	client       *http.Client
	logger       log.Logger
	mail         string
	scholarKey   string
	maxPerSource int

	// Base URLs are fields so tests can point sources at local servers.
	semanticScholarURL string
	arxivURL           string
	crossrefURL        string
	pubmedURL          string
	openAlexURL        string
}

// NewSearcher creates a Searcher, applying defaults for zero config
// values.
func NewSearcher(cfg SearcherConfig) *Searcher {
	maxPerSource := cfg.MaxResultsPerSource
	if maxPerSource <= 0 {
		maxPerSource = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Searcher{
		client:       &http.Client{Timeout: timeout},
		logger:       cfg.Logger,
		mail:         cfg.Mail,
		scholarKey:   cfg.SemanticScholarKey,
		maxPerSource: maxPerSource,

		semanticScholarURL: "https://api.semanticscholar.org/graph/v1/paper/search",
		arxivURL:           "https://export.arxiv.org/api/query",
		crossrefURL:        "https://api.crossref.org/works",
		pubmedURL:          "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
		openAlexURL:        "https://api.openalex.org/works",
	}
}

type source struct {
	name   string
	search func(ctx context.Context, query string, limit int) ([]Paper, error)
}

func (s *Searcher) sources() []source {
	return []source{
		{"semantic_scholar", s.searchSemanticScholar},
		{"arxiv", s.searchArXiv},
		{"crossref", s.searchCrossref},
		{"pubmed", s.searchPubMed},
		{"openalex", s.searchOpenAlex},
	}
}

// Search runs the query against every requested source concurrently. A
// failing source degrades the result instead of failing the call; the
// error is surfaced in the result text so the model can tell the user.
func (s *Searcher) Search(ctx context.Context, in SearchInput) (string, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", errors.New("query is required")
	}
	limit := s.maxPerSource
	if in.MaxResults > 0 && in.MaxResults <= 20 {
		limit = in.MaxResults
	}

	selected, err := selectSources(s.sources(), in.Sources)
	if err != nil {
		return "", err
	}

	results := make([][]Paper, len(selected))
	errs := make([]error, len(selected))
	var wg sync.WaitGroup
	for i, src := range selected {
		wg.Add(1)
		go func(i int, src source) {
			defer wg.Done()
			results[i], errs[i] = src.search(ctx, query, limit)
		}(i, src)
	}
	wg.Wait()

	var papers []Paper
	var failures []string
	for i, src := range selected {
		if errs[i] != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", src.name, errs[i]))
			s.logger.Warn("paper search source failed", "source", src.name, "error", errs[i])
			continue
		}
		papers = append(papers, results[i]...)
	}
	papers = dedupe(papers)

	if len(papers) == 0 && len(failures) > 0 {
		return "", fmt.Errorf("all sources failed: %s", strings.Join(failures, "; "))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q: %d papers", query, len(papers))
	if len(failures) > 0 {
		fmt.Fprintf(&b, " (unavailable: %s)", strings.Join(failures, "; "))
	}
	b.WriteString("\n\n")
	for i, p := range papers {
		fmt.Fprintf(&b, "--- Paper %d ---\n", i+1)
		b.WriteString(p.Format())
		b.WriteString("\n")
	}
	return truncateResult(b.String()), nil
}

// selectSources filters the source list by the requested names. An
// empty request selects everything; a request naming only unknown
// sources is an error.
func selectSources(all []source, requested []string) ([]source, error) {
	if len(requested) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		want[strings.ToLower(strings.TrimSpace(name))] = true
	}
	var selected []source
	for _, src := range all {
		if want[src.name] {
			selected = append(selected, src)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no known sources in %v", requested)
	}
	return selected, nil
}

// dedupe drops papers already seen under the same DOI, then under the
// same normalized title. Order is preserved, so the first source to
// report a paper wins.
func dedupe(papers []Paper) []Paper {
	seen := make(map[string]bool, len(papers))
	out := make([]Paper, 0, len(papers))
	for _, p := range papers {
		var key string
		switch {
		case p.DOI != "":
			key = "doi:" + normalizeDOI(p.DOI)
		case p.Title != "":
			key = "title:" + normalizeTitle(p.Title)
		default:
			out = append(out, p)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func normalizeDOI(doi string) string {
	doi = strings.TrimSpace(strings.ToLower(doi))
	doi = strings.TrimPrefix(doi, "https://doi.org/")
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return doi
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// getJSON performs one API request and decodes the JSON response.
func (s *Searcher) getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, searchBodyMax))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func (s *Searcher) searchSemanticScholar(ctx context.Context, query string, limit int) ([]Paper, error) {
	apiURL := fmt.Sprintf("%s?query=%s&limit=%d&fields=title,authors,year,abstract,openAccessPdf,externalIds,url",
		s.semanticScholarURL, url.QueryEscape(query), limit)

	var headers map[string]string
	if s.scholarKey != "" {
		headers = map[string]string{"x-api-key": s.scholarKey}
	}

	var data struct {
		Data []struct {
			Title    string `json:"title"`
			Year     int    `json:"year"`
			Abstract string `json:"abstract"`
			URL      string `json:"url"`
			Authors  []struct {
				Name string `json:"name"`
			} `json:"authors"`
			OpenAccessPdf struct {
				URL string `json:"url"`
			} `json:"openAccessPdf"`
			ExternalIDs struct {
				DOI string `json:"DOI"`
			} `json:"externalIds"`
		} `json:"data"`
	}
	if err := s.getJSON(ctx, apiURL, headers, &data); err != nil {
		return nil, err
	}

	papers := make([]Paper, 0, len(data.Data))
	for _, item := range data.Data {
		var authors []string
		for _, a := range item.Authors {
			authors = append(authors, a.Name)
		}
		year := ""
		if item.Year > 0 {
			year = strconv.Itoa(item.Year)
		}
		papers = append(papers, Paper{
			Source:   "Semantic Scholar",
			Title:    item.Title,
			Authors:  authors,
			Year:     year,
			Abstract: item.Abstract,
			DOI:      item.ExternalIDs.DOI,
			URL:      item.URL,
			PDFURL:   item.OpenAccessPdf.URL,
		})
	}
	return papers, nil
}

type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Type  string `xml:"type,attr"`
		Title string `xml:"title,attr"`
		Rel   string `xml:"rel,attr"`
	} `xml:"link"`
}

func (s *Searcher) searchArXiv(ctx context.Context, query string, limit int) ([]Paper, error) {
	apiURL := fmt.Sprintf("%s?search_query=all:%s&start=0&max_results=%d",
		s.arxivURL, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, searchBodyMax))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(body))
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	papers := make([]Paper, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		var authors []string
		for _, a := range entry.Authors {
			authors = append(authors, a.Name)
		}
		year := ""
		if len(entry.Published) >= 4 {
			year = entry.Published[:4]
		}
		pdfURL := ""
		pageURL := entry.ID
		for _, link := range entry.Links {
			switch {
			case link.Title == "pdf" || link.Type == "application/pdf":
				pdfURL = link.Href
			case link.Rel == "alternate":
				pageURL = link.Href
			}
		}
		// Abstract pages live under /abs/, the matching PDF under /pdf/.
		if pdfURL == "" && strings.Contains(entry.ID, "arxiv.org/abs/") {
			pdfURL = strings.Replace(entry.ID, "/abs/", "/pdf/", 1)
		}
		papers = append(papers, Paper{
			Source:   "arXiv",
			Title:    strings.TrimSpace(entry.Title),
			Authors:  authors,
			Year:     year,
			Abstract: strings.TrimSpace(entry.Summary),
			URL:      pageURL,
			PDFURL:   pdfURL,
		})
	}
	return papers, nil
}

func (s *Searcher) searchCrossref(ctx context.Context, query string, limit int) ([]Paper, error) {
	apiURL := fmt.Sprintf("%s?query=%s&rows=%d&select=title,author,published,DOI,link,abstract",
		s.crossrefURL, url.QueryEscape(query), limit)
	if s.mail != "" {
		apiURL += "&mailto=" + url.QueryEscape(s.mail)
	}

	var data struct {
		Message struct {
			Items []struct {
				Title     []string `json:"title"`
				DOI       string   `json:"DOI"`
				Abstract  string   `json:"abstract"`
				Published struct {
					DateParts [][]int `json:"date-parts"`
				} `json:"published"`
				Author []struct {
					Given  string `json:"given"`
					Family string `json:"family"`
				} `json:"author"`
				Link []struct {
					URL         string `json:"URL"`
					ContentType string `json:"content-type"`
				} `json:"link"`
			} `json:"items"`
		} `json:"message"`
	}
	if err := s.getJSON(ctx, apiURL, nil, &data); err != nil {
		return nil, err
	}

	papers := make([]Paper, 0, len(data.Message.Items))
	for _, item := range data.Message.Items {
		title := ""
		if len(item.Title) > 0 {
			title = item.Title[0]
		}
		var authors []string
		for _, a := range item.Author {
			if name := strings.TrimSpace(a.Given + " " + a.Family); name != "" {
				authors = append(authors, name)
			}
		}
		year := ""
		if len(item.Published.DateParts) > 0 && len(item.Published.DateParts[0]) > 0 {
			year = strconv.Itoa(item.Published.DateParts[0][0])
		}
		pageURL := ""
		if item.DOI != "" {
			pageURL = "https://doi.org/" + item.DOI
		}
		pdfURL := ""
		for _, link := range item.Link {
			if link.ContentType == "application/pdf" {
				pdfURL = link.URL
			}
		}
		papers = append(papers, Paper{
			Source:   "CrossRef",
			Title:    title,
			Authors:  authors,
			Year:     year,
			Abstract: item.Abstract,
			DOI:      item.DOI,
			URL:      pageURL,
			PDFURL:   pdfURL,
		})
	}
	return papers, nil
}

// searchPubMed queries PubMed Central in two steps: esearch resolves
// the query to article IDs, esummary fetches their metadata.
func (s *Searcher) searchPubMed(ctx context.Context, query string, limit int) ([]Paper, error) {
	searchURL := fmt.Sprintf("%s/esearch.fcgi?db=pmc&term=%s&retmax=%d&retmode=json",
		s.pubmedURL, url.QueryEscape(query), limit)

	var searchResult struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := s.getJSON(ctx, searchURL, nil, &searchResult); err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}

	ids := searchResult.ESearchResult.IDList
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	summaryURL := fmt.Sprintf("%s/esummary.fcgi?db=pmc&id=%s&retmode=json",
		s.pubmedURL, strings.Join(ids, ","))

	var summaryResult struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := s.getJSON(ctx, summaryURL, nil, &summaryResult); err != nil {
		return nil, fmt.Errorf("esummary: %w", err)
	}

	var papers []Paper
	for _, id := range ids {
		raw, ok := summaryResult.Result[id]
		if !ok {
			continue
		}
		var doc struct {
			Title   string `json:"title"`
			PubDate string `json:"pubdate"`
			Authors []struct {
				Name string `json:"name"`
			} `json:"authors"`
			DOI string `json:"elocationid"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		var authors []string
		for _, a := range doc.Authors {
			authors = append(authors, a.Name)
		}
		year := ""
		if len(doc.PubDate) >= 4 {
			year = doc.PubDate[:4]
		}
		papers = append(papers, Paper{
			Source:  "PubMed Central",
			Title:   doc.Title,
			Authors: authors,
			Year:    year,
			DOI:     doc.DOI,
			URL:     fmt.Sprintf("https://www.ncbi.nlm.nih.gov/pmc/articles/PMC%s/", id),
			PDFURL:  fmt.Sprintf("https://www.ncbi.nlm.nih.gov/pmc/articles/PMC%s/pdf/", id),
		})
	}
	return papers, nil
}

func (s *Searcher) searchOpenAlex(ctx context.Context, query string, limit int) ([]Paper, error) {
	apiURL := fmt.Sprintf("%s?search=%s&per-page=%d&select=id,title,doi,open_access,primary_location,publication_year,authorships",
		s.openAlexURL, url.QueryEscape(query), limit)
	if s.mail != "" {
		apiURL += "&mailto=" + url.QueryEscape(s.mail)
	}

	var data struct {
		Results []struct {
			Title           string `json:"title"`
			DOI             string `json:"doi"`
			PublicationYear int    `json:"publication_year"`
			OpenAccess      struct {
				IsOA  bool   `json:"is_oa"`
				OAURL string `json:"oa_url"`
			} `json:"open_access"`
			PrimaryLocation struct {
				LandingPageURL string `json:"landing_page_url"`
				PDFURL         string `json:"pdf_url"`
			} `json:"primary_location"`
			Authorships []struct {
				Author struct {
					DisplayName string `json:"display_name"`
				} `json:"author"`
			} `json:"authorships"`
		} `json:"results"`
	}
	if err := s.getJSON(ctx, apiURL, nil, &data); err != nil {
		return nil, err
	}

	papers := make([]Paper, 0, len(data.Results))
	for _, item := range data.Results {
		var authors []string
		for _, a := range item.Authorships {
			if a.Author.DisplayName != "" {
				authors = append(authors, a.Author.DisplayName)
			}
		}
		year := ""
		if item.PublicationYear > 0 {
			year = strconv.Itoa(item.PublicationYear)
		}
		pdfURL := item.PrimaryLocation.PDFURL
		if pdfURL == "" && item.OpenAccess.IsOA {
			pdfURL = item.OpenAccess.OAURL
		}
		papers = append(papers, Paper{
			Source:  "OpenAlex",
			Title:   item.Title,
			Authors: authors,
			Year:    year,
			DOI:     item.DOI,
			URL:     item.PrimaryLocation.LandingPageURL,
			PDFURL:  pdfURL,
		})
	}
	return papers, nil
}
