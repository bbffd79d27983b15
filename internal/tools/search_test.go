package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSearcher points every source at a local test server.
func testSearcher(t *testing.T, mux *http.ServeMux) *Searcher {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s := NewSearcher(SearcherConfig{Logger: testLogger()})
	s.semanticScholarURL = srv.URL + "/ss"
	s.arxivURL = srv.URL + "/arxiv"
	s.crossrefURL = srv.URL + "/crossref"
	s.pubmedURL = srv.URL + "/pubmed"
	s.openAlexURL = srv.URL + "/openalex"
	return s
}

func TestSearcherSemanticScholar(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ss", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crispr", r.URL.Query().Get("query"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{
			"title":"CRISPR Advances",
			"year":2023,
			"abstract":"Gene editing overview.",
			"url":"https://www.semanticscholar.org/paper/abc",
			"authors":[{"name":"Ada Lovelace"},{"name":"Grace Hopper"}],
			"openAccessPdf":{"url":"https://example.org/crispr.pdf"},
			"externalIds":{"DOI":"10.1000/crispr1"}
		}]}`))
	})

	s := testSearcher(t, mux)
	s.scholarKey = "sk-test"

	out, err := s.Search(context.Background(), SearchInput{
		Query:   "crispr",
		Sources: []string{"semantic_scholar"},
	})
	require.NoError(t, err)

	assert.Contains(t, out, `Search results for "crispr": 1 papers`)
	assert.Contains(t, out, "Title: CRISPR Advances")
	assert.Contains(t, out, "Authors: Ada Lovelace, Grace Hopper")
	assert.Contains(t, out, "Year: 2023")
	assert.Contains(t, out, "DOI: 10.1000/crispr1")
	assert.Contains(t, out, "PDF: https://example.org/crispr.pdf")
	assert.Contains(t, out, "Source: Semantic Scholar")
}

func TestSearcherArXiv(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/arxiv", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("search_query"), "all:")
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2301.00001v1</id>
    <title>
      Quantum Error Correction
    </title>
    <summary>We study stabilizer codes.</summary>
    <published>2023-01-15T00:00:00Z</published>
    <author><name>John Preskill</name></author>
    <link href="http://arxiv.org/abs/2301.00001v1" rel="alternate" type="text/html"/>
    <link href="http://arxiv.org/pdf/2301.00001v1" rel="related" type="application/pdf" title="pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2302.00002v3</id>
    <title>Tensor Networks</title>
    <summary>Contraction strategies.</summary>
    <published>2023-02-01T00:00:00Z</published>
    <author><name>Roman Orus</name></author>
  </entry>
</feed>`))
	})

	s := testSearcher(t, mux)
	out, err := s.Search(context.Background(), SearchInput{
		Query:   "quantum",
		Sources: []string{"arxiv"},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Title: Quantum Error Correction")
	assert.Contains(t, out, "Authors: John Preskill")
	assert.Contains(t, out, "Year: 2023")
	assert.Contains(t, out, "PDF: http://arxiv.org/pdf/2301.00001v1")
	// The second entry has no pdf link; its URL is rewritten from /abs/.
	assert.Contains(t, out, "PDF: http://arxiv.org/pdf/2302.00002v3")
	assert.Contains(t, out, "Source: arXiv")
}

func TestSearcherCrossref(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/crossref", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ops@example.org", r.URL.Query().Get("mailto"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"items":[{
			"title":["Deep Learning Review"],
			"DOI":"10.1000/dl2020",
			"abstract":"Survey of network architectures.",
			"published":{"date-parts":[[2020,5,1]]},
			"author":[{"given":"Yann","family":"LeCun"},{"given":"","family":"Bengio"}],
			"link":[{"URL":"https://example.org/dl.pdf","content-type":"application/pdf"}]
		}]}}`))
	})

	s := testSearcher(t, mux)
	s.mail = "ops@example.org"

	out, err := s.Search(context.Background(), SearchInput{
		Query:   "deep learning",
		Sources: []string{"crossref"},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Title: Deep Learning Review")
	assert.Contains(t, out, "Authors: Yann LeCun, Bengio")
	assert.Contains(t, out, "Year: 2020")
	assert.Contains(t, out, "URL: https://doi.org/10.1000/dl2020")
	assert.Contains(t, out, "PDF: https://example.org/dl.pdf")
	assert.Contains(t, out, "Source: CrossRef")
}

func TestSearcherPubMed(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/pubmed/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pmc", r.URL.Query().Get("db"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"esearchresult":{"idlist":["1111","2222"]}}`))
	})
	mux.HandleFunc("/pubmed/esummary.fcgi", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1111,2222", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{
			"uids":["1111","2222"],
			"1111":{"title":"Vaccine Efficacy Study","pubdate":"2021 Mar","authors":[{"name":"Salk J"}],"elocationid":"10.1000/vax1"},
			"2222":{"title":"Placebo Effects","pubdate":"2019","authors":[]}
		}}`))
	})

	s := testSearcher(t, mux)
	out, err := s.Search(context.Background(), SearchInput{
		Query:   "vaccine",
		Sources: []string{"pubmed"},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Title: Vaccine Efficacy Study")
	assert.Contains(t, out, "Authors: Salk J")
	assert.Contains(t, out, "Year: 2021")
	assert.Contains(t, out, "DOI: 10.1000/vax1")
	assert.Contains(t, out, "URL: https://www.ncbi.nlm.nih.gov/pmc/articles/PMC1111/")
	assert.Contains(t, out, "Title: Placebo Effects")
	assert.Contains(t, out, "Source: PubMed Central")
}

func TestSearcherOpenAlex(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/openalex", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "graphene", r.URL.Query().Get("search"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{
			"title":"Graphene Synthesis",
			"doi":"https://doi.org/10.1000/graph1",
			"publication_year":2018,
			"open_access":{"is_oa":true,"oa_url":"https://example.org/graph.pdf"},
			"primary_location":{"landing_page_url":"https://example.org/graph","pdf_url":""},
			"authorships":[{"author":{"display_name":"Andre Geim"}}]
		}]}`))
	})

	s := testSearcher(t, mux)
	out, err := s.Search(context.Background(), SearchInput{
		Query:   "graphene",
		Sources: []string{"openalex"},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Title: Graphene Synthesis")
	assert.Contains(t, out, "Authors: Andre Geim")
	assert.Contains(t, out, "Year: 2018")
	// pdf_url is empty, so the open-access URL fills in.
	assert.Contains(t, out, "PDF: https://example.org/graph.pdf")
	assert.Contains(t, out, "Source: OpenAlex")
}

func TestSearchDeduplicatesAcrossSources(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ss", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"title":"Shared Result","externalIds":{"DOI":"https://doi.org/10.1000/Same"}},
			{"title":"Attention Is All You Need","externalIds":{}}
		]}`))
	})
	mux.HandleFunc("/crossref", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"items":[
			{"title":["Shared Result (publisher copy)"],"DOI":"10.1000/same"},
			{"title":["attention is  ALL you need"]}
		]}}`))
	})

	s := testSearcher(t, mux)
	out, err := s.Search(context.Background(), SearchInput{
		Query:   "dedupe",
		Sources: []string{"semantic_scholar", "crossref"},
	})
	require.NoError(t, err)

	// DOIs match after prefix and case normalization, titles after
	// whitespace folding, so four hits collapse to two.
	assert.Equal(t, 2, strings.Count(out, "--- Paper "))
	assert.Contains(t, out, "Title: Shared Result")
	assert.NotContains(t, out, "publisher copy")
}

func TestSearchPartialSourceFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ss", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	})
	mux.HandleFunc("/openalex", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"Survivor Paper","publication_year":2022}]}`))
	})

	s := testSearcher(t, mux)
	out, err := s.Search(context.Background(), SearchInput{
		Query:   "resilience",
		Sources: []string{"semantic_scholar", "openalex"},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "unavailable: semantic_scholar:")
	assert.Contains(t, out, "HTTP 500")
	assert.Contains(t, out, "Title: Survivor Paper")
}

func TestSearchAllSourcesFail(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})

	s := testSearcher(t, mux)
	_, err := s.Search(context.Background(), SearchInput{Query: "anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all sources failed")
}

func TestSearchInputValidation(t *testing.T) {
	t.Parallel()

	s := NewSearcher(SearcherConfig{Logger: testLogger()})

	t.Run("empty query", func(t *testing.T) {
		t.Parallel()
		_, err := s.Search(context.Background(), SearchInput{Query: "   "})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query is required")
	})

	t.Run("unknown sources only", func(t *testing.T) {
		t.Parallel()
		_, err := s.Search(context.Background(), SearchInput{
			Query:   "ok",
			Sources: []string{"bing", "google"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no known sources")
	})
}

func TestSelectSourcesFiltersByName(t *testing.T) {
	t.Parallel()

	s := NewSearcher(SearcherConfig{Logger: testLogger()})
	all := s.sources()

	selected, err := selectSources(all, []string{"ArXiv", " pubmed "})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "arxiv", selected[0].name)
	assert.Equal(t, "pubmed", selected[1].name)

	selected, err = selectSources(all, nil)
	require.NoError(t, err)
	assert.Len(t, selected, len(all))
}

func TestNormalizeDOI(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"10.1000/abc":                 "10.1000/abc",
		"https://doi.org/10.1000/ABC": "10.1000/abc",
		"doi:10.1000/abc":             "10.1000/abc",
		"  10.1000/abc  ":             "10.1000/abc",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeDOI(in), "input %q", in)
	}
}
