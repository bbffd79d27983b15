package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// ErrUnsupportedType indicates no extractor handles the upload.
var ErrUnsupportedType = errors.New("unsupported file type")

// Extractor converts one upload format to plain text.
type Extractor interface {
	// Matches reports whether this extractor handles the file. The
	// first bytes are available for magic-number sniffing.
	Matches(name, mediaType string, data []byte) bool

	// Extract converts raw file bytes to text.
	Extract(data []byte) (string, error)
}

// extractors in dispatch order; the first match wins.
var extractors = []Extractor{
	pdfExtractor{},
	htmlExtractor{},
	markdownExtractor{},
	textExtractor{},
}

// ExtractText dispatches to the first matching extractor. Unknown types
// that are valid UTF-8 are treated as plain text.
func ExtractText(name, mediaType string, data []byte) (string, error) {
	for _, ex := range extractors {
		if ex.Matches(name, mediaType, data) {
			return ex.Extract(data)
		}
	}
	if utf8.Valid(data) {
		return normalizeText(data), nil
	}
	return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, name, mediaType)
}

func extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// normalizeText strips a UTF-8 BOM, normalizes line endings and
// replaces invalid byte sequences.
func normalizeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("﻿"))
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.ToValidUTF8(s, "�")
}

type textExtractor struct{}

func (textExtractor) Matches(name, mediaType string, _ []byte) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/x-yaml":
		return true
	}
	switch extension(name) {
	case ".txt", ".log", ".csv", ".json", ".xml", ".yaml", ".yml":
		return true
	}
	return false
}

func (textExtractor) Extract(data []byte) (string, error) {
	return normalizeText(data), nil
}

// markdownExtractor passes markdown through as-is; the model reads it
// natively.
type markdownExtractor struct{}

func (markdownExtractor) Matches(name, mediaType string, _ []byte) bool {
	if mediaType == "text/markdown" {
		return true
	}
	ext := extension(name)
	return ext == ".md" || ext == ".markdown"
}

func (markdownExtractor) Extract(data []byte) (string, error) {
	return normalizeText(data), nil
}

type htmlExtractor struct{}

func (htmlExtractor) Matches(name, mediaType string, data []byte) bool {
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		return true
	}
	switch extension(name) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(data))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// blockElements get a newline after their content so the extracted
// text keeps some document structure.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"header": true, "footer": true, "blockquote": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "ul": true, "ol": true, "table": true, "tr": true,
}

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

func (htmlExtractor) Extract(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	walkHTML(doc, &b)

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text := strings.TrimSpace(blankLinesRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
	return text, nil
}

func walkHTML(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template", "iframe":
			return
		case "br":
			b.WriteByte('\n')
			return
		}
	case html.TextNode:
		if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
			b.WriteString(text)
			b.WriteByte(' ')
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, b)
	}

	if n.Type == html.ElementNode && blockElements[n.Data] {
		b.WriteByte('\n')
	}
}
