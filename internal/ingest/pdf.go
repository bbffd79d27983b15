package ingest

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"
	"regexp"
	"strings"
)

// pdfExtractor pulls text out of unencrypted PDFs by scanning content
// streams for BT/ET text objects and their Tj/TJ show operators.
// CID-keyed fonts defeat the scan; the printable-byte fallback still
// recovers fragments for those.
type pdfExtractor struct{}

func (pdfExtractor) Matches(name, mediaType string, data []byte) bool {
	return mediaType == "application/pdf" ||
		extension(name) == ".pdf" ||
		bytes.HasPrefix(data, []byte("%PDF"))
}

func (pdfExtractor) Extract(data []byte) (string, error) {
	text := ExtractPDFText(data)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no extractable text")
	}
	return text, nil
}

var (
	pdfTextObjectRe = regexp.MustCompile(`(?s)BT\s+(.*?)\s+ET`)
	pdfShowRe       = regexp.MustCompile(`\(([^)\\]*(?:\\.[^)\\]*)*)\)\s*Tj`)
	pdfShowArrayRe  = regexp.MustCompile(`\[([^\]]+)\]\s*TJ`)
	pdfStringRe     = regexp.MustCompile(`\(([^)\\]*(?:\\.[^)\\]*)*)\)`)
	pdfStreamRe     = regexp.MustCompile(`(?s)stream\r?\n(.*?)endstream`)
)

// ExtractPDFText performs best-effort text extraction from PDF bytes.
// FlateDecode content streams are inflated first so the scan also sees
// compressed pages; when the structured pass yields too little, runs of
// printable bytes are returned instead. Returns "" when nothing textual
// is found.
func ExtractPDFText(data []byte) string {
	var src bytes.Buffer
	src.Write(data)
	src.Write(inflatePDFStreams(data))

	var parts []string
	for _, bt := range pdfTextObjectRe.FindAllStringSubmatch(src.String(), -1) {
		block := bt[1]

		for _, m := range pdfShowRe.FindAllStringSubmatch(block, -1) {
			if text := unescapePDFString(m[1]); mostlyPrintable(text) {
				parts = append(parts, text)
			}
		}
		for _, m := range pdfShowArrayRe.FindAllStringSubmatch(block, -1) {
			var sb strings.Builder
			for _, str := range pdfStringRe.FindAllStringSubmatch(m[1], -1) {
				sb.WriteString(unescapePDFString(str[1]))
			}
			if text := sb.String(); mostlyPrintable(text) {
				parts = append(parts, text)
			}
		}
	}

	result := strings.Join(parts, " ")
	if len(strings.TrimSpace(result)) < 200 {
		return printableRuns(data)
	}
	return result
}

// inflatePDFStreams decompresses every stream object that parses as
// zlib data. Streams using other filters are skipped.
func inflatePDFStreams(data []byte) []byte {
	var out bytes.Buffer
	for _, m := range pdfStreamRe.FindAllSubmatch(data, -1) {
		zr, err := zlib.NewReader(bytes.NewReader(m[1]))
		if err != nil {
			continue
		}
		// Bound each stream so a corrupt length cannot balloon memory.
		if _, err := io.Copy(&out, io.LimitReader(zr, 8<<20)); err != nil {
			zr.Close()
			continue
		}
		zr.Close()
		out.WriteByte('\n')
	}
	return out.Bytes()
}

func unescapePDFString(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\r`, "\r")
	s = strings.ReplaceAll(s, `\t`, "\t")
	s = strings.ReplaceAll(s, `\\`, `\`)
	s = strings.ReplaceAll(s, `\(`, `(`)
	s = strings.ReplaceAll(s, `\)`, `)`)
	return s
}

// mostlyPrintable filters out show strings that are CID glyph indexes
// rather than readable text.
func mostlyPrintable(s string) bool {
	if len(s) == 0 {
		return false
	}
	printable := 0
	for _, c := range s {
		if c >= 32 && c < 127 {
			printable++
		}
	}
	return printable > len(s)/2
}

// printableRuns extracts runs of printable bytes, one run per line,
// with long blank stretches collapsed.
func printableRuns(data []byte) string {
	var sb strings.Builder
	run := 0
	for _, b := range data {
		if (b >= 32 && b < 127) || b == '\n' || b == '\r' || b == '\t' {
			sb.WriteByte(b)
			run++
		} else {
			if run > 0 {
				sb.WriteByte('\n')
			}
			run = 0
		}
	}
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(sb.String(), "\n\n"))
}
