package tools

import (
	"net/url"
	"regexp"
	"strings"
)

// exportLinkRe matches the libris://export/<name> links the exporter
// embeds in tool results. The name alphabet mirrors SanitizeExportName.
var exportLinkRe = regexp.MustCompile(`libris://export/([A-Za-z0-9][A-Za-z0-9._-]*)`)

// RewriteExportLinks returns a post-processor that replaces
// libris://export/<name> links with download URLs under baseURL, for
// example http://localhost:8080. The model never learns the server's
// address; it emits the internal scheme and the final response carries
// the real link. An empty baseURL returns the identity function.
func RewriteExportLinks(baseURL string) func(string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return func(s string) string { return s }
	}
	return func(s string) string {
		return exportLinkRe.ReplaceAllStringFunc(s, func(match string) string {
			name := strings.TrimPrefix(match, "libris://export/")
			return base + "/api/downloads/" + url.PathEscape(name)
		})
	}
}
