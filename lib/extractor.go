package lib

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ReferenceExtractor finds image references in a document and applies
// replacements back to it. Implementations must be pure: Extract never
// mutates the document, and Replace returns a new text plus a flag
// reporting whether anything actually changed.
type ReferenceExtractor interface {
	// Extract returns the raw reference strings found in the document,
	// in order of appearance.
	Extract(doc string) []string

	// Replace substitutes each referenced key with its mapped value and
	// reports whether the returned text differs from the input.
	Replace(doc string, replacements map[string]string) (string, bool)
}

// DocumentExtractor pulls references from <img> tags using an HTML
// parser, tolerating malformed markup. Replacement is attribute-targeted
// so that untouched markup stays byte-identical.
type DocumentExtractor struct{}

// NewDocumentExtractor creates a structural reference extractor.
func NewDocumentExtractor() *DocumentExtractor {
	return &DocumentExtractor{}
}

// Extract returns the src attribute of every <img> tag carrying one.
func (e *DocumentExtractor) Extract(doc string) []string {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	var refs []string
	parsed.Find("img").Each(func(i int, s *goquery.Selection) {
		src, exists := s.Attr("src")
		if !exists {
			return
		}
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		refs = append(refs, src)
	})
	return refs
}

// Replace rewrites src attributes whose value matches a replacement key.
// Both quoting styles are handled. Only values that differ from their
// replacement are touched, which keeps the operation idempotent.
func (e *DocumentExtractor) Replace(doc string, replacements map[string]string) (string, bool) {
	updated := doc
	for raw, repl := range replacements {
		if raw == repl {
			continue
		}
		// The parser decodes entities in attribute values, so the
		// document may carry the reference with & escaped as &amp;.
		forms := []string{raw}
		if escaped := strings.ReplaceAll(raw, "&", "&amp;"); escaped != raw {
			forms = append(forms, escaped)
		}
		for _, form := range forms {
			quoted := regexp.QuoteMeta(form)
			for _, q := range []string{`"`, `'`} {
				pattern := regexp.MustCompile(`(src\s*=\s*)` + q + quoted + q)
				updated = pattern.ReplaceAllString(updated, `${1}`+q+repl+q)
			}
		}
	}
	return updated, updated != doc
}

// PatternExtractor matches absolute URLs on a known asset host directly
// in the raw text, independent of markup well-formedness. Matches are
// bounded by whitespace, quotes and brackets; false positives inside
// comments are an accepted limitation.
type PatternExtractor struct {
	host string
	re   *regexp.Regexp
}

// NewPatternExtractor creates a pattern-based extractor for the given host.
func NewPatternExtractor(host string) *PatternExtractor {
	return &PatternExtractor{
		host: host,
		re:   regexp.MustCompile(`https?://` + regexp.QuoteMeta(host) + `/[^\s"'()<>]+`),
	}
}

// Host returns the asset host this extractor matches.
func (e *PatternExtractor) Host() string {
	return e.host
}

// Extract returns every unique host URL found in the document, in order
// of first appearance.
func (e *PatternExtractor) Extract(doc string) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, match := range e.re.FindAllString(doc, -1) {
		if !seen[match] {
			seen[match] = true
			refs = append(refs, match)
		}
	}
	return refs
}

// Replace substitutes each matched URL wherever it occurs in the text.
func (e *PatternExtractor) Replace(doc string, replacements map[string]string) (string, bool) {
	updated := doc
	for raw, repl := range replacements {
		if raw == repl {
			continue
		}
		updated = strings.ReplaceAll(updated, raw, repl)
	}
	return updated, updated != doc
}
