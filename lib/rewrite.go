package lib

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Rewriter rewires a document's references to point at mirrored local
// copies. Replacement paths are web-rooted (leading slash, relative to
// the site root) when the asset sits under the site root, and relative
// to the document's own directory otherwise.
type Rewriter struct {
	extractor ReferenceExtractor
	siteRoot  string
}

// NewRewriter creates a Rewriter using the given extractor. siteRoot may
// be empty, in which case every replacement is document-relative.
func NewRewriter(extractor ReferenceExtractor, siteRoot string) *Rewriter {
	if extractor == nil {
		extractor = NewDocumentExtractor()
	}
	return &Rewriter{extractor: extractor, siteRoot: siteRoot}
}

// RewriteFile rewrites htmlFile in place using assets, a mapping from
// resolved URL to the local copy's absolute path. References are
// re-extracted and resolved against pageURL exactly as during
// mirroring. The file is written back only when at least one reference
// changed; re-running over an already-rewritten document reports false
// and leaves the bytes untouched.
func (rw *Rewriter) RewriteFile(htmlFile string, pageURL *url.URL, assets map[string]string) (bool, error) {
	data, err := os.ReadFile(htmlFile)
	if err != nil {
		return false, fmt.Errorf("failed to read HTML file: %w", err)
	}

	updated, changed := rw.Rewrite(string(data), pageURL, htmlFile, assets)
	if !changed {
		return false, nil
	}

	if err := os.WriteFile(htmlFile, []byte(updated), 0644); err != nil {
		return false, fmt.Errorf("failed to write HTML file: %w", err)
	}
	return true, nil
}

// Rewrite computes the rewritten document text without touching disk.
func (rw *Rewriter) Rewrite(doc string, pageURL *url.URL, htmlFile string, assets map[string]string) (string, bool) {
	replacements := make(map[string]string)
	for _, raw := range rw.extractor.Extract(doc) {
		resolved := raw
		if pageURL != nil {
			u, err := pageURL.Parse(strings.TrimSpace(raw))
			if err != nil {
				continue
			}
			// The asset map is keyed without fragments, which never
			// reach the server.
			u.Fragment = ""
			resolved = u.String()
		}
		localPath, ok := assets[resolved]
		if !ok {
			continue
		}
		repl := rw.webPath(localPath, htmlFile)
		if repl != "" && repl != raw {
			replacements[raw] = repl
		}
	}

	if len(replacements) == 0 {
		return doc, false
	}
	return rw.extractor.Replace(doc, replacements)
}

// webPath maps a local asset path to the value written into the
// document: site-rooted when possible, otherwise relative to the
// document's directory.
func (rw *Rewriter) webPath(localPath, htmlFile string) string {
	if rw.siteRoot != "" {
		if rel, err := filepath.Rel(rw.siteRoot, localPath); err == nil && !strings.HasPrefix(rel, "..") {
			return "/" + filepath.ToSlash(rel)
		}
	}
	if htmlFile == "" {
		return filepath.ToSlash(localPath)
	}
	rel, err := filepath.Rel(filepath.Dir(htmlFile), localPath)
	if err != nil {
		return filepath.ToSlash(localPath)
	}
	return filepath.ToSlash(rel)
}
