package lib

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// TagIssue is one offending <img> tag found by an audit scan.
type TagIssue struct {
	// File is the HTML file path, relative to the scanned root.
	File string
	// Line is the 1-based line the tag starts on.
	Line int
	// Src is the offending src attribute value.
	Src string
	// Tag is the full tag text.
	Tag string
}

// IssuePair is one (document, offending reference) entry parsed from a
// saved issue log.
type IssuePair struct {
	File string
	Src  string
}

var (
	imgTagRe  = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	srcAttrRe = regexp.MustCompile(`(?i)src\s*=\s*("([^"]*)"|'([^']*)'|([^\s>]+))`)
	issueRe   = regexp.MustCompile(`src=['"]([^'"]+)['"]`)
)

// FindExtensionlessImages scans every HTML file beneath root for <img>
// tags whose src has no file extension. The scan is textual on purpose:
// the audits must surface malformed markup verbatim.
func FindExtensionlessImages(root string) ([]TagIssue, error) {
	return scanImageTags(root, func(src string) bool {
		return !hasExtension(src)
	})
}

// FindWebpImages scans every HTML file beneath root for <img> tags
// whose src resolves to a .webp file.
func FindWebpImages(root string) ([]TagIssue, error) {
	return scanImageTags(root, isWebp)
}

// scanImageTags walks the HTML tree and reports tags whose src matches
// the predicate.
func scanImageTags(root string, match func(src string) bool) ([]TagIssue, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	files, err := DiscoverHTMLFiles(root, nil)
	if err != nil {
		return nil, err
	}

	var issues []TagIssue
	for _, htmlFile := range files {
		data, err := os.ReadFile(htmlFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", htmlFile, err)
		}
		content := string(data)
		rel, relErr := filepath.Rel(root, htmlFile)
		if relErr != nil {
			rel = htmlFile
		}

		for _, loc := range imgTagRe.FindAllStringIndex(content, -1) {
			tag := content[loc[0]:loc[1]]
			src := extractSrcValue(tag)
			if src == "" || !match(src) {
				continue
			}
			issues = append(issues, TagIssue{
				File: filepath.ToSlash(rel),
				Line: strings.Count(content[:loc[0]], "\n") + 1,
				Src:  src,
				Tag:  strings.TrimSpace(tag),
			})
		}
	}
	return issues, nil
}

// extractSrcValue pulls the src attribute value out of a tag's text,
// whichever quoting style it uses.
func extractSrcValue(tag string) string {
	m := srcAttrRe.FindStringSubmatch(tag)
	if m == nil {
		return ""
	}
	for _, group := range m[2:] {
		if group != "" {
			return group
		}
	}
	return ""
}

// hasExtension reports whether the reference's final path segment
// carries a file extension. Data URIs and empty values pass, matching
// the housekeeping scripts this audit feeds.
func hasExtension(src string) bool {
	if src == "" || strings.HasPrefix(src, "data:") {
		return true
	}
	trimmed := src
	if i := strings.Index(trimmed, "?"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if i := strings.Index(trimmed, "#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	base := trimmed
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	return strings.Contains(base, ".")
}

// isWebp reports whether the reference points at a .webp file.
func isWebp(src string) bool {
	if src == "" {
		return false
	}
	trimmed := src
	if i := strings.Index(trimmed, "?"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if i := strings.Index(trimmed, "#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.HasSuffix(strings.ToLower(trimmed), ".webp")
}

// ParseIssueLog reads a saved issue log and returns its (document,
// reference) pairs. The format is the audit output itself: unindented
// lines name an HTML file, indented lines below it carry src='...'
// details for that file.
func ParseIssueLog(r io.Reader) ([]IssuePair, error) {
	var pairs []IssuePair
	var currentFile string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !unicode.IsSpace(rune(line[0])) {
			currentFile = strings.TrimSpace(line)
			continue
		}
		if currentFile == "" {
			continue
		}
		if m := issueRe.FindStringSubmatch(line); m != nil {
			pairs = append(pairs, IssuePair{File: currentFile, Src: m[1]})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}
