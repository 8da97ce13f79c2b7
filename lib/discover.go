package lib

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DiscoverHTMLFiles enumerates the HTML files beneath root, sorted by
// path. Files inside dot-directories or inside the assets output tree
// are excluded. selection optionally limits the result to explicit
// files, directories or doublestar glob patterns, all relative to root.
func DiscoverHTMLFiles(root string, selection []string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var all []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel != "." && excludedSegment(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(p), ".html") {
			return nil
		}
		if excludedSegment(rel) {
			return nil
		}
		all = append(all, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(all)

	if len(selection) == 0 {
		return all, nil
	}

	matched := make([]string, 0, len(all))
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			matched = append(matched, p)
		}
	}

	for _, raw := range selection {
		entry := filepath.ToSlash(filepath.Clean(raw))
		target := filepath.Join(root, filepath.FromSlash(entry))

		if info, err := os.Stat(target); err == nil {
			if info.IsDir() {
				prefix := target + string(filepath.Separator)
				for _, p := range all {
					if strings.HasPrefix(p, prefix) {
						add(p)
					}
				}
				continue
			}
			if strings.EqualFold(filepath.Ext(target), ".html") {
				add(target)
			}
			continue
		}

		if !doublestar.ValidatePattern(entry) {
			return nil, fmt.Errorf("invalid selection pattern: %s", raw)
		}
		for _, p := range all {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				continue
			}
			ok, err := doublestar.Match(entry, filepath.ToSlash(rel))
			if err != nil {
				return nil, err
			}
			if ok {
				add(p)
			}
		}
	}

	sort.Strings(matched)
	return matched, nil
}

// excludedSegment reports whether a root-relative path contains a
// hidden directory or the assets output folder.
func excludedSegment(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
		if strings.EqualFold(part, assetsSentinel) {
			return true
		}
	}
	return false
}
