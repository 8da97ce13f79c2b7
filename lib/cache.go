package lib

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// DefaultAssetHost is the remote host whose references the cache
// housekeeping run mirrors by default.
const DefaultAssetHost = "assets.rmb.co.za"

// CacheConfig carries the settings of a whole-tree caching run.
type CacheConfig struct {
	// Root is the project directory containing the HTML tree and the
	// assets folder. The run aborts when it does not exist.
	Root string
	// Host is the remote asset host to mirror; DefaultAssetHost when empty.
	Host string
	// DryRun reports what would happen without downloading or rewriting.
	DryRun bool
	// Force re-downloads assets even when a cached copy exists.
	Force bool
	// Logf receives per-file progress lines; nil discards them.
	Logf func(format string, args ...interface{})
}

// CacheResult summarizes a caching run.
type CacheResult struct {
	// Files is the number of HTML files referencing the asset host.
	Files int
	// Assets is the number of unique host URLs handled across all files.
	Assets int
	// Rewritten is the number of HTML files written back.
	Rewritten int
	// Stats tallies the per-URL outcomes.
	Stats Stats
}

// HostCacher finds references to a remote asset host inside every HTML
// file of a tree, mirrors each asset beneath the local assets folder,
// and rewrites the references to the local copies.
type HostCacher struct {
	downloader *AssetDownloader
	ledger     *Ledger
	extractor  *PatternExtractor
	cfg        CacheConfig
}

// NewHostCacher creates a HostCacher. A nil fetcher selects the default.
func NewHostCacher(fetcher *Fetcher, cfg CacheConfig) *HostCacher {
	if cfg.Host == "" {
		cfg.Host = DefaultAssetHost
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...interface{}) {}
	}
	return &HostCacher{
		downloader: NewAssetDownloader(fetcher),
		ledger:     NewLedger(),
		extractor:  NewPatternExtractor(cfg.Host),
		cfg:        cfg,
	}
}

// Run processes every HTML file beneath the configured root.
func (c *HostCacher) Run(ctx context.Context) (CacheResult, error) {
	var result CacheResult

	root, err := filepath.Abs(c.cfg.Root)
	if err != nil {
		return result, err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return result, fmt.Errorf("root path not found: %s", root)
	}

	files, err := DiscoverHTMLFiles(root, nil)
	if err != nil {
		return result, err
	}

	for _, htmlFile := range files {
		changed, count, err := c.cacheFile(ctx, root, htmlFile, &result.Stats)
		if err != nil {
			return result, err
		}
		if count == 0 {
			continue
		}
		result.Files++
		result.Assets += count
		rel, relErr := filepath.Rel(root, htmlFile)
		if relErr != nil {
			rel = htmlFile
		}
		if changed {
			result.Rewritten++
			c.cfg.Logf("updated %s (%d assets)", rel, count)
		} else if c.cfg.DryRun {
			c.cfg.Logf("would update %s (%d assets)", rel, count)
		}
	}

	return result, nil
}

// cacheFile mirrors the host assets referenced by one HTML file and
// rewrites it. Returns whether the file changed and how many unique
// host URLs it references.
func (c *HostCacher) cacheFile(ctx context.Context, root, htmlFile string, stats *Stats) (bool, int, error) {
	data, err := os.ReadFile(htmlFile)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read %s: %w", htmlFile, err)
	}
	text := string(data)

	matches := c.extractor.Extract(text)
	if len(matches) == 0 {
		return false, 0, nil
	}

	outputDir := filepath.Join(root, assetsSentinel)
	replacements := make(map[string]string, len(matches))
	for _, rawURL := range matches {
		u, err := url.Parse(rawURL)
		if err != nil || u.Host != c.cfg.Host || u.Path == "" || u.Path == "/" {
			continue
		}

		rel := LocalAssetPath(u.Path, assetsSentinel)
		dest := filepath.Join(outputDir, filepath.FromSlash(rel))

		if !c.cfg.DryRun {
			final, outcome, dlErr := c.ledger.Resolve(rawURL, func() (string, Outcome, error) {
				return c.downloader.Download(ctx, u, dest, c.cfg.Force)
			})
			stats.add(outcome)
			if outcome == OutcomeMissing || outcome == OutcomeFailed {
				c.cfg.Logf("[fail] %s: %v", rawURL, dlErr)
				continue
			}
			// The downloader may have appended an inferred extension.
			if finalRel, relErr := filepath.Rel(outputDir, final); relErr == nil {
				rel = filepath.ToSlash(finalRel)
			}
		}

		replacements[rawURL] = "/" + assetsSentinel + "/" + rel
	}

	if len(replacements) == 0 {
		return false, 0, nil
	}

	newText, changed := c.extractor.Replace(text, replacements)
	if c.cfg.DryRun || !changed {
		return false, len(replacements), nil
	}

	if err := os.WriteFile(htmlFile, []byte(newText), 0644); err != nil {
		return false, 0, fmt.Errorf("failed to rewrite %s: %w", htmlFile, err)
	}
	return true, len(replacements), nil
}
