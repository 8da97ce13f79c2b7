package lib

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Stats aggregates per-reference outcomes for a document or a whole run.
type Stats struct {
	Downloaded       int
	SkippedExisting  int
	SkippedDuplicate int
	Missing          int
	Failed           int
	Unsupported      int
}

func (s *Stats) add(o Outcome) {
	switch o {
	case OutcomeDownloaded:
		s.Downloaded++
	case OutcomeSkippedExisting:
		s.SkippedExisting++
	case OutcomeSkippedDuplicate:
		s.SkippedDuplicate++
	case OutcomeMissing:
		s.Missing++
	case OutcomeFailed:
		s.Failed++
	}
}

// Merge adds other's counts into s.
func (s *Stats) Merge(other Stats) {
	s.Downloaded += other.Downloaded
	s.SkippedExisting += other.SkippedExisting
	s.SkippedDuplicate += other.SkippedDuplicate
	s.Missing += other.Missing
	s.Failed += other.Failed
	s.Unsupported += other.Unsupported
}

// Skipped returns the combined count of skipped references.
func (s Stats) Skipped() int {
	return s.SkippedExisting + s.SkippedDuplicate
}

// Summary renders the run tally as a single reporting line.
func (s Stats) Summary() string {
	return fmt.Sprintf("downloaded: %d, skipped: %d, missing: %d, failed: %d, unsupported: %d",
		s.Downloaded, s.Skipped(), s.Missing, s.Failed, s.Unsupported)
}

// MirrorConfig carries the run-wide settings of a Mirrorer.
type MirrorConfig struct {
	// BaseURL serves the HTML files during batch runs; each file's
	// root-relative path is appended to it.
	BaseURL string
	// SiteRoot is the local directory backing the served site. Rewritten
	// references are rooted here; empty disables site-rooted paths and
	// HTML file inference.
	SiteRoot string
	// OutputDir is the root the mirrored assets are written beneath.
	OutputDir string
	// Overwrite re-downloads assets whose destination already exists.
	Overwrite bool
	// DryRun computes mappings without fetching assets or writing files.
	DryRun bool
	// Workers bounds concurrent asset resolutions; 0 uses the fetcher's
	// MaxWorkers.
	Workers int
	// Logf receives per-reference progress lines; nil discards them.
	Logf func(format string, args ...interface{})
	// OnDocument, when set, is invoked after each document of a batch
	// run with that document's tally. It may be called concurrently.
	OnDocument func(htmlFile string, st Stats, err error)
}

// Mirrorer sequences extraction, resolution and rewriting per document
// and aggregates outcome counts across the run.
type Mirrorer struct {
	fetcher    *Fetcher
	downloader *AssetDownloader
	ledger     *Ledger
	extractor  ReferenceExtractor
	rewriter   *Rewriter
	cfg        MirrorConfig
	sem        chan struct{}
}

// NewMirrorer creates a Mirrorer. A nil fetcher or extractor selects the
// defaults (browser-identity fetcher, structural img-tag extractor).
func NewMirrorer(fetcher *Fetcher, extractor ReferenceExtractor, cfg MirrorConfig) *Mirrorer {
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	if extractor == nil {
		extractor = NewDocumentExtractor()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = fetcher.MaxWorkers
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...interface{}) {}
	}
	return &Mirrorer{
		fetcher:    fetcher,
		downloader: NewAssetDownloader(fetcher),
		ledger:     NewLedger(),
		extractor:  extractor,
		rewriter:   NewRewriter(extractor, cfg.SiteRoot),
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.Workers),
	}
}

// Ledger exposes the run-wide dedup state, mainly for reporting.
func (m *Mirrorer) Ledger() *Ledger {
	return m.ledger
}

// FetchPage retrieves the rendered HTML of the given page URL.
func (m *Mirrorer) FetchPage(ctx context.Context, pageURL string) (string, error) {
	body, err := m.fetcher.FetchURL(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read page body: %w", err)
	}
	return string(data), nil
}

// assetTask is one reference occurrence scheduled for resolution.
type assetTask struct {
	resolved string
	url      *url.URL
	dest     string
}

// MirrorPage mirrors every image referenced by the page at pageURL and
// rewires htmlFile to point at the local copies. When htmlFile is empty
// it is inferred from the URL path beneath the configured site root;
// when no backing file can be determined the rewrite step is skipped.
func (m *Mirrorer) MirrorPage(ctx context.Context, pageURL, htmlFile string) (Stats, error) {
	var stats Stats

	base, err := url.Parse(pageURL)
	if err != nil {
		return stats, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	html, err := m.FetchPage(ctx, pageURL)
	if err != nil {
		return stats, err
	}

	refs := m.extractor.Extract(html)
	if len(refs) == 0 {
		m.cfg.Logf("[skip] %s (no image references)", pageURL)
		return stats, nil
	}

	tasks := make([]assetTask, 0, len(refs))
	for _, raw := range refs {
		u, err := base.Parse(strings.TrimSpace(raw))
		if err != nil {
			m.cfg.Logf("[warn] unresolvable reference %q, skipping", raw)
			stats.Unsupported++
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			m.cfg.Logf("[warn] unsupported scheme for %s, skipping", u)
			stats.Unsupported++
			continue
		}
		u.Fragment = ""
		remote := u.Path
		if remote == "" {
			remote = u.Host
		}
		rel := LocalAssetPath(remote, filepath.Base(m.cfg.OutputDir))
		tasks = append(tasks, assetTask{
			resolved: u.String(),
			url:      u,
			dest:     filepath.Join(m.cfg.OutputDir, filepath.FromSlash(rel)),
		})
	}

	assets := make(map[string]string, len(tasks))

	if m.cfg.DryRun {
		for _, t := range tasks {
			if _, ok := assets[t.resolved]; !ok {
				m.cfg.Logf("[dry-run] %s -> %s", t.resolved, t.dest)
				assets[t.resolved] = t.dest
			}
		}
		return stats, nil
	}

	var mu sync.Mutex
	var eg errgroup.Group
	for _, t := range tasks {
		t := t
		eg.Go(func() error {
			m.sem <- struct{}{}
			defer func() { <-m.sem }()

			path, outcome, err := m.ledger.Resolve(t.resolved, func() (string, Outcome, error) {
				return m.downloader.Download(ctx, t.url, t.dest, m.cfg.Overwrite)
			})

			mu.Lock()
			defer mu.Unlock()
			stats.add(outcome)
			switch outcome {
			case OutcomeDownloaded:
				m.cfg.Logf("[ok]   %s -> %s", t.resolved, path)
				assets[t.resolved] = path
			case OutcomeSkippedExisting, OutcomeSkippedDuplicate:
				m.cfg.Logf("[skip] %s (%s)", t.resolved, outcome)
				assets[t.resolved] = path
			case OutcomeMissing:
				m.cfg.Logf("[missing] %s", t.resolved)
			case OutcomeFailed:
				m.cfg.Logf("[fail] %s: %v", t.resolved, err)
			}
			return nil
		})
	}
	eg.Wait()

	if htmlFile == "" {
		htmlFile = m.inferHTMLFile(base)
		if htmlFile != "" {
			m.cfg.Logf("[wire] inferred HTML file: %s", htmlFile)
		}
	}
	if htmlFile == "" {
		m.cfg.Logf("[wire] no local HTML file for %s, skipping rewrite", pageURL)
		return stats, nil
	}
	if len(assets) == 0 {
		return stats, nil
	}

	changed, err := m.rewriter.RewriteFile(htmlFile, base, assets)
	if err != nil {
		return stats, err
	}
	if changed {
		m.cfg.Logf("[wire] updated image references in %s", htmlFile)
	} else {
		m.cfg.Logf("[wire] no image references updated in %s", htmlFile)
	}
	return stats, nil
}

// MirrorTree mirrors every HTML file beneath htmlRoot. selection
// optionally limits processing to explicit files, directories or glob
// patterns relative to the root.
func (m *Mirrorer) MirrorTree(ctx context.Context, htmlRoot string, selection []string) (Stats, error) {
	info, err := os.Stat(htmlRoot)
	if err != nil || !info.IsDir() {
		return Stats{}, fmt.Errorf("HTML root not found: %s", htmlRoot)
	}

	files, err := DiscoverHTMLFiles(htmlRoot, selection)
	if err != nil {
		return Stats{}, err
	}
	return m.MirrorFiles(ctx, htmlRoot, files)
}

// MirrorFiles mirrors an already-discovered list of HTML files beneath
// htmlRoot. Documents are processed concurrently; the shared ledger
// keeps each unique URL to a single fetch.
func (m *Mirrorer) MirrorFiles(ctx context.Context, htmlRoot string, files []string) (Stats, error) {
	var total Stats

	if len(files) == 0 {
		m.cfg.Logf("[info] no HTML files found to process")
		return total, nil
	}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(m.cfg.Workers)
	for _, htmlFile := range files {
		htmlFile := htmlFile
		eg.Go(func() error {
			rel, err := filepath.Rel(htmlRoot, htmlFile)
			if err != nil {
				rel = htmlFile
			}
			pageURL := joinPageURL(m.cfg.BaseURL, rel)
			st, err := m.MirrorPage(ctx, pageURL, htmlFile)

			mu.Lock()
			total.Merge(st)
			mu.Unlock()

			if m.cfg.OnDocument != nil {
				m.cfg.OnDocument(htmlFile, st, err)
			}
			if err != nil {
				m.cfg.Logf("[error] %s: %v", rel, err)
			}
			return nil
		})
	}
	eg.Wait()

	return total, nil
}

// inferHTMLFile maps the page URL's path to a file beneath the site root.
func (m *Mirrorer) inferHTMLFile(pageURL *url.URL) string {
	if m.cfg.SiteRoot == "" {
		return ""
	}
	p := strings.TrimPrefix(pageURL.Path, "/")
	if p == "" {
		return ""
	}
	candidate := filepath.Join(m.cfg.SiteRoot, filepath.FromSlash(p))
	if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
		return candidate
	}
	return ""
}

// joinPageURL appends a root-relative file path to the serving base URL.
func joinPageURL(baseURL, rel string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + filepath.ToSlash(rel)
}
