package lib

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSiteServer serves HTML files from root and image bytes for
// anything else, counting image requests per path.
func newSiteServer(t *testing.T, root string, images map[string]string, counts *requestCounter) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType, ok := images[r.URL.Path]; ok {
			counts.inc(r.URL.Path)
			w.Header().Set("Content-Type", contentType)
			w.Write([]byte("bytes-of-" + r.URL.Path))
			return
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(r.URL.Path, "/"))))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write(data)
	}))
}

// requestCounter tallies image requests per path.
type requestCounter struct {
	mu sync.Mutex
	m  map[string]int
}

func newCounts() *requestCounter { return &requestCounter{m: make(map[string]int)} }

func (s *requestCounter) inc(key string) {
	s.mu.Lock()
	s.m[key]++
	s.mu.Unlock()
}

func (s *requestCounter) get(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key]
}

func TestMirrorPage(t *testing.T) {
	ctx := context.Background()

	t.Run("SiteRootedMirrorIsIdempotent", func(t *testing.T) {
		root := t.TempDir()
		htmlFile := writeTempHTML(t, root, "page.html", `<html><body><img src="/images/logo.png"></body></html>`)
		counts := newCounts()
		server := newSiteServer(t, root, map[string]string{"/images/logo.png": "image/png"}, counts)
		defer server.Close()

		m := NewMirrorer(testFetcher(), nil, MirrorConfig{
			SiteRoot:  root,
			OutputDir: root,
		})

		stats, err := m.MirrorPage(ctx, server.URL+"/page.html", htmlFile)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Downloaded)
		assert.Equal(t, 0, stats.Failed)

		// The local mirror reproduces the remote structure beneath the
		// output root.
		assert.FileExists(t, filepath.Join(root, "images", "logo.png"))

		// The reference was already site-rooted at the same path, so the
		// document is untouched.
		data, err := os.ReadFile(htmlFile)
		require.NoError(t, err)
		assert.Equal(t, `<html><body><img src="/images/logo.png"></body></html>`, string(data))
	})

	t.Run("ExtensionlessAssetSecondRunSkipsExisting", func(t *testing.T) {
		root := t.TempDir()
		outputDir := filepath.Join(root, "assets")
		counts := newCounts()
		server := newSiteServer(t, root, map[string]string{"/assets/sub/img/pic": "image/webp"}, counts)
		defer server.Close()

		writeTempHTML(t, root, "page.html",
			`<img src="`+server.URL+`/assets/sub/img/pic">`)

		cfg := MirrorConfig{SiteRoot: root, OutputDir: outputDir}

		m := NewMirrorer(testFetcher(), nil, cfg)
		stats, err := m.MirrorPage(ctx, server.URL+"/page.html", filepath.Join(root, "page.html"))
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Downloaded)

		mirrored := filepath.Join(outputDir, "sub", "img", "pic.webp")
		require.FileExists(t, mirrored)
		first, err := os.ReadFile(mirrored)
		require.NoError(t, err)

		// Rewritten to the site-rooted local copy.
		data, err := os.ReadFile(filepath.Join(root, "page.html"))
		require.NoError(t, err)
		assert.Equal(t, `<img src="/assets/sub/img/pic.webp">`, string(data))

		// A fresh run (new ledger) finds the file on disk and leaves it alone.
		writeTempHTML(t, root, "page.html",
			`<img src="`+server.URL+`/assets/sub/img/pic">`)
		m = NewMirrorer(testFetcher(), nil, cfg)
		stats, err = m.MirrorPage(ctx, server.URL+"/page.html", filepath.Join(root, "page.html"))
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Downloaded)
		assert.Equal(t, 1, stats.SkippedExisting)

		second, err := os.ReadFile(mirrored)
		require.NoError(t, err)
		assert.Equal(t, first, second, "existing asset must stay byte-identical")
	})

	t.Run("FragmentReferenceIsRewritten", func(t *testing.T) {
		root := t.TempDir()
		htmlFile := writeTempHTML(t, root, "page.html", `<img src="/images/logo.png#frag">`)
		counts := newCounts()
		server := newSiteServer(t, root, map[string]string{"/images/logo.png": "image/png"}, counts)
		defer server.Close()

		m := NewMirrorer(testFetcher(), nil, MirrorConfig{
			SiteRoot:  root,
			OutputDir: filepath.Join(root, "assets"),
		})

		stats, err := m.MirrorPage(ctx, server.URL+"/page.html", htmlFile)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Downloaded)
		assert.FileExists(t, filepath.Join(root, "assets", "images", "logo.png"))

		data, err := os.ReadFile(htmlFile)
		require.NoError(t, err)
		assert.Equal(t, `<img src="/assets/images/logo.png">`, string(data))
	})

	t.Run("MissingAssetLeavesReferenceUnrewritten", func(t *testing.T) {
		root := t.TempDir()
		htmlFile := writeTempHTML(t, root, "page.html",
			`<img src="/gone/missing.png"><img src="/images/ok.png">`)
		counts := newCounts()
		server := newSiteServer(t, root, map[string]string{"/images/ok.png": "image/png"}, counts)
		defer server.Close()

		m := NewMirrorer(testFetcher(), nil, MirrorConfig{
			SiteRoot:  root,
			OutputDir: filepath.Join(root, "assets"),
		})

		stats, err := m.MirrorPage(ctx, server.URL+"/page.html", htmlFile)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Downloaded)
		assert.Equal(t, 1, stats.Missing)

		data, err := os.ReadFile(htmlFile)
		require.NoError(t, err)
		assert.Equal(t, `<img src="/gone/missing.png"><img src="/assets/images/ok.png">`, string(data))
	})

	t.Run("UnsupportedSchemeIsSkipped", func(t *testing.T) {
		root := t.TempDir()
		htmlFile := writeTempHTML(t, root, "page.html",
			`<img src="data:image/png;base64,AAAA"><img src="/images/ok.png">`)
		counts := newCounts()
		server := newSiteServer(t, root, map[string]string{"/images/ok.png": "image/png"}, counts)
		defer server.Close()

		m := NewMirrorer(testFetcher(), nil, MirrorConfig{
			SiteRoot:  root,
			OutputDir: filepath.Join(root, "assets"),
		})

		stats, err := m.MirrorPage(ctx, server.URL+"/page.html", htmlFile)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Unsupported)
		assert.Equal(t, 1, stats.Downloaded)

		data, err := os.ReadFile(htmlFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `src="data:image/png;base64,AAAA"`)
	})

	t.Run("InfersHTMLFileFromURLPath", func(t *testing.T) {
		root := t.TempDir()
		writeTempHTML(t, root, "sub/page.html", `<img src="/images/logo.png">`)
		counts := newCounts()
		server := newSiteServer(t, root, map[string]string{"/images/logo.png": "image/png"}, counts)
		defer server.Close()

		m := NewMirrorer(testFetcher(), nil, MirrorConfig{
			SiteRoot:  root,
			OutputDir: filepath.Join(root, "assets"),
		})

		_, err := m.MirrorPage(ctx, server.URL+"/sub/page.html", "")
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(root, "sub", "page.html"))
		require.NoError(t, err)
		assert.Equal(t, `<img src="/assets/images/logo.png">`, string(data))
	})

	t.Run("DryRunFetchesAndWritesNothing", func(t *testing.T) {
		root := t.TempDir()
		original := `<img src="/images/logo.png">`
		htmlFile := writeTempHTML(t, root, "page.html", original)
		counts := newCounts()
		server := newSiteServer(t, root, map[string]string{"/images/logo.png": "image/png"}, counts)
		defer server.Close()

		m := NewMirrorer(testFetcher(), nil, MirrorConfig{
			SiteRoot:  root,
			OutputDir: filepath.Join(root, "assets"),
			DryRun:    true,
		})

		stats, err := m.MirrorPage(ctx, server.URL+"/page.html", htmlFile)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Downloaded)
		assert.Equal(t, 0, counts.get("/images/logo.png"))
		assert.NoDirExists(t, filepath.Join(root, "assets"))

		data, err := os.ReadFile(htmlFile)
		require.NoError(t, err)
		assert.Equal(t, original, string(data))
	})
}

func TestMirrorTree(t *testing.T) {
	ctx := context.Background()

	t.Run("SharedAssetFetchedOnce", func(t *testing.T) {
		root := t.TempDir()
		writeTempHTML(t, root, "a.html", `<img src="/shared/c.png">`)
		writeTempHTML(t, root, "b/b.html", `<img src="/shared/c.png">`)
		counts := newCounts()
		server := newSiteServer(t, root, map[string]string{"/shared/c.png": "image/png"}, counts)
		defer server.Close()

		m := NewMirrorer(testFetcher(), nil, MirrorConfig{
			BaseURL:   server.URL,
			SiteRoot:  root,
			OutputDir: filepath.Join(root, "assets"),
			Workers:   4,
		})

		stats, err := m.MirrorTree(ctx, root, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.get("/shared/c.png"), "shared asset must be fetched exactly once")
		assert.Equal(t, 1, stats.Downloaded)
		assert.Equal(t, 1, stats.SkippedDuplicate)

		for _, rel := range []string{"a.html", "b/b.html"} {
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			require.NoError(t, err)
			assert.Equal(t, `<img src="/assets/shared/c.png">`, string(data), rel)
		}
	})

	t.Run("ReportsPerDocument", func(t *testing.T) {
		root := t.TempDir()
		writeTempHTML(t, root, "a.html", `<img src="/imgs/a.png">`)
		writeTempHTML(t, root, "b.html", `<p>no images</p>`)
		counts := newCounts()
		server := newSiteServer(t, root, map[string]string{"/imgs/a.png": "image/png"}, counts)
		defer server.Close()

		var docs atomic.Int32
		m := NewMirrorer(testFetcher(), nil, MirrorConfig{
			BaseURL:   server.URL,
			SiteRoot:  root,
			OutputDir: filepath.Join(root, "assets"),
			OnDocument: func(htmlFile string, st Stats, err error) {
				docs.Add(1)
			},
		})

		_, err := m.MirrorTree(ctx, root, nil)
		require.NoError(t, err)
		assert.Equal(t, int32(2), docs.Load())
	})

	t.Run("ExplicitFileListSkipsDiscovery", func(t *testing.T) {
		root := t.TempDir()
		writeTempHTML(t, root, "a.html", `<img src="/imgs/a.png">`)
		untouched := `<img src="/imgs/b.png">`
		writeTempHTML(t, root, "b.html", untouched)
		counts := newCounts()
		server := newSiteServer(t, root, map[string]string{
			"/imgs/a.png": "image/png",
			"/imgs/b.png": "image/png",
		}, counts)
		defer server.Close()

		m := NewMirrorer(testFetcher(), nil, MirrorConfig{
			BaseURL:   server.URL,
			SiteRoot:  root,
			OutputDir: filepath.Join(root, "assets"),
		})

		stats, err := m.MirrorFiles(ctx, root, []string{filepath.Join(root, "a.html")})
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Downloaded)
		assert.Equal(t, 0, counts.get("/imgs/b.png"))

		data, err := os.ReadFile(filepath.Join(root, "b.html"))
		require.NoError(t, err)
		assert.Equal(t, untouched, string(data))
	})

	t.Run("MissingRootIsFatal", func(t *testing.T) {
		m := NewMirrorer(testFetcher(), nil, MirrorConfig{BaseURL: "http://h"})
		_, err := m.MirrorTree(ctx, filepath.Join(t.TempDir(), "nope"), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTML root not found")
	})
}
