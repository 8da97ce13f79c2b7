package lib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// downloadChunkSize bounds memory use while streaming image bodies to disk.
const downloadChunkSize = 8192

// Outcome classifies how a single resolved URL was handled.
type Outcome int

const (
	// OutcomeDownloaded means the asset body was fetched and written.
	OutcomeDownloaded Outcome = iota
	// OutcomeSkippedExisting means the destination already existed and overwrite was off.
	OutcomeSkippedExisting
	// OutcomeSkippedDuplicate means the URL was already handled earlier in the run.
	OutcomeSkippedDuplicate
	// OutcomeMissing means the host answered 404: the asset does not exist.
	OutcomeMissing
	// OutcomeFailed means every fetch attempt failed with a non-404 error.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDownloaded:
		return "downloaded"
	case OutcomeSkippedExisting:
		return "skipped (exists)"
	case OutcomeSkippedDuplicate:
		return "skipped (duplicate)"
	case OutcomeMissing:
		return "missing"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrUnsupportedScheme marks references whose resolved URL is not HTTP(S).
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// AssetDownloader fetches a single remote asset into a destination path,
// inferring a missing file extension from the response content type and
// retrying with alternate URL encodings for hosts with picky variant
// handling.
type AssetDownloader struct {
	fetcher *Fetcher
}

// NewAssetDownloader creates an AssetDownloader backed by the given
// Fetcher, or a default one when nil.
func NewAssetDownloader(fetcher *Fetcher) *AssetDownloader {
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	return &AssetDownloader{fetcher: fetcher}
}

// Download fetches assetURL into dest. When dest has no extension, one
// is inferred from the response Content-Type. An existing final
// destination is reported as OutcomeSkippedExisting without rewriting it
// unless overwrite is set. The first 404 at any encoding variant is
// authoritative and surfaces as OutcomeMissing. Returns the final
// destination path and whether the body was newly written.
func (d *AssetDownloader) Download(ctx context.Context, assetURL *url.URL, dest string, overwrite bool) (string, Outcome, error) {
	var lastErr error
	for _, variant := range encodingVariants(assetURL) {
		res, err := d.fetcher.Get(ctx, variant)
		if err != nil {
			if IsNotFound(err) {
				return "", OutcomeMissing, err
			}
			lastErr = err
			continue
		}

		finalDest := dest
		if filepath.Ext(dest) == "" {
			if ext := ExtensionForContentType(res.Header.Get("Content-Type")); ext != "" {
				finalDest = dest + ext
			}
		}

		if !overwrite {
			if _, err := os.Stat(finalDest); err == nil {
				// Drain so the connection can be reused.
				io.Copy(io.Discard, res.Body)
				res.Body.Close()
				return finalDest, OutcomeSkippedExisting, nil
			}
		}

		if err := writeBody(finalDest, res.Body); err != nil {
			res.Body.Close()
			return "", OutcomeFailed, err
		}
		res.Body.Close()
		return finalDest, OutcomeDownloaded, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no fetchable variant for %s", assetURL)
	}
	return "", OutcomeFailed, lastErr
}

// writeBody streams the response body to dest in fixed-size chunks,
// removing the file again if the stream breaks midway.
func writeBody(dest string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create asset file: %w", err)
	}
	if _, err := io.CopyBuffer(f, body, make([]byte, downloadChunkSize)); err != nil {
		f.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to write asset data: %w", err)
	}
	return f.Close()
}

// encodingVariants returns the URL encodings to attempt, in order: the
// conservative form (colons preserved in the path), a fully
// percent-encoded path when the path contains a colon, and finally the
// URL with its query string stripped.
func encodingVariants(u *url.URL) []string {
	variants := []string{u.String()}

	if strings.Contains(u.Path, ":") {
		strict := *u
		strict.RawPath = strictEscapePath(u.Path)
		variants = append(variants, strict.String())
	}

	if u.RawQuery != "" {
		bare := *u
		bare.RawQuery = ""
		bare.ForceQuery = false
		variants = append(variants, bare.String())
	}

	seen := make(map[string]bool, len(variants))
	unique := variants[:0]
	for _, v := range variants {
		if !seen[v] {
			seen[v] = true
			unique = append(unique, v)
		}
	}
	return unique
}

// strictEscapePath percent-encodes every reserved character in the
// path, including the colons Go's default encoding leaves alone.
func strictEscapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		seg = url.PathEscape(seg)
		seg = strings.ReplaceAll(seg, ":", "%3A")
		segments[i] = seg
	}
	return strings.Join(segments, "/")
}
