package lib

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// assetsSentinel is the folder name the path mapper collapses on. The
// mirrored site nests its asset folder at varying depths; dropping the
// segments before it keeps the local mirror rooted at that folder.
const assetsSentinel = "assets"

// fallbackAssetName names assets whose URL path carries no usable filename.
const fallbackAssetName = "image"

// contentTypeExtensions maps image content types to the file extension
// appended to extension-less destinations.
var contentTypeExtensions = map[string]string{
	"image/svg+xml": ".svg",
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/jpg":     ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/avif":    ".avif",
}

// ExtensionForContentType returns the file extension for an image
// content type, or "" when the type is unknown. Parameters after a
// semicolon are ignored.
func ExtensionForContentType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return contentTypeExtensions[strings.ToLower(strings.TrimSpace(contentType))]
}

// LocalAssetPath maps a remote URL path to a slash-separated local path
// relative to the output directory. The mapping is deterministic and
// performs no I/O: query string and fragment are stripped, the path is
// percent-decoded, each segment is reduced to filesystem-safe
// characters, everything before a nested assets folder is collapsed,
// and a leading segment duplicating the output directory's own name is
// dropped. A path that yields no usable filename maps to a sentinel
// name, and a fully degenerate one falls back to a hash of the raw input.
func LocalAssetPath(remotePath, outputDirName string) string {
	cleaned := remotePath
	if i := strings.Index(cleaned, "?"); i >= 0 {
		cleaned = cleaned[:i]
	}
	if i := strings.Index(cleaned, "#"); i >= 0 {
		cleaned = cleaned[:i]
	}
	if decoded, err := url.PathUnescape(cleaned); err == nil {
		cleaned = decoded
	}

	var parts []string
	for _, part := range strings.Split(cleaned, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		parts = []string{fallbackAssetName}
	}

	// Collapse everything before a nested assets folder, unless it is
	// already the leading or final segment.
	for i, part := range parts[:len(parts)-1] {
		if i > 0 && strings.EqualFold(part, assetsSentinel) {
			parts = parts[i:]
			break
		}
	}

	dirs := make([]string, 0, len(parts)-1)
	for i, part := range parts[:len(parts)-1] {
		safe := sanitizeSegment(part, false)
		if strings.Trim(safe, "_") == "" {
			safe = fmt.Sprintf("dir_%d", i)
		}
		dirs = append(dirs, safe)
	}

	filename := sanitizeAssetName(parts[len(parts)-1])
	if filename == "" {
		filename = fmt.Sprintf("%x", md5.Sum([]byte(remotePath)))
	}

	mapped := append(dirs, filename)

	// Avoid assets/assets/... nesting when the remote path already
	// starts with the output directory's name.
	if outputDirName != "" && outputDirName != "." && len(mapped) > 1 &&
		strings.EqualFold(mapped[0], outputDirName) {
		mapped = mapped[1:]
	}

	return strings.Join(mapped, "/")
}

// sanitizeAssetName reduces the final path segment to a safe filename.
// Dot-only names resolve to the sentinel; a name that sanitizes away
// entirely returns "" so the caller can fall back to a hash.
func sanitizeAssetName(segment string) string {
	base := path.Base(segment)
	if base == "" || base == "." || base == ".." || base == "/" {
		return fallbackAssetName
	}
	safe := sanitizeSegment(base, true)
	if safe == "" || strings.Trim(safe, "._") == "" {
		return ""
	}
	return safe
}

// sanitizeSegment replaces every character outside the safe set with
// an underscore. Directory segments additionally disallow dots.
func sanitizeSegment(segment string, allowDot bool) string {
	var b strings.Builder
	for _, r := range segment {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.' && allowDot:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
