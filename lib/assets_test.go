package lib

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalAssetPath(t *testing.T) {
	tests := []struct {
		name       string
		remotePath string
		outputDir  string
		expected   string
	}{
		{
			name:       "simple path",
			remotePath: "/images/logo.png",
			outputDir:  "assets",
			expected:   "images/logo.png",
		},
		{
			name:       "query string stripped",
			remotePath: "/images/logo.png?v=3&w=200",
			outputDir:  "assets",
			expected:   "images/logo.png",
		},
		{
			name:       "fragment stripped",
			remotePath: "/images/logo.png#section",
			outputDir:  "assets",
			expected:   "images/logo.png",
		},
		{
			name:       "percent decoded",
			remotePath: "/images/my%20logo.png",
			outputDir:  "assets",
			expected:   "images/my_logo.png",
		},
		{
			name:       "nested assets folder collapses leading segments",
			remotePath: "/za/en/site/assets/images/content/logo.png",
			outputDir:  "assets",
			expected:   "images/content/logo.png",
		},
		{
			name:       "leading assets segment is kept as the collapse anchor",
			remotePath: "/assets/images/logo.png",
			outputDir:  "assets",
			expected:   "images/logo.png",
		},
		{
			name:       "final assets segment is not an anchor",
			remotePath: "/images/assets",
			outputDir:  "out",
			expected:   "images/assets",
		},
		{
			name:       "duplicate output dir dropped without sentinel collapse",
			remotePath: "/mirror/images/logo.png",
			outputDir:  "mirror",
			expected:   "images/logo.png",
		},
		{
			name:       "unsafe characters replaced",
			remotePath: "/ima ges/lo(go).png",
			outputDir:  "assets",
			expected:   "ima_ges/lo_go_.png",
		},
		{
			name:       "dots disallowed in directory segments",
			remotePath: "/v1.2/logo.png",
			outputDir:  "assets",
			expected:   "v1_2/logo.png",
		},
		{
			name:       "empty path falls back to sentinel name",
			remotePath: "",
			outputDir:  "assets",
			expected:   "image",
		},
		{
			name:       "root-only path falls back to sentinel name",
			remotePath: "/",
			outputDir:  "assets",
			expected:   "image",
		},
		{
			name:       "trailing slash keeps directory and adds sentinel name",
			remotePath: "/images/icons/",
			outputDir:  "assets",
			expected:   "images/icons",
		},
		{
			name:       "extensionless filename preserved",
			remotePath: "/sub/img/pic",
			outputDir:  "assets",
			expected:   "sub/img/pic",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := LocalAssetPath(tt.remotePath, tt.outputDir)
			assert.Equal(t, tt.expected, got)
			// Deterministic: a second call yields the same path.
			assert.Equal(t, got, LocalAssetPath(tt.remotePath, tt.outputDir))
		})
	}
}

func TestLocalAssetPathSanitizationSoundness(t *testing.T) {
	adversarial := []string{
		"/../../etc/passwd",
		"/images/../../secret.png",
		"/%2e%2e/%2e%2e/escape.png",
		"/..%2f..%2fdeep.png",
		"/images/..",
		"..",
		"/images/:colon|pipe<angle>.png",
		"///",
		"/images//double//slash.png",
	}

	for _, input := range adversarial {
		input := input
		t.Run(input, func(t *testing.T) {
			got := LocalAssetPath(input, "assets")
			assert.NotEmpty(t, got)
			for _, segment := range strings.Split(got, "/") {
				assert.NotEqual(t, "..", segment, "traversal segment survived for %q", input)
				assert.NotEqual(t, "", segment, "empty segment for %q", input)
				for _, r := range segment {
					safe := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' ||
						r >= '0' && r <= '9' || r == '.' || r == '-' || r == '_'
					assert.True(t, safe, "unsafe character %q in %q", r, got)
				}
			}
		})
	}
}

func TestLocalAssetPathDegenerateFallsBackToHash(t *testing.T) {
	got := LocalAssetPath("/images/%3A%3A", "assets")
	assert.True(t, strings.HasPrefix(got, "images/"))
	base := strings.TrimPrefix(got, "images/")
	assert.Len(t, base, 32, "expected an md5 hex fallback, got %q", base)
}

func TestExtensionForContentType(t *testing.T) {
	tests := []struct {
		contentType string
		expected    string
	}{
		{"image/svg+xml", ".svg"},
		{"image/png", ".png"},
		{"image/jpeg", ".jpg"},
		{"image/jpg", ".jpg"},
		{"image/gif", ".gif"},
		{"image/webp", ".webp"},
		{"image/avif", ".avif"},
		{"IMAGE/PNG", ".png"},
		{"image/png; charset=binary", ".png"},
		{" image/webp ", ".webp"},
		{"text/html", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ExtensionForContentType(tt.contentType), "content type %q", tt.contentType)
	}
}
