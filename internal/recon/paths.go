package recon

import (
	"path/filepath"
	"strings"
)

// docExtensions are the only files considered source documents, on disk and
// in indexed payloads alike.
var docExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".rst":      true,
	".pdf":      true,
	".html":     true,
}

// knownRootPrefixes are path prefixes the ingestion engine historically
// stored in point payloads; they are stripped so indexed and on-disk paths
// compare in the same canonical relative form.
var knownRootPrefixes = []string{
	"app/docs/",
	"data/docs/",
	"docs/",
}

// NormalizePath canonicalizes a stored document path: separators collapsed
// to forward slashes, leading roots stripped, extension checked against the
// recognized set. Returns false for paths that are not documents.
func NormalizePath(stored string) (string, bool) {
	p := strings.ReplaceAll(strings.TrimSpace(stored), "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	for _, root := range knownRootPrefixes {
		if strings.HasPrefix(p, root) {
			p = strings.TrimPrefix(p, root)
			break
		}
	}
	if p == "" {
		return "", false
	}
	if !docExtensions[strings.ToLower(filepath.Ext(p))] {
		return "", false
	}
	return p, true
}

// IsDocument reports whether a filename carries a recognized extension.
func IsDocument(name string) bool {
	return docExtensions[strings.ToLower(filepath.Ext(name))]
}
