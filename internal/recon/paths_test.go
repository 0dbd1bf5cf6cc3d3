package recon

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{"plain relative", "guide.md", "guide.md", true},
		{"nested", "api/reference.md", "api/reference.md", true},
		{"backslashes", `api\reference.md`, "api/reference.md", true},
		{"double separators", "api//reference.md", "api/reference.md", true},
		{"leading dot slash", "./guide.md", "guide.md", true},
		{"leading slash", "/guide.md", "guide.md", true},
		{"docs prefix stripped", "docs/guide.md", "guide.md", true},
		{"app docs prefix stripped", "/app/docs/guide.md", "guide.md", true},
		{"data docs prefix stripped", "data/docs/guide.md", "guide.md", true},
		{"uppercase extension", "README.MD", "README.MD", true},
		{"unknown extension", "binary.exe", "", false},
		{"no extension", "Makefile", "", false},
		{"empty", "", "", false},
		{"whitespace", "   ", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizePath(tt.in)
		if ok != tt.wantOK {
			t.Errorf("%s: ok = %v, want %v", tt.name, ok, tt.wantOK)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIsDocument(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"a.md", true},
		{"a.txt", true},
		{"a.PDF", true},
		{"a.html", true},
		{"a.go", false},
		{"a", false},
	}
	for _, tt := range tests {
		if got := IsDocument(tt.name); got != tt.want {
			t.Errorf("IsDocument(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
