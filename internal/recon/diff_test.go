package recon

import "testing"

func diskSet(paths ...string) map[string]struct{} {
	s := make(map[string]struct{})
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

func TestComputeDiffOrphans(t *testing.T) {
	indexed := map[string][]any{
		"a.md": {"p1"},
		"b.md": {"p2", "p3"},
	}
	missing, orphans := ComputeDiff(indexed, diskSet("a.md"))

	if len(missing) != 0 {
		t.Errorf("missing = %v, want empty", missing)
	}
	if len(orphans) != 2 {
		t.Fatalf("orphans = %v, want two point records for b.md", orphans)
	}
	for _, o := range orphans {
		if o.NormalizedPath != "b.md" {
			t.Errorf("orphan path = %s, want b.md", o.NormalizedPath)
		}
	}
}

func TestComputeDiffMissing(t *testing.T) {
	indexed := map[string][]any{"a.md": {"p1"}}
	missing, orphans := ComputeDiff(indexed, diskSet("a.md", "c.md"))

	if len(orphans) != 0 {
		t.Errorf("orphans = %v, want empty", orphans)
	}
	if len(missing) != 1 || missing[0] != "c.md" {
		t.Errorf("missing = %v, want [c.md]", missing)
	}
}

func TestComputeDiffInSync(t *testing.T) {
	indexed := map[string][]any{"a.md": {"p1"}}
	missing, orphans := ComputeDiff(indexed, diskSet("a.md"))
	if len(missing) != 0 || len(orphans) != 0 {
		t.Errorf("missing = %v, orphans = %v; want both empty", missing, orphans)
	}
}

func TestComputeDiffEmptySets(t *testing.T) {
	missing, orphans := ComputeDiff(map[string][]any{}, diskSet())
	if len(missing) != 0 || len(orphans) != 0 {
		t.Error("empty inputs should produce empty outputs")
	}
}

func TestInferIngestionParams(t *testing.T) {
	tests := []struct {
		collection string
		wantModel  string
		wantChunk  int
	}{
		{"codebase", "voyage-code-3", 512},
		{"legal-docs", "bge-large-en-v1.5", 1024},
		{"support-chat", "all-MiniLM-L6-v2", 256},
		{"default", "bge-base-en-v1.5", 768},
	}
	for _, tt := range tests {
		model, chunk := InferIngestionParams(tt.collection)
		if model != tt.wantModel || chunk != tt.wantChunk {
			t.Errorf("InferIngestionParams(%q) = %s/%d, want %s/%d",
				tt.collection, model, chunk, tt.wantModel, tt.wantChunk)
		}
	}
}
