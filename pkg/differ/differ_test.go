package differ

import "testing"

func TestTextDiff_NoChanges(t *testing.T) {
	result := TextDiff("hello\nworld", "hello\nworld")
	if result.HasChanges {
		t.Fatal("expected no changes")
	}
	if result.Summary() != "No changes detected" {
		t.Fatalf("unexpected summary: %s", result.Summary())
	}
}

func TestTextDiff_WithChanges(t *testing.T) {
	old := "line1\nline2\nline3"
	new := "line1\nline2modified\nline3\nline4"
	result := TextDiff(old, new)

	if !result.HasChanges {
		t.Fatal("expected changes")
	}
	if result.Stats.Additions != 2 || result.Stats.Deletions != 1 {
		t.Fatalf("unexpected stats %+v", result.Stats)
	}
	if result.Unified != "--- old\n+++ new\n-line2\n+line2modified\n+line4\n" {
		t.Fatalf("unexpected unified diff:\n%s", result.Unified)
	}
	if result.Summary() != "2 additions, 1 deletions" {
		t.Fatalf("unexpected summary: %s", result.Summary())
	}
}

func TestLines(t *testing.T) {
	tests := []struct {
		name    string
		old     []string
		new     []string
		added   int
		removed int
	}{
		{"identical", []string{"a", "b"}, []string{"a", "b"}, 0, 0},
		{"reordered", []string{"a", "b"}, []string{"b", "a"}, 0, 0},
		{"all new", nil, []string{"a", "b"}, 2, 0},
		{"duplicate dropped", []string{"a", "a", "b"}, []string{"a", "b"}, 0, 1},
		{"duplicate added", []string{"a"}, []string{"a", "a"}, 1, 0},
		{"blank lines ignored", []string{"a", ""}, []string{"a", "  "}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Lines(tt.old, tt.new)
			if len(r.Added) != tt.added || len(r.Removed) != tt.removed {
				t.Fatalf("expected +%d -%d, got +%v -%v", tt.added, tt.removed, r.Added, r.Removed)
			}
			if r.HasChanges != (tt.added+tt.removed > 0) {
				t.Fatalf("HasChanges = %v", r.HasChanges)
			}
		})
	}
}
