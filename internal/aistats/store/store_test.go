package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/RobinCoderZhao/aistats/internal/aistats/registry"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
	"github.com/RobinCoderZhao/aistats/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(storage.Config{Driver: storage.SQLite, DSN: filepath.Join(t.TempDir(), "aistats.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := New(context.Background(), db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func sampleCatalog(version string, names ...string) *registry.Catalog {
	m := registry.ModeCatalog{Mode: "tech", Label: "Tech"}
	for _, n := range names {
		m.Sources = append(m.Sources, sources.Source{
			Type: sources.TypeFeed, Kind: sources.KindFeed, Name: n,
			URL: "https://example.com/" + n, Tags: []string{"seo"}, Mode: "tech",
		})
	}
	return &registry.Catalog{Version: version, Modes: []registry.ModeCatalog{m}}
}

func TestLoadCatalog_Empty(t *testing.T) {
	s := newTestStore(t)
	c, err := s.LoadCatalog(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Fatalf("expected nil catalog, got %+v", c)
	}
}

func TestSaveAndLoadCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveCatalog(ctx, sampleCatalog("v1", "a")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCatalog(ctx, sampleCatalog("v2", "a", "b")); err != nil {
		t.Fatal(err)
	}

	c, err := s.LoadCatalog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Version != "v2" {
		t.Fatalf("expected newest snapshot, got version %q", c.Version)
	}
	if len(c.Modes) != 1 || len(c.Modes[0].Sources) != 2 {
		t.Fatalf("unexpected catalog %+v", c)
	}
	got := c.Modes[0].Sources[1]
	if got.Name != "b" || got.Kind != sources.KindFeed || got.Mode != "tech" || !got.HasTag("seo") {
		t.Fatalf("source did not round-trip: %+v", got)
	}
}

func TestSnapshotByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, c := range []*registry.Catalog{sampleCatalog("v1", "a"), sampleCatalog("v1", "a", "b")} {
		if err := s.SaveCatalog(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	first, err := s.Snapshot(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Snapshot(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	d := registry.Diff(first, second)
	if d.Stats.Additions != 1 || d.Stats.Deletions != 0 {
		t.Fatalf("expected one added source between snapshots, got %+v", d.Stats)
	}

	if _, err := s.Snapshot(ctx, 99); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestHistoryIsPruned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	s.now = func() time.Time { i++; return base.Add(time.Duration(i) * time.Minute) }

	for n := 0; n < keepSnapshots+5; n++ {
		if err := s.SaveCatalog(ctx, sampleCatalog("v1", "a")); err != nil {
			t.Fatal(err)
		}
	}

	hist, err := s.History(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != keepSnapshots {
		t.Fatalf("expected %d snapshots, got %d", keepSnapshots, len(hist))
	}
	if hist[0].ID <= hist[1].ID {
		t.Fatalf("history should be newest first: %d, %d", hist[0].ID, hist[1].ID)
	}
	if hist[0].SourceCount != 1 {
		t.Fatalf("expected source_count 1, got %d", hist[0].SourceCount)
	}
}

func TestRegistryUsesStoredSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	defaults := sampleCatalog("v1", "a")

	r, err := registry.New(ctx, registry.WithPersister(s), registry.WithDefaults(defaults))
	if err != nil {
		t.Fatal(err)
	}
	src := sources.Source{Type: sources.TypeHTML, Name: "Extra", URL: "https://example.org/"}
	if err := r.AddSource(ctx, "tech", src); err != nil {
		t.Fatal(err)
	}

	reopened, err := registry.New(ctx, registry.WithPersister(s), registry.WithDefaults(sampleCatalog("v1", "a")))
	if err != nil {
		t.Fatal(err)
	}
	got := reopened.SourcesForMode("tech")
	if len(got) != 2 || got[1].Name != "Extra" || got[1].Kind != sources.KindHTMLHeadings {
		t.Fatalf("expected added source to survive restart, got %+v", got)
	}

	upgraded, err := registry.New(ctx, registry.WithPersister(s), registry.WithDefaults(sampleCatalog("v2", "a")))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(upgraded.SourcesForMode("tech")); n != 1 {
		t.Fatalf("newer built-in catalog should replace stored snapshot, got %d sources", n)
	}
}
