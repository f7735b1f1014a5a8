package metadata

import (
	"context"
	"testing"

	"github.com/istefan/ahoi-api/internal/config"
	"github.com/istefan/ahoi-api/internal/store"
)

func newLoaderStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "test"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return st
}

func TestLoadAll(t *testing.T) {
	st := newLoaderStore(t)
	ctx := context.Background()

	now := store.Now()
	if _, err := st.DB.ExecContext(ctx,
		"INSERT INTO ahoi_structures (name, slug, description, created_at) VALUES ('Books', 'books', 'library', ?1)", now); err != nil {
		t.Fatalf("seed structure: %v", err)
	}
	if _, err := st.DB.ExecContext(ctx,
		"INSERT INTO ahoi_fields (structure_id, name, slug, type, is_required, default_value, created_at) VALUES (1, 'Title', 'title', 'TEXT_SHORT', 1, NULL, ?1)", now); err != nil {
		t.Fatalf("seed field: %v", err)
	}
	if _, err := st.DB.ExecContext(ctx,
		"INSERT INTO ahoi_fields (structure_id, name, slug, type, is_required, default_value, created_at) VALUES (1, 'Genre', 'genre', 'TEXT_SHORT', 0, 'unknown', ?1)", now); err != nil {
		t.Fatalf("seed field: %v", err)
	}
	if _, err := st.DB.ExecContext(ctx,
		"INSERT INTO ahoi_webhooks (target_url, event_name, structure_slug, condition, status, created_at) VALUES ('https://example.com/h', 'item.created', 'books', '', 'active', ?1)", now); err != nil {
		t.Fatalf("seed webhook: %v", err)
	}

	reg := NewRegistry()
	if err := LoadAll(ctx, st, reg); err != nil {
		t.Fatalf("load: %v", err)
	}

	s := reg.GetStructure("books")
	if s == nil {
		t.Fatal("structure not loaded")
	}
	if s.Name != "Books" || s.Description != "library" || len(s.Fields) != 2 {
		t.Fatalf("unexpected structure: %+v", s)
	}

	title := s.GetField("title")
	if title == nil || !title.Required || title.DefaultValue != nil {
		t.Fatalf("unexpected title field: %+v", title)
	}
	genre := s.GetField("genre")
	if genre == nil || genre.Required || genre.DefaultValue == nil || *genre.DefaultValue != "unknown" {
		t.Fatalf("unexpected genre field: %+v", genre)
	}

	subs := reg.Subscriptions()
	if len(subs) != 1 || subs[0].EventName != EventItemCreated || !subs[0].Active() {
		t.Fatalf("unexpected subscriptions: %+v", subs)
	}
}

func TestLoadAllSkipsOrphanFields(t *testing.T) {
	st := newLoaderStore(t)
	ctx := context.Background()

	now := store.Now()
	if _, err := st.DB.ExecContext(ctx,
		"INSERT INTO ahoi_structures (name, slug, description, created_at) VALUES ('Books', 'books', '', ?1)", now); err != nil {
		t.Fatalf("seed structure: %v", err)
	}
	// Disable enforcement so an orphan row can exist at all.
	if _, err := st.DB.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if _, err := st.DB.ExecContext(ctx,
		"INSERT INTO ahoi_fields (structure_id, name, slug, type, is_required, default_value, created_at) VALUES (99, 'Ghost', 'ghost', 'TEXT_SHORT', 0, NULL, ?1)", now); err != nil {
		t.Fatalf("seed orphan field: %v", err)
	}

	reg := NewRegistry()
	if err := LoadAll(ctx, st, reg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s := reg.GetStructure("books"); s == nil || len(s.Fields) != 0 {
		t.Fatalf("orphan field must be skipped: %+v", s)
	}
}

func TestRegistryReplaceOnLoad(t *testing.T) {
	reg := NewRegistry()
	reg.Load([]*Structure{{ID: 1, Slug: "books"}}, []*Subscription{{ID: 1}})
	reg.Load([]*Structure{{ID: 2, Slug: "authors"}}, nil)

	if reg.GetStructure("books") != nil {
		t.Fatal("old structures must be dropped on reload")
	}
	if reg.GetStructure("authors") == nil {
		t.Fatal("new structure missing")
	}
	if len(reg.Subscriptions()) != 0 {
		t.Fatal("old subscriptions must be dropped on reload")
	}
}
