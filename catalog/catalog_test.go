package catalog_test

import (
	"errors"
	"fmt"
	"testing"

	"wtcarve/bson"
	"wtcarve/catalog"
	"wtcarve/wtfixture"
)

func docs(n int) []bson.Document {
	out := make([]bson.Document, n)
	for i := range out {
		out[i] = bson.D("_id", int64(i+1), "name", fmt.Sprintf("doc-%d", i+1))
	}
	return out
}

func TestListCollections(t *testing.T) {
	dir := t.TempDir()
	roots, err := wtfixture.BuildDataDir(dir, []wtfixture.Collection{
		{Name: "users", Docs: docs(3)},
		{Name: "orders", Docs: docs(5)},
	})
	if err != nil {
		t.Fatalf("Failed to build data directory: %v", err)
	}

	cat, err := catalog.Load(dir)
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	entries, err := cat.List()
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Entries: want 2, got %d", len(entries))
	}
	// Sorted by name.
	if entries[0].Name != "orders" || entries[1].Name != "users" {
		t.Errorf("Order: got %s, %s", entries[0].Name, entries[1].Name)
	}
	for _, e := range entries {
		if !e.Available {
			t.Errorf("%s: backing file reported missing", e.Name)
		}
		if e.KeyFormat != "q" || e.ValueFormat != "u" {
			t.Errorf("%s: formats %s/%s", e.Name, e.KeyFormat, e.ValueFormat)
		}
		if e.Root != roots[e.Name] {
			t.Errorf("%s: root %s, want %s", e.Name, e.Root, roots[e.Name])
		}
		if e.AllocSize != 4096 {
			t.Errorf("%s: alloc size %d", e.Name, e.AllocSize)
		}
	}
	if !entries[0].HasCount || entries[0].Count != 5 {
		t.Errorf("orders count estimate: %d (has=%v)", entries[0].Count, entries[0].HasCount)
	}
	if !entries[1].HasCount || entries[1].Count != 3 {
		t.Errorf("users count estimate: %d (has=%v)", entries[1].Count, entries[1].HasCount)
	}
}

// TestInternalTablesHidden: index tables and the size storer never show up
// in a listing, but an exact resolve still reaches them.
func TestInternalTablesHidden(t *testing.T) {
	dir := t.TempDir()
	_, err := wtfixture.BuildDataDir(dir, []wtfixture.Collection{
		{Name: "events", Docs: docs(2)},
		{Name: "index-1-4567", Docs: docs(2)},
	})
	if err != nil {
		t.Fatalf("Failed to build data directory: %v", err)
	}

	cat, err := catalog.Load(dir)
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	entries, err := cat.List()
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "events" {
		t.Fatalf("Listing leaked internal tables: %v", entries)
	}

	if _, err := cat.Resolve("index-1-4567"); err != nil {
		t.Errorf("Exact resolve of an index table failed: %v", err)
	}
	if _, err := cat.Resolve("sizeStorer"); err != nil {
		t.Errorf("Exact resolve of the size storer failed: %v", err)
	}
}

func TestMissingBackingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := wtfixture.BuildDataDir(dir, []wtfixture.Collection{
		{Name: "present", Docs: docs(1)},
		{Name: "ghost", Docs: docs(4), MissingFile: true},
	})
	if err != nil {
		t.Fatalf("Failed to build data directory: %v", err)
	}

	cat, err := catalog.Load(dir)
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	entries, err := cat.List()
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Entries: want 2 (missing files stay listed), got %d", len(entries))
	}
	ghost := entries[0]
	if ghost.Name != "ghost" || ghost.Available {
		t.Errorf("ghost: name %s, available %v", ghost.Name, ghost.Available)
	}
	// The size storer still knows how many documents it had.
	if !ghost.HasCount || ghost.Count != 4 {
		t.Errorf("ghost count estimate: %d (has=%v)", ghost.Count, ghost.HasCount)
	}
}

func TestResolveUnknownName(t *testing.T) {
	dir := t.TempDir()
	if _, err := wtfixture.BuildDataDir(dir, []wtfixture.Collection{
		{Name: "users", Docs: docs(1)},
	}); err != nil {
		t.Fatalf("Failed to build data directory: %v", err)
	}
	cat, err := catalog.Load(dir)
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}

	var nerr *catalog.NotFoundError
	if _, err := cat.Resolve("Users"); !errors.As(err, &nerr) {
		t.Errorf("Resolve is case-sensitive: want NotFoundError, got %v", err)
	}
	if nerr.Name != "Users" {
		t.Errorf("NotFoundError name: %q", nerr.Name)
	}
}

func TestLoadWithoutTurtle(t *testing.T) {
	if _, err := catalog.Load(t.TempDir()); err == nil {
		t.Error("Loaded a catalog from an empty directory")
	}
}

func TestSnappyMetadataParsed(t *testing.T) {
	dir := t.TempDir()
	roots, err := wtfixture.BuildDataDir(dir, []wtfixture.Collection{
		{Name: "logs", Docs: docs(3), Compressor: "snappy"},
	})
	if err != nil {
		t.Fatalf("Failed to build data directory: %v", err)
	}
	cat, err := catalog.Load(dir)
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	e, err := cat.Resolve("logs")
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if e.Compressor.String() != "snappy" {
		t.Errorf("Compressor: got %s", e.Compressor)
	}
	if e.Root != roots["logs"] {
		t.Errorf("Root: got %s, want %s", e.Root, roots["logs"])
	}
}
