package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rcliao/chat-summary/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestMemoryStore(t *testing.T, stores ...string) (*SQLiteStore, *MemoryStore) {
	t.Helper()
	s := newTestStore(t)
	for _, name := range stores {
		if err := s.CreateStore(context.Background(), name); err != nil {
			t.Fatalf("create store %s: %v", name, err)
		}
	}
	return s, New(s)
}

func TestCreateAndListStores(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	names, err := s.ListStores(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no stores, got %v", names)
	}

	s.CreateStore(ctx, "beta")
	s.CreateStore(ctx, "alpha")
	s.CreateStore(ctx, "alpha")

	names, _ = s.ListStores(ctx)
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("expected [alpha beta], got %v", names)
	}
}

func TestLoadMissingStore(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadEntries(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, ms := newTestMemoryStore(t, "book")

	e, err := ms.Upsert(ctx, "book", "Small Summary", "first", WithActivationDepth(4), WithAliases("recap"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if e.UID == "" {
		t.Error("expected non-empty UID")
	}

	entries, err := s.LoadEntries(ctx, "book")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Content != "first" || got.ActivationDepth != 4 || !got.Constant {
		t.Errorf("unexpected entry %+v", got)
	}
	if !got.Matches("recap") || !got.Matches("Small Summary") {
		t.Errorf("aliases not persisted: %v", got.Aliases)
	}

	e2, err := ms.Upsert(ctx, "book", "recap", "second")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if e2.UID != e.UID {
		t.Errorf("expected uid %s kept, got %s", e.UID, e2.UID)
	}
	entries, _ = s.LoadEntries(ctx, "book")
	if len(entries) != 1 || entries[0].Content != "second" {
		t.Errorf("expected single updated entry, got %+v", entries)
	}
}

func TestLoadPreservesWriteOrder(t *testing.T) {
	ctx := context.Background()
	s, ms := newTestMemoryStore(t, "book")

	for _, k := range []string{"c", "a", "b"} {
		if _, err := ms.Upsert(ctx, "book", k, k+"-content"); err != nil {
			t.Fatalf("upsert %s: %v", k, err)
		}
	}
	entries, _ := s.LoadEntries(ctx, "book")
	if len(entries) != 3 || entries[0].PrimaryKey != "c" || entries[2].PrimaryKey != "b" {
		t.Errorf("unexpected order %+v", entries)
	}
}

func TestEditWriterLeavesOtherEntries(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore(t, "book")

	all := []model.Entry{
		{UID: "1", PrimaryKey: "a", Content: "A"},
		{UID: "2", PrimaryKey: "b", Content: "B"},
	}
	if err := (overwriteWriter{s}).Write(ctx, "book", all); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := (editWriter{s}).Write(ctx, "book", []model.Entry{{UID: "2", PrimaryKey: "b", Content: "B2"}}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	entries, _ := s.LoadEntries(ctx, "book")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if e := FindByKey(entries, "b"); e == nil || e.Content != "B2" {
		t.Errorf("expected b edited, got %+v", e)
	}
	if e := FindByKey(entries, "a"); e == nil || e.Content != "A" {
		t.Errorf("expected a untouched, got %+v", e)
	}
}

func TestOverwriteWriterReplacesStore(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore(t, "book", "other")

	(overwriteWriter{s}).Write(ctx, "book", []model.Entry{{UID: "1", PrimaryKey: "a", Content: "A"}})
	(overwriteWriter{s}).Write(ctx, "other", []model.Entry{{UID: "1", PrimaryKey: "z", Content: "Z"}})
	if err := (overwriteWriter{s}).Write(ctx, "book", []model.Entry{{UID: "9", PrimaryKey: "n", Content: "N"}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	entries, _ := s.LoadEntries(ctx, "book")
	if len(entries) != 1 || entries[0].UID != "9" {
		t.Errorf("expected only uid 9, got %+v", entries)
	}
	other, _ := s.LoadEntries(ctx, "other")
	if len(other) != 1 || other[0].Content != "Z" {
		t.Errorf("expected other store untouched, got %+v", other)
	}
}

func TestWritersRejectMissingStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, w := range s.Writers() {
		err := w.Write(ctx, "ghost", []model.Entry{{UID: "1", PrimaryKey: "a"}})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", w.Name(), err)
		}
	}
}

func TestSQLiteChainFallsBackToOverwrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore(t, "book")
	broken := &fakeWriter{name: "broken", fail: errors.New("endpoint gone")}
	ms := New(s, WithWriters(broken, overwriteWriter{s}))

	if _, err := ms.Upsert(ctx, "book", "K", "kept"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if broken.calls != 1 {
		t.Errorf("expected broken writer tried once, got %d", broken.calls)
	}
	entries, _ := s.LoadEntries(ctx, "book")
	if len(entries) != 1 || entries[0].Content != "kept" {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestSearchEntries(t *testing.T) {
	ctx := context.Background()
	s, ms := newTestMemoryStore(t, "book", "other")

	ms.Upsert(ctx, "book", "Small Summary", "[t1]\nThe caravan reached Port Vell.\n\n---\n\n[t2]\nA storm closed the pass.")
	ms.Upsert(ctx, "book", "Big Summary", "Chapter: the journey north.")
	ms.Upsert(ctx, "other", "Notes", "Port Vell harbour master")

	results, err := s.SearchEntries(ctx, "book", "port vell", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].PrimaryKey != "Small Summary" {
		t.Fatalf("expected Small Summary only, got %+v", results)
	}

	results, _ = s.SearchEntries(ctx, "book", "big", 10)
	if len(results) != 1 {
		t.Errorf("expected key match, got %d", len(results))
	}

	results, _ = s.SearchEntries(ctx, "book", "100%", 10)
	if len(results) != 0 {
		t.Errorf("expected literal %% match only, got %d", len(results))
	}

	if _, err := s.SearchEntries(ctx, "ghost", "x", 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "stats.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.CreateStore(ctx, "book")
	s.CreateStore(ctx, "empty")
	New(s).Upsert(ctx, "book", "K", "hello")

	st, err := s.Stats(ctx, dbPath)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalStores != 2 || st.TotalEntries != 1 || st.TotalChunks != 1 {
		t.Errorf("unexpected totals %+v", st)
	}
	if len(st.Stores) != 2 || st.Stores[0].Name != "book" || st.Stores[0].Bytes != 5 {
		t.Errorf("unexpected per-store stats %+v", st.Stores)
	}
}

func TestDBPathCreation(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("expected db file to be created")
	}
}

func TestExportStore(t *testing.T) {
	ctx := context.Background()
	_, ms := newTestMemoryStore(t, "book")
	ms.Upsert(ctx, "book", "a", "A")
	ms.Upsert(ctx, "book", "b", "B")

	exp, err := ms.ExportStore(ctx, "book")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exp.Store != "book" || len(exp.Entries) != 2 {
		t.Errorf("unexpected export %+v", exp)
	}
}

func TestSearchEntriesUsesFullTextIndex(t *testing.T) {
	ctx := context.Background()
	s, ms := newTestMemoryStore(t, "book")

	ms.Upsert(ctx, "book", "Small Summary", "[t1]\nThey met at the Café Noir.\n\n---\n\n[t2]\nThe deal fell through.")
	ms.Upsert(ctx, "book", "Big Summary", "Chapter: a quiet harbour.")

	results, err := s.SearchEntries(ctx, "book", "cafe noir", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].PrimaryKey != "Small Summary" {
		t.Fatalf("expected a token match through the index, got %+v", results)
	}

	for _, q := range []string{`"unbalanced`, `deal AND (`, `NEAR(x y)`} {
		if _, err := s.SearchEntries(ctx, "book", q, 10); err != nil {
			t.Errorf("query %q: %v", q, err)
		}
	}

	if err := (overwriteWriter{s}).Write(ctx, "book", []model.Entry{
		{UID: "u9", PrimaryKey: "Big Summary", Content: "Only the harbour remains."},
	}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	results, _ = s.SearchEntries(ctx, "book", "cafe noir", 10)
	if len(results) != 0 {
		t.Errorf("expected index cleared with the overwritten chunks, got %+v", results)
	}
	results, _ = s.SearchEntries(ctx, "book", "harbour", 10)
	if len(results) != 1 || results[0].UID != "u9" {
		t.Errorf("expected rewritten entry indexed, got %+v", results)
	}
}
