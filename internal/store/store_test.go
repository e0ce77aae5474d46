package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/rcliao/chat-summary/internal/model"
)

// fakeBackend keeps stores in memory and records which writer wrote what.
type fakeBackend struct {
	stores  map[string][]model.Entry
	listErr error
	writers []Writer
}

func newFakeBackend(stores ...string) *fakeBackend {
	b := &fakeBackend{stores: map[string][]model.Entry{}}
	for _, s := range stores {
		b.stores[s] = nil
	}
	return b
}

func (b *fakeBackend) ListStores(ctx context.Context) ([]string, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	var names []string
	for n := range b.stores {
		names = append(names, n)
	}
	return names, nil
}

func (b *fakeBackend) LoadEntries(ctx context.Context, store string) ([]model.Entry, error) {
	entries, ok := b.stores[store]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntries(entries), nil
}

func (b *fakeBackend) Writers() []Writer {
	if b.writers != nil {
		return b.writers
	}
	return []Writer{&fakeWriter{name: "direct", b: b}}
}

type fakeWriter struct {
	name  string
	b     *fakeBackend
	fail  error
	calls int
}

func (w *fakeWriter) Name() string { return w.name }

func (w *fakeWriter) Write(ctx context.Context, store string, entries []model.Entry) error {
	w.calls++
	if w.fail != nil {
		return w.fail
	}
	w.b.stores[store] = cloneEntries(entries)
	return nil
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("uid-%d", n)
	}
}

func TestFindByKey(t *testing.T) {
	entries := []model.Entry{
		{UID: "1", PrimaryKey: "alpha", Aliases: []string{"a"}},
		{UID: "2", PrimaryKey: "beta", Aliases: []string{"b", "shared"}},
		{UID: "3", PrimaryKey: "gamma", Aliases: []string{"shared"}},
	}

	if got := FindByKey(entries, "beta"); got == nil || got.UID != "2" {
		t.Errorf("expected uid 2 by primary key, got %+v", got)
	}
	if got := FindByKey(entries, "a"); got == nil || got.UID != "1" {
		t.Errorf("expected uid 1 by alias, got %+v", got)
	}
	if got := FindByKey(entries, "shared"); got == nil || got.UID != "2" {
		t.Errorf("expected first match uid 2, got %+v", got)
	}
	if got := FindByKey(entries, "missing"); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestUpsertCreatesWithDefaults(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend("book")
	ms := New(b, WithIDFunc(sequentialIDs()))

	e, err := ms.Upsert(ctx, "book", "K", "X", WithActivationDepth(4), WithMeta(map[string]string{"src": "test"}))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if e.UID != "uid-1" {
		t.Errorf("expected uid-1, got %q", e.UID)
	}
	if !reflect.DeepEqual(e.Aliases, []string{"K"}) {
		t.Errorf("expected aliases [K], got %v", e.Aliases)
	}
	if !e.Constant || e.Disabled || e.Order != model.DefaultOrder {
		t.Errorf("unexpected defaults: %+v", e)
	}
	if e.ActivationDepth != 4 || e.Meta["src"] != "test" {
		t.Errorf("options not applied: %+v", e)
	}
	if len(b.stores["book"]) != 1 {
		t.Fatalf("expected 1 stored entry, got %d", len(b.stores["book"]))
	}
}

func TestUpsertIdempotentRepeat(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend("book")
	ms := New(b, WithIDFunc(sequentialIDs()))

	ms.Upsert(ctx, "book", "K", "X")
	ms.Upsert(ctx, "book", "K", "X")

	entries := b.stores["book"]
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d", len(entries))
	}
	if entries[0].Content != "X" {
		t.Errorf("expected 'X', got %q", entries[0].Content)
	}
}

func TestUpsertReplacesContentKeepsUID(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend("book")
	ms := New(b, WithIDFunc(sequentialIDs()))

	first, err := ms.Upsert(ctx, "book", "K", "X")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := ms.Upsert(ctx, "book", "K", "Y", WithMeta(map[string]string{"n": "2"}))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if first.UID != second.UID {
		t.Errorf("expected same uid, got %q and %q", first.UID, second.UID)
	}
	entries := b.stores["book"]
	if len(entries) != 1 || entries[0].Content != "Y" {
		t.Fatalf("expected single entry with 'Y', got %+v", entries)
	}
	if !entries[0].CreatedAt.Equal(first.CreatedAt) {
		t.Error("expected created_at preserved")
	}
}

func TestUpsertMatchesAlias(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend("book")
	b.stores["book"] = []model.Entry{{UID: "host-7", PrimaryKey: "Recap", Aliases: []string{"recap", "summary"}}}
	ms := New(b, WithIDFunc(sequentialIDs()))

	e, err := ms.Upsert(ctx, "book", "summary", "new")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if e.UID != "host-7" || len(b.stores["book"]) != 1 {
		t.Errorf("expected alias hit on host-7, got %+v", b.stores["book"])
	}
}

func TestUpsertStoreNotFound(t *testing.T) {
	ms := New(newFakeBackend())
	_, err := ms.Upsert(context.Background(), "missing", "K", "X")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPersistFallsThroughToThirdStrategy(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend("book")
	w1 := &fakeWriter{name: "edit", b: b, fail: errors.New("404")}
	w2 := &fakeWriter{name: "create", b: b, fail: errors.New("409")}
	w3 := &fakeWriter{name: "save", b: b}
	ms := New(b, WithWriters(w1, w2, w3), WithIDFunc(sequentialIDs()))

	want := []model.Entry{{UID: "u1", PrimaryKey: "K", Aliases: []string{"K"}, Content: "exact content\n"}}
	if err := ms.Persist(ctx, "book", want); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if w1.calls != 1 || w2.calls != 1 || w3.calls != 1 {
		t.Errorf("expected one call each, got %d/%d/%d", w1.calls, w2.calls, w3.calls)
	}
	if !reflect.DeepEqual(b.stores["book"], want) {
		t.Errorf("stored %+v, want %+v", b.stores["book"], want)
	}
}

func TestPersistStopsAtFirstSuccess(t *testing.T) {
	b := newFakeBackend("book")
	w1 := &fakeWriter{name: "edit", b: b}
	w2 := &fakeWriter{name: "save", b: b}
	ms := New(b, WithWriters(w1, w2))

	if err := ms.Persist(context.Background(), "book", nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if w2.calls != 0 {
		t.Errorf("expected later strategy untouched, got %d calls", w2.calls)
	}
}

func TestPersistAllFailReturnsContent(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend("book")
	boom := errors.New("boom")
	ms := New(b,
		WithWriters(
			&fakeWriter{name: "edit", b: b, fail: boom},
			&fakeWriter{name: "create", b: b, fail: boom},
			&fakeWriter{name: "save", b: b, fail: boom},
		),
		WithIDFunc(sequentialIDs()),
	)

	content := "[2024-01-01 00:00:00]\nline one\n\n---\n\nline two  "
	_, err := ms.Upsert(ctx, "book", "K", content)

	var pe *PersistError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistError, got %v", err)
	}
	if pe.Content != content {
		t.Errorf("recovery content differs:\n%q\nwant\n%q", pe.Content, content)
	}
	if len(pe.Entries) != 1 || pe.Entries[0].Content != content {
		t.Errorf("expected intended entries attached, got %+v", pe.Entries)
	}
	if !errors.Is(err, boom) {
		t.Error("expected strategy errors joined into the PersistError")
	}
	if len(b.stores["book"]) != 0 {
		t.Error("expected store untouched")
	}
}

func TestListReturnsEmptyOnFailure(t *testing.T) {
	b := newFakeBackend()
	b.listErr = errors.New("cannot enumerate")
	got := New(b).List(context.Background())
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil list, got %v", got)
	}
}

func TestReadAndSearchFallback(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend("book")
	ms := New(b, WithIDFunc(sequentialIDs()))
	ms.Upsert(ctx, "book", "Small Summary", "The caravan reached Port Vell.")
	ms.Upsert(ctx, "book", "Big Summary", "Chapter one.")

	got, err := ms.Read(ctx, "book", "Small Summary")
	if err != nil || got != "The caravan reached Port Vell." {
		t.Errorf("read = %q, %v", got, err)
	}
	if got, _ := ms.Read(ctx, "book", "absent"); got != "" {
		t.Errorf("expected empty content for absent entry, got %q", got)
	}

	results, err := ms.Search(ctx, "book", "port vell", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].PrimaryKey != "Small Summary" {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestImportUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend("book")
	ms := New(b, WithIDFunc(sequentialIDs()))
	ms.Upsert(ctx, "book", "K", "old")

	n, err := ms.Import(ctx, "book", []model.Entry{
		{PrimaryKey: "K", Content: "new", ActivationDepth: 2},
		{PrimaryKey: "L", Aliases: []string{"L", "ell"}, Content: "other"},
	})
	if err != nil || n != 2 {
		t.Fatalf("import = %d, %v", n, err)
	}
	entries := b.stores["book"]
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].UID != "uid-1" || entries[0].Content != "new" {
		t.Errorf("expected K updated in place, got %+v", entries[0])
	}
	if FindByKey(entries, "ell") == nil {
		t.Error("expected alias imported")
	}
}

func TestUpsertSkipsAliasOwnedByAnotherEntry(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend("book")
	ms := New(b, WithIDFunc(sequentialIDs()))

	if _, err := ms.Upsert(ctx, "book", "A", "x"); err != nil {
		t.Fatalf("upsert A: %v", err)
	}
	if _, err := ms.Upsert(ctx, "book", "B", "y", WithAliases("A", "bee")); err != nil {
		t.Fatalf("upsert B: %v", err)
	}

	matches := 0
	for _, e := range b.stores["book"] {
		if e.Matches("A") {
			matches++
		}
	}
	if matches != 1 {
		t.Errorf("expected exactly 1 entry matching A, got %d", matches)
	}
	got, _ := ms.Read(ctx, "book", "bee")
	if got != "y" {
		t.Errorf("expected unrelated alias kept, got %q", got)
	}
}

// numberedBackend allocates UIDs the way a host numbering its entries does.
type numberedBackend struct{ *fakeBackend }

func (numberedBackend) NewUID(existing []model.Entry) string {
	return fmt.Sprintf("%d", len(existing)+10)
}

func TestUpsertUsesBackendAllocator(t *testing.T) {
	ctx := context.Background()
	b := numberedBackend{newFakeBackend("book")}

	e, err := New(b).Upsert(ctx, "book", "K", "X")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if e.UID != "10" {
		t.Errorf("expected backend-allocated uid 10, got %q", e.UID)
	}

	e, err = New(b, WithIDFunc(sequentialIDs())).Upsert(ctx, "book", "L", "Y")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if e.UID != "uid-1" {
		t.Errorf("expected WithIDFunc to override the allocator, got %q", e.UID)
	}
}
