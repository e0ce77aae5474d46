// Package store provides the keyed memory-entry store and its SQLite backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/chat-summary/internal/log"
	"github.com/rcliao/chat-summary/internal/model"
)

// ErrNotFound is returned when a named store does not exist.
var ErrNotFound = errors.New("store not found")

// PersistError reports that every write strategy failed. Entries and Content
// hold exactly what was meant to be written so it can be recovered by hand.
type PersistError struct {
	Store   string
	Entries []model.Entry
	// Content is the entry content an Upsert tried to write. Empty for bare Persist calls.
	Content string
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: all write strategies failed: %v", e.Store, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Writer is one strategy for writing a store's entries back. A Writer must
// apply the whole batch or nothing.
type Writer interface {
	Name() string
	Write(ctx context.Context, store string, entries []model.Entry) error
}

// Backend is the external entry collection.
type Backend interface {
	// ListStores enumerates store names.
	ListStores(ctx context.Context) ([]string, error)

	// LoadEntries returns all entries of a store, or ErrNotFound.
	LoadEntries(ctx context.Context, store string) ([]model.Entry, error)

	// Writers returns the write strategies, cheapest and most specific first.
	Writers() []Writer
}

// Searcher is implemented by backends with a native substring index.
type Searcher interface {
	SearchEntries(ctx context.Context, store, query string, limit int) ([]model.Entry, error)
}

// UIDAllocator is implemented by backends that dictate the form of new entry UIDs.
type UIDAllocator interface {
	NewUID(existing []model.Entry) string
}

// MemoryStore layers find-or-create semantics and the write fallback chain over a Backend.
type MemoryStore struct {
	backend Backend
	writers []Writer
	newID   func(existing []model.Entry) string
	now     func() time.Time
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithWriters replaces the backend's write chain.
func WithWriters(w ...Writer) Option {
	return func(m *MemoryStore) { m.writers = w }
}

// WithIDFunc sets the generator for new entry UIDs, overriding the backend's allocator.
func WithIDFunc(f func() string) Option {
	return func(m *MemoryStore) {
		m.newID = func([]model.Entry) string { return f() }
	}
}

// WithClock sets the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryStore) { m.now = now }
}

// New wraps a backend.
func New(b Backend, opts ...Option) *MemoryStore {
	m := &MemoryStore{
		backend: b,
		writers: b.Writers(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if a, ok := b.(UIDAllocator); ok {
		m.newID = a.NewUID
	} else {
		gen := ulidGenerator()
		m.newID = func([]model.Entry) string { return gen() }
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func ulidGenerator() func() string {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	}
}

// List returns the available store names. Enumeration failures yield an empty list.
func (m *MemoryStore) List(ctx context.Context) []string {
	names, err := m.backend.ListStores(ctx)
	if err != nil {
		log.Warnf("list stores: %v", err)
		return []string{}
	}
	if names == nil {
		return []string{}
	}
	return names
}

// Load returns the entries of store.
func (m *MemoryStore) Load(ctx context.Context, store string) ([]model.Entry, error) {
	entries, err := m.backend.LoadEntries(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", store, err)
	}
	return entries, nil
}

// FindByKey returns the first entry whose primary key or alias equals name.
func FindByKey(entries []model.Entry, name string) *model.Entry {
	for i := range entries {
		if entries[i].Matches(name) {
			return &entries[i]
		}
	}
	return nil
}

// Read returns the content of the entry matching name, or "" if there is none.
func (m *MemoryStore) Read(ctx context.Context, store, name string) (string, error) {
	entries, err := m.Load(ctx, store)
	if err != nil {
		return "", err
	}
	if e := FindByKey(entries, name); e != nil {
		return e.Content, nil
	}
	return "", nil
}

type upsertOptions struct {
	depth   *int
	aliases []string
	meta    map[string]string
}

// UpsertOption adjusts the entry written by Upsert.
type UpsertOption func(*upsertOptions)

// WithActivationDepth sets the entry's activation depth.
func WithActivationDepth(d int) UpsertOption {
	return func(o *upsertOptions) { o.depth = &d }
}

// WithAliases adds lookup aliases to the entry.
func WithAliases(aliases ...string) UpsertOption {
	return func(o *upsertOptions) { o.aliases = append(o.aliases, aliases...) }
}

// WithMeta merges key/value metadata into the entry.
func WithMeta(meta map[string]string) UpsertOption {
	return func(o *upsertOptions) {
		if o.meta == nil {
			o.meta = map[string]string{}
		}
		for k, v := range meta {
			o.meta[k] = v
		}
	}
}

// Upsert sets the content of the entry named name, creating it if needed.
// An existing entry keeps its UID. The store is written through Persist.
func (m *MemoryStore) Upsert(ctx context.Context, store, name, content string, opts ...UpsertOption) (*model.Entry, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("upsert: empty entry name")
	}
	var o upsertOptions
	for _, fn := range opts {
		fn(&o)
	}

	entries, err := m.Load(ctx, store)
	if err != nil {
		return nil, err
	}

	now := m.now()
	target := FindByKey(entries, name)
	if target == nil {
		entries = append(entries, model.Entry{
			UID:        m.newID(entries),
			PrimaryKey: name,
			Aliases:    []string{name},
			Constant:   true,
			Order:      model.DefaultOrder,
			Position:   model.DefaultPosition,
			CreatedAt:  now,
		})
		target = &entries[len(entries)-1]
	}

	target.Content = content
	target.UpdatedAt = now
	if o.depth != nil {
		target.ActivationDepth = *o.depth
	}
	for _, a := range o.aliases {
		if a == "" || target.Matches(a) {
			continue
		}
		if other := FindByKey(entries, a); other != nil {
			log.Warnf("upsert %s: alias %q skipped, it already names entry %s", name, a, other.UID)
			continue
		}
		target.Aliases = append(target.Aliases, a)
	}
	if len(o.meta) > 0 {
		if target.Meta == nil {
			target.Meta = map[string]string{}
		}
		for k, v := range o.meta {
			target.Meta[k] = v
		}
	}
	written := target.Clone()

	if err := m.Persist(ctx, store, entries); err != nil {
		var pe *PersistError
		if errors.As(err, &pe) {
			pe.Content = content
		}
		return nil, err
	}
	return &written, nil
}

// Persist writes entries through the write chain. The first strategy that
// succeeds ends the chain. If all fail, a *PersistError carrying the entries is returned.
func (m *MemoryStore) Persist(ctx context.Context, store string, entries []model.Entry) error {
	if len(m.writers) == 0 {
		return &PersistError{Store: store, Entries: cloneEntries(entries), Err: errors.New("no write strategies configured")}
	}

	var errs []error
	for _, w := range m.writers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := w.Write(ctx, store, cloneEntries(entries))
		if err == nil {
			if len(errs) > 0 {
				log.Infof("persist %s: %s succeeded after %d failed strategies", store, w.Name(), len(errs))
			}
			return nil
		}
		log.Warnf("persist %s: strategy %s failed: %v", store, w.Name(), err)
		errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
	}
	return &PersistError{Store: store, Entries: cloneEntries(entries), Err: errors.Join(errs...)}
}

// Search returns entries whose key, aliases or content contain query.
func (m *MemoryStore) Search(ctx context.Context, store, query string, limit int) ([]model.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	if s, ok := m.backend.(Searcher); ok {
		return s.SearchEntries(ctx, store, query, limit)
	}

	entries, err := m.Load(ctx, store)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []model.Entry
	for _, e := range entries {
		if len(out) >= limit {
			break
		}
		if entryContains(e, q) {
			out = append(out, e)
		}
	}
	return out, nil
}

func entryContains(e model.Entry, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(e.PrimaryKey), lowerQuery) ||
		strings.Contains(strings.ToLower(e.Content), lowerQuery) {
		return true
	}
	for _, a := range e.Aliases {
		if strings.Contains(strings.ToLower(a), lowerQuery) {
			return true
		}
	}
	return false
}

func cloneEntries(entries []model.Entry) []model.Entry {
	out := make([]model.Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
