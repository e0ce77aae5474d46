package store

import (
	"context"

	"github.com/rcliao/chat-summary/internal/model"
)

// Export is the on-disk shape of an exported store.
type Export struct {
	Store   string        `json:"store"`
	Entries []model.Entry `json:"entries"`
}

// ExportStore returns every entry of a store in lookup order.
func (m *MemoryStore) ExportStore(ctx context.Context, store string) (*Export, error) {
	entries, err := m.Load(ctx, store)
	if err != nil {
		return nil, err
	}
	return &Export{Store: store, Entries: entries}, nil
}

// Import upserts each exported entry into store by primary key, so entries
// already present are updated in place rather than duplicated.
func (m *MemoryStore) Import(ctx context.Context, store string, entries []model.Entry) (int, error) {
	imported := 0
	for _, e := range entries {
		opts := []UpsertOption{WithActivationDepth(e.ActivationDepth), WithAliases(e.Aliases...)}
		if len(e.Meta) > 0 {
			opts = append(opts, WithMeta(e.Meta))
		}
		if _, err := m.Upsert(ctx, store, e.PrimaryKey, e.Content, opts...); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
