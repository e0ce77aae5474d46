package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath       string       `json:"db_path"`
	DBSizeBytes  int64        `json:"db_size_bytes"`
	TotalStores  int          `json:"total_stores"`
	TotalEntries int          `json:"total_entries"`
	TotalChunks  int          `json:"total_chunks"`
	Stores       []StoreStats `json:"stores"`
}

// StoreStats holds per-store counts.
type StoreStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int    `json:"content_bytes"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stores`).Scan(&st.TotalStores); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&st.TotalEntries); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.TotalChunks); err != nil {
		return st, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.name, COUNT(e.uid), COALESCE(SUM(LENGTH(e.content)), 0)
		FROM stores s LEFT JOIN entries e ON e.store = s.name
		GROUP BY s.name ORDER BY s.name`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ss StoreStats
		if err := rows.Scan(&ss.Name, &ss.Entries, &ss.Bytes); err != nil {
			return st, err
		}
		st.Stores = append(st.Stores, ss)
	}

	return st, rows.Err()
}
