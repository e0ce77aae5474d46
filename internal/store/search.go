package store

import (
	"context"
	"strings"

	"github.com/rcliao/chat-summary/internal/log"
	"github.com/rcliao/chat-summary/internal/model"
)

// SearchEntries finds entries of store whose chunks match query in the FTS
// index, or whose key, aliases or content contain it. If the FTS query cannot
// run, substring matching alone is used.
func (s *SQLiteStore) SearchEntries(ctx context.Context, store, query string, limit int) ([]model.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	if err := storeExists(ctx, s.db, store); err != nil {
		return nil, err
	}

	like := "%" + escapeLike(query) + "%"
	results, err := s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE store = ?
		  AND (uid IN (
		         SELECT c.entry_uid FROM chunks_fts f JOIN chunks c ON c.rowid = f.rowid
		         WHERE chunks_fts MATCH ? AND c.store = ?)
		       OR content LIKE ? ESCAPE '\' OR primary_key LIKE ? ESCAPE '\' OR aliases LIKE ? ESCAPE '\')
		ORDER BY seq
		LIMIT ?`,
		store, ftsPhrase(query), store, like, like, like, limit)
	if err == nil {
		return results, nil
	}
	log.Debugf("fts search on %s failed, using substring match: %v", store, err)

	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE store = ?
		  AND (content LIKE ? ESCAPE '\' OR primary_key LIKE ? ESCAPE '\' OR aliases LIKE ? ESCAPE '\')
		ORDER BY seq
		LIMIT ?`,
		store, like, like, like, limit)
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// ftsPhrase quotes query as a single FTS5 phrase so operators in user input are literal.
func ftsPhrase(query string) string {
	return `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
