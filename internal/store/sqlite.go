package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/chat-summary/internal/chunker"
	"github.com/rcliao/chat-summary/internal/model"
)

// SQLiteStore is a Backend kept in a local SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// modernc connections do not share transactions; one writer keeps the chain strictly sequential.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		name        TEXT PRIMARY KEY,
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		store            TEXT NOT NULL,
		uid              TEXT NOT NULL,
		seq              INTEGER NOT NULL DEFAULT 0,
		primary_key      TEXT NOT NULL,
		aliases          TEXT,
		content          TEXT NOT NULL,
		activation_depth INTEGER NOT NULL DEFAULT 0,
		constant         INTEGER NOT NULL DEFAULT 1,
		disabled         INTEGER NOT NULL DEFAULT 0,
		ord              INTEGER NOT NULL DEFAULT 100,
		position         INTEGER NOT NULL DEFAULT 0,
		meta             TEXT,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		PRIMARY KEY (store, uid)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_store_seq ON entries(store, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_key ON entries(store, primary_key);

	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		store       TEXT NOT NULL,
		entry_uid   TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		text        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_entry ON chunks(store, entry_uid);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		text,
		content=chunks,
		content_rowid=rowid
	);

	CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
		INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
	END;
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateStore registers a new, empty store. Creating an existing store is a no-op.
func (s *SQLiteStore) CreateStore(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("store name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) ListStores(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM stores ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storeExists(ctx context.Context, q queryer, name string) error {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM stores WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

const entryColumns = `uid, primary_key, aliases, content, activation_depth, constant, disabled,
	ord, position, meta, created_at, updated_at`

func (s *SQLiteStore) LoadEntries(ctx context.Context, store string) ([]model.Entry, error) {
	if err := storeExists(ctx, s.db, store); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE store = ? ORDER BY seq, created_at, uid`, store)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Writers returns the in-place edit strategy followed by a full overwrite.
func (s *SQLiteStore) Writers() []Writer {
	return []Writer{editWriter{s}, overwriteWriter{s}}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// editWriter updates each entry by UID and inserts the ones that do not exist yet.
// Entries absent from the batch are left alone.
type editWriter struct{ s *SQLiteStore }

func (editWriter) Name() string { return "edit" }

func (w editWriter) Write(ctx context.Context, store string, entries []model.Entry) error {
	tx, err := w.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := storeExists(ctx, tx, store); err != nil {
		return err
	}

	for i, e := range entries {
		row, err := encodeEntry(e)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE entries SET seq = ?, primary_key = ?, aliases = ?, content = ?, activation_depth = ?,
			        constant = ?, disabled = ?, ord = ?, position = ?, meta = ?, updated_at = ?
			 WHERE store = ? AND uid = ?`,
			i, e.PrimaryKey, row.aliases, e.Content, e.ActivationDepth,
			e.Constant, e.Disabled, e.Order, e.Position, row.meta, row.updatedAt,
			store, e.UID)
		if err != nil {
			return fmt.Errorf("update entry %s: %w", e.UID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			if err := insertEntry(ctx, tx, store, i, e, row); err != nil {
				return err
			}
		}
		if err := w.s.reindex(ctx, tx, store, e); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// overwriteWriter replaces the whole store contents with the batch.
type overwriteWriter struct{ s *SQLiteStore }

func (overwriteWriter) Name() string { return "overwrite" }

func (w overwriteWriter) Write(ctx context.Context, store string, entries []model.Entry) error {
	tx, err := w.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := storeExists(ctx, tx, store); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE store = ?`, store); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE store = ?`, store); err != nil {
		return err
	}

	for i, e := range entries {
		row, err := encodeEntry(e)
		if err != nil {
			return err
		}
		if err := insertEntry(ctx, tx, store, i, e, row); err != nil {
			return err
		}
		if err := w.s.reindex(ctx, tx, store, e); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type encodedEntry struct {
	aliases   *string
	meta      *string
	createdAt string
	updatedAt string
}

func encodeEntry(e model.Entry) (encodedEntry, error) {
	var row encodedEntry
	if len(e.Aliases) > 0 {
		b, err := json.Marshal(e.Aliases)
		if err != nil {
			return row, err
		}
		s := string(b)
		row.aliases = &s
	}
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return row, err
		}
		s := string(b)
		row.meta = &s
	}
	created, updated := e.CreatedAt, e.UpdatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if updated.IsZero() {
		updated = created
	}
	row.createdAt = created.Format(time.RFC3339Nano)
	row.updatedAt = updated.Format(time.RFC3339Nano)
	return row, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, store string, seq int, e model.Entry, row encodedEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO entries (store, uid, seq, primary_key, aliases, content, activation_depth,
		                      constant, disabled, ord, position, meta, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		store, e.UID, seq, e.PrimaryKey, row.aliases, e.Content, e.ActivationDepth,
		e.Constant, e.Disabled, e.Order, e.Position, row.meta, row.createdAt, row.updatedAt)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", e.UID, err)
	}
	return nil
}

// reindex rebuilds the search chunks of one entry.
func (s *SQLiteStore) reindex(ctx context.Context, tx *sql.Tx, store string, e model.Entry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE store = ? AND entry_uid = ?`, store, e.UID); err != nil {
		return err
	}
	for _, c := range s.chunks(e) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, store, entry_uid, seq, text) VALUES (?, ?, ?, ?, ?)`,
			c.ID, store, c.EntryUID, c.Seq, c.Text)
		if err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) chunks(e model.Entry) []model.Chunk {
	texts := chunker.Chunk(e.Content, chunker.DefaultOptions())
	out := make([]model.Chunk, 0, len(texts))
	for i, t := range texts {
		out = append(out, model.Chunk{ID: s.newID(), EntryUID: e.UID, Seq: i, Text: t})
	}
	return out
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (model.Entry, error) {
	var e model.Entry
	var aliases, meta sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&e.UID, &e.PrimaryKey, &aliases, &e.Content, &e.ActivationDepth,
		&e.Constant, &e.Disabled, &e.Order, &e.Position, &meta, &createdAt, &updatedAt,
	)
	if err != nil {
		return e, err
	}

	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if aliases.Valid {
		if err := json.Unmarshal([]byte(aliases.String), &e.Aliases); err != nil {
			return e, fmt.Errorf("decode aliases of %s: %w", e.UID, err)
		}
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &e.Meta); err != nil {
			return e, fmt.Errorf("decode meta of %s: %w", e.UID, err)
		}
	}
	return e, nil
}
