package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store persisted in a SQLite database, so sessions survive
// a restart of the gateway. Session rows hold the CBOR encoding of Session.
type SQLiteStore struct {
	db *sql.DB
	// mu serializes read-modify-write cycles of Update.
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and writes ordered.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	if err := initTable(db, "session", `
		CREATE TABLE IF NOT EXISTS session (
			id          TEXT PRIMARY KEY,
			data        BLOB NOT NULL,
			updated     INTEGER NOT NULL
		);`,
	); err != nil {
		return err
	}

	if err := initTable(db, "local_storage", `
		CREATE TABLE IF NOT EXISTS local_storage (
			session_id  TEXT NOT NULL,
			key         TEXT NOT NULL,
			value       TEXT NOT NULL,
			PRIMARY KEY (session_id, key)
		);`,
	); err != nil {
		return err
	}

	return nil
}

func initTable(db *sql.DB, name string, sql string) error {
	if _, err := db.Exec(sql); err != nil {
		return fmt.Errorf("failed to init '%s' table schema: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNoSessionID
	}
	return s.load(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) load(ctx context.Context, q queryer, id string) (*Session, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `
		SELECT data
		FROM session
		WHERE id=?1;`,
		id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return &Session{ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't scan session: %w", err)
	}

	var sess Session
	if err := cbor.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("couldn't decode session: %w", err)
	}
	sess.ID = id
	return &sess, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*Session) error) error {
	if id == "" {
		return ErrNoSessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("couldn't begin session update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.load(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.ID = id

	data, err := cbor.Marshal(sess)
	if err != nil {
		return fmt.Errorf("couldn't encode session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session (id, data, updated)
		VALUES (?1, ?2, ?3)
		ON CONFLICT (id) DO UPDATE SET data=excluded.data, updated=excluded.updated;`,
		id,
		data,
		time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("couldn't upsert session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id=?1;`, id); err != nil {
		return fmt.Errorf("couldn't delete from session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM local_storage WHERE session_id=?1;`, id); err != nil {
		return fmt.Errorf("couldn't delete from local_storage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id, key string) (string, bool, error) {
	if id == "" {
		return "", false, ErrNoSessionID
	}
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM local_storage
		WHERE session_id=?1 AND key=?2;`,
		id,
		key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("couldn't scan local_storage: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetItem(ctx context.Context, id, key, value string) error {
	if id == "" {
		return ErrNoSessionID
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO local_storage (session_id, key, value)
		VALUES (?1, ?2, ?3)
		ON CONFLICT (session_id, key) DO UPDATE SET value=excluded.value;`,
		id,
		key,
		value,
	); err != nil {
		return fmt.Errorf("couldn't insert into local_storage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveItem(ctx context.Context, id, key string) error {
	if id == "" {
		return ErrNoSessionID
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM local_storage
		WHERE session_id=?1 AND key=?2;`,
		id,
		key,
	); err != nil {
		return fmt.Errorf("couldn't delete from local_storage: %w", err)
	}
	return nil
}

// Prune deletes sessions not updated since before, with their items.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM local_storage
		WHERE session_id IN (SELECT id FROM session WHERE updated < ?1);`,
		before.Unix(),
	); err != nil {
		return 0, fmt.Errorf("couldn't prune local_storage: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE updated < ?1;`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("couldn't prune session: %w", err)
	}
	return result.RowsAffected()
}

var _ Store = (*SQLiteStore)(nil)
