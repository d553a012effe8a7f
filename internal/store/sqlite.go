package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to avoid SQLITE_BUSY under WAL.
	retry   shared.RetryPolicy
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS snapshots (
		sid TEXT PRIMARY KEY,
		current_step TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_updated ON snapshots(updated_at);

	CREATE TABLE IF NOT EXISTS chat_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stream_key TEXT NOT NULL,
		participant TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_log_stream ON chat_log(stream_key, id);

	CREATE TABLE IF NOT EXISTS sessions (
		sid TEXT PRIMARY KEY,
		user_id TEXT,
		client_name TEXT,
		provider_name TEXT,
		contract_date TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// write runs fn under the write mutex, retrying on SQLite conflicts.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return shared.RetryOnConflict(ctx, op, s.retry, fn)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored snapshot, or nil if absent.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, sid string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE sid = ?`, sid).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot row: %w", err)
	}
	return []byte(data), nil
}

// PutSnapshot creates or replaces a snapshot.
func (s *SQLiteStore) PutSnapshot(ctx context.Context, sid, step string, data []byte) error {
	query := `
	INSERT INTO snapshots (sid, current_step, data, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(sid) DO UPDATE SET
		current_step = excluded.current_step,
		data = excluded.data,
		updated_at = excluded.updated_at`

	now := time.Now().Unix()
	err := s.write(ctx, "put_snapshot", func() error {
		_, err := s.db.ExecContext(ctx, query, sid, step, string(data), now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// DeleteSnapshot removes a snapshot.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, sid string) error {
	err := s.write(ctx, "delete_snapshot", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE sid = ?`, sid)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns every snapshot keyed by session id.
func (s *SQLiteStore) ListSnapshots(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sid, data FROM snapshots`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close snapshot rows", "error", closeErr)
		}
	}()

	out := make(map[string][]byte)
	for rows.Next() {
		var sid, data string
		if err := rows.Scan(&sid, &data); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out[sid] = []byte(data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Append stores a record and returns its id.
func (s *SQLiteStore) Append(ctx context.Context, streamKey string, rec domain.ChatRecord) (string, error) {
	query := `INSERT INTO chat_log (stream_key, participant, body, created_at) VALUES (?, ?, ?, ?)`

	var id int64
	err := s.write(ctx, "append", func() error {
		res, err := s.db.ExecContext(ctx, query, streamKey, rec.Participant, rec.Body, time.Now().Unix())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("append chat record: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// Range returns the newest count records in chronological order.
func (s *SQLiteStore) Range(ctx context.Context, streamKey string, count int) ([]domain.ChatRecord, error) {
	query := `SELECT id, participant, body FROM chat_log WHERE stream_key = ? ORDER BY id DESC`
	args := []any{streamKey}
	if count > 0 {
		query += ` LIMIT ?`
		args = append(args, count)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat log: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close chat log rows", "error", closeErr)
		}
	}()

	var records []domain.ChatRecord
	for rows.Next() {
		var id int64
		var rec domain.ChatRecord
		if err := rows.Scan(&id, &rec.Participant, &rec.Body); err != nil {
			return nil, fmt.Errorf("scan chat record: %w", err)
		}
		rec.ID = strconv.FormatInt(id, 10)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat log: %w", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// GetSessionInfo returns the directory entry, or nil if absent.
func (s *SQLiteStore) GetSessionInfo(ctx context.Context, sid string) (*domain.SessionInfo, error) {
	query := `
		SELECT sid, user_id, client_name, provider_name, contract_date, created_at, updated_at
		FROM sessions WHERE sid = ?`

	var info domain.SessionInfo
	var userID, clientName, providerName, contractDate sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, sid).Scan(
		&info.SID, &userID, &clientName, &providerName, &contractDate, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	info.UserID = userID.String
	info.ClientName = clientName.String
	info.ProviderName = providerName.String
	info.ContractDate = contractDate.String
	info.CreatedAt = time.Unix(createdAt, 0)
	info.UpdatedAt = time.Unix(updatedAt, 0)
	return &info, nil
}

// UpsertSessionInfo creates an entry or merges non-empty fields into it.
func (s *SQLiteStore) UpsertSessionInfo(ctx context.Context, info *domain.SessionInfo) error {
	query := `
	INSERT INTO sessions (sid, user_id, client_name, provider_name, contract_date, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(sid) DO UPDATE SET
		user_id = COALESCE(excluded.user_id, sessions.user_id),
		client_name = COALESCE(excluded.client_name, sessions.client_name),
		provider_name = COALESCE(excluded.provider_name, sessions.provider_name),
		contract_date = COALESCE(excluded.contract_date, sessions.contract_date),
		updated_at = excluded.updated_at`

	createdAt := info.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	now := time.Now().Unix()

	err := s.write(ctx, "upsert_session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			info.SID, nullable(info.UserID), nullable(info.ClientName),
			nullable(info.ProviderName), nullable(info.ContractDate),
			createdAt.Unix(), now,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ExpiredSessions lists sessions whose snapshot and directory entry were
// both last touched before now-ttl.
func (s *SQLiteStore) ExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT sid FROM (
			SELECT sid, updated_at FROM snapshots
			UNION ALL
			SELECT sid, updated_at FROM sessions
		) GROUP BY sid HAVING MAX(updated_at) < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var sids []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		sids = append(sids, sid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return sids, nil
}

// DeleteSession removes a session's snapshot, directory entry and log.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sid string) error {
	err := s.write(ctx, "delete_session", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, stmt := range []struct {
			query string
			arg   string
		}{
			{`DELETE FROM snapshots WHERE sid = ?`, sid},
			{`DELETE FROM sessions WHERE sid = ?`, sid},
			{`DELETE FROM chat_log WHERE stream_key = ?`, StreamKey(sid)},
		} {
			if _, err := tx.ExecContext(ctx, stmt.query, stmt.arg); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sid, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
