// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/doq-mediator/internal/domain"
)

// StreamKey returns the chat log key of a session.
func StreamKey(sid string) string {
	return "chat:session:" + sid
}

// SnapshotRepository persists encoded negotiation snapshots.
type SnapshotRepository interface {
	// GetSnapshot returns the stored snapshot, or nil if absent.
	GetSnapshot(ctx context.Context, sid string) ([]byte, error)

	// PutSnapshot creates or replaces a snapshot.
	PutSnapshot(ctx context.Context, sid, step string, data []byte) error

	// DeleteSnapshot removes a snapshot. Deleting an absent snapshot is not an error.
	DeleteSnapshot(ctx context.Context, sid string) error

	// ListSnapshots returns every snapshot keyed by session id.
	ListSnapshots(ctx context.Context) (map[string][]byte, error)
}

// ChatLog is the append-only message log.
type ChatLog interface {
	// Append stores a record and returns its id. Records are never modified.
	Append(ctx context.Context, streamKey string, rec domain.ChatRecord) (string, error)

	// Range returns the newest count records in chronological order.
	// A non-positive count returns the whole stream.
	Range(ctx context.Context, streamKey string, count int) ([]domain.ChatRecord, error)
}

// Directory resolves a session id to participant identity.
type Directory interface {
	// GetSessionInfo returns the directory entry, or nil if absent.
	GetSessionInfo(ctx context.Context, sid string) (*domain.SessionInfo, error)

	// UpsertSessionInfo creates an entry or merges non-empty fields into it.
	UpsertSessionInfo(ctx context.Context, info *domain.SessionInfo) error
}

// Repository is the full persistence surface backed by one database.
type Repository interface {
	SnapshotRepository
	ChatLog
	Directory

	// ExpiredSessions lists sessions with no activity within ttl.
	ExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error)

	// DeleteSession removes a session's snapshot, directory entry and log.
	DeleteSession(ctx context.Context, sid string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
