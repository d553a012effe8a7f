// Package session keeps negotiation snapshots in an in-process cache layered
// over durable storage.
package session

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ashureev/doq-mediator/internal/negotiation"
	"github.com/ashureev/doq-mediator/internal/store"
)

const defaultCacheSize = 1024

// Store is the snapshot store. The cache holds encoded snapshots, so every
// Get returns an independent State and a turn that fails midway can simply
// drop its copy.
//
// The cache may be ahead of the durable store between the two writes of
// Save; the last writer within a session wins.
type Store struct {
	repo   store.SnapshotRepository
	cache  *lru.Cache[string, []byte]
	logger *slog.Logger
}

// NewStore creates a snapshot store with an LRU cache of cacheSize entries.
func NewStore(repo store.SnapshotRepository, cacheSize int, logger *slog.Logger) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, cache: cache, logger: logger}, nil
}

// Get returns the session state, or nil if the session is unknown.
func (s *Store) Get(ctx context.Context, sid string) (*negotiation.State, error) {
	if data, ok := s.cache.Get(sid); ok {
		return negotiation.Decode(data)
	}

	data, err := s.repo.GetSnapshot(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", sid, err)
	}
	if data == nil {
		return nil, nil
	}
	st, err := negotiation.Decode(data)
	if err != nil {
		return nil, err
	}
	s.cache.Add(sid, data)
	return st, nil
}

// GetOrCreate returns the session state, creating a fresh one for an unseen
// session id. The new state is not saved until Save is called.
func (s *Store) GetOrCreate(ctx context.Context, sid string) (*negotiation.State, bool, error) {
	st, err := s.Get(ctx, sid)
	if err != nil {
		return nil, false, err
	}
	if st != nil {
		return st, false, nil
	}
	return negotiation.New(sid), true, nil
}

// Save writes the state to the cache and then to durable storage.
func (s *Store) Save(ctx context.Context, st *negotiation.State) error {
	data, err := negotiation.Encode(st)
	if err != nil {
		return err
	}
	s.cache.Add(st.SID, data)
	if err := s.repo.PutSnapshot(ctx, st.SID, st.CurrentStep.String(), data); err != nil {
		return fmt.Errorf("save snapshot %s: %w", st.SID, err)
	}
	return nil
}

// Delete removes the session from both locations.
func (s *Store) Delete(ctx context.Context, sid string) error {
	s.cache.Remove(sid)
	if err := s.repo.DeleteSnapshot(ctx, sid); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", sid, err)
	}
	return nil
}

// Evict drops a session from the cache only.
func (s *Store) Evict(sid string) {
	s.cache.Remove(sid)
}

// ListAll returns every known session. Durable snapshots are merged with the
// cache, which wins when both hold a session. Corrupt snapshots are skipped.
// It is meant for administrative reads, not the turn path.
func (s *Store) ListAll(ctx context.Context) (map[string]*negotiation.State, error) {
	durable, err := s.repo.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	for _, sid := range s.cache.Keys() {
		if data, ok := s.cache.Peek(sid); ok {
			durable[sid] = data
		}
	}

	out := make(map[string]*negotiation.State, len(durable))
	for sid, data := range durable {
		st, err := negotiation.Decode(data)
		if err != nil {
			s.logger.Warn("Skipping corrupt snapshot", "session_id", sid, "error", err)
			continue
		}
		out[sid] = st
	}
	return out, nil
}
