package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	redisx "archagent/internal/redis"
)

// Persisted state keys. Values are opaque JSON blobs versioned informally by
// key name.
const (
	KeyMessages        = "chat_messages"
	KeyRepositories    = "analyzed_repositories"
	KeySessionID       = "current_session_id"
	KeyActiveRepo      = "active_repository"
	KeyLastSaved       = "last_saved_at"
	KeySessionMetadata = "session_metadata"
)

const mirrorPrefix = "archagent:state:"

// Store persists chat state as JSON blobs under string keys. All operations
// are synchronous and best-effort: storage failures are logged and never
// surfaced to callers. Load leaves dest untouched on a miss so the caller
// keeps its default.
type Store struct {
	db             *sql.DB
	mirror         *redisx.Client
	mirrorTTL      time.Duration
	indicatorDelay time.Duration

	mu         sync.Mutex
	saving     bool
	lastSaved  time.Time
	resetTimer *time.Timer
}

// New wraps an opened database. indicatorDelay keeps the Saving flag up for
// a short moment after each write so a saving indicator is visible; it has
// no correctness role and may be zero.
func New(db *sql.DB, indicatorDelay time.Duration) *Store {
	return &Store{db: db, indicatorDelay: indicatorDelay}
}

// WithMirror additionally publishes every saved blob to redis so sidecar
// processes can observe live state. Mirror failures are logged, never fatal.
func (s *Store) WithMirror(client *redisx.Client, ttl time.Duration) *Store {
	s.mirror = client
	s.mirrorTTL = ttl
	return s
}

// Save writes the JSON encoding of v under key.
func (s *Store) Save(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("storage: encode %s: %v", key, err)
		return
	}
	now := time.Now().UTC()
	if err := s.upsert(key, string(raw), now); err != nil {
		log.Printf("storage: save %s: %v", key, err)
		return
	}
	if key != KeyLastSaved {
		if stamp, err := json.Marshal(now); err == nil {
			if err := s.upsert(KeyLastSaved, string(stamp), now); err != nil {
				log.Printf("storage: save %s: %v", KeyLastSaved, err)
			}
		}
	}
	s.mirrorSet(key, raw)
	s.markSaved(now)
}

// Load decodes the stored value for key into dest, reporting whether a value
// was found and decoded.
func (s *Store) Load(key string, dest any) bool {
	var raw string
	err := s.db.QueryRow(`SELECT state_value FROM chat_state WHERE state_key = ?`, key).Scan(&raw)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("storage: load %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		log.Printf("storage: decode %s: %v", key, err)
		return false
	}
	return true
}

// Remove deletes the stored value for key.
func (s *Store) Remove(key string) {
	if _, err := s.db.Exec(`DELETE FROM chat_state WHERE state_key = ?`, key); err != nil {
		log.Printf("storage: remove %s: %v", key, err)
	}
	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.mirror.Del(ctx, mirrorPrefix+key); err != nil {
			log.Printf("storage: mirror remove %s: %v", key, err)
		}
	}
}

// LastSaved returns the time of the most recent successful save.
func (s *Store) LastSaved() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved
}

// Saving reports whether the saving indicator is currently up.
func (s *Store) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

func (s *Store) upsert(key, value string, now time.Time) error {
	// REPLACE is understood by both sqlite and mysql.
	_, err := s.db.Exec(
		`REPLACE INTO chat_state (state_key, state_value, updated_at) VALUES (?, ?, ?)`,
		key, value, now,
	)
	return err
}

func (s *Store) mirrorSet(key string, raw []byte) {
	if s.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.mirror.Set(ctx, mirrorPrefix+key, string(raw), s.mirrorTTL); err != nil {
		log.Printf("storage: mirror save %s: %v", key, err)
	}
}

func (s *Store) markSaved(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSaved = now
	if s.indicatorDelay <= 0 {
		s.saving = false
		return
	}
	s.saving = true
	if s.resetTimer != nil {
		s.resetTimer.Stop()
	}
	s.resetTimer = time.AfterFunc(s.indicatorDelay, func() {
		s.mu.Lock()
		s.saving = false
		s.mu.Unlock()
	})
}
