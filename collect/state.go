package collect

import (
	"database/sql"
	"time"

	"github.com/corvid-labs/granary/errors"
)

// StateStore persists per-source conditional-fetch validators so repeat
// collections can use If-None-Match / If-Modified-Since.
type StateStore struct {
	db *sql.DB
}

// NewStateStore creates a conditional-state store.
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// Get returns the stored validators for a source. An unknown source
// returns the zero state, which requests an unconditional fetch.
func (s *StateStore) Get(source string) (ConditionalState, error) {
	var state ConditionalState
	err := s.db.QueryRow(
		`SELECT etag, last_modified FROM source_state WHERE source = ?`, source,
	).Scan(&state.ETag, &state.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return ConditionalState{}, nil
	}
	if err != nil {
		return ConditionalState{}, errors.Wrapf(err, "failed to load state for %s", source)
	}
	return state, nil
}

// Save upserts the validators for a source.
func (s *StateStore) Save(source string, state ConditionalState) error {
	_, err := s.db.Exec(`
		INSERT INTO source_state (source, etag, last_modified, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			updated_at = excluded.updated_at
	`, source, state.ETag, state.LastModified, time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "failed to save state for %s", source)
	}
	return nil
}
