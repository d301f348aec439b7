// Package stamps persists the stamps a player has earned as a single JSON
// document per player.
package stamps

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/playperu/stamprally/internal/stamprally"
)

// Document is the persisted shape:
//
//	{"stamps": {"<spotId>": {"at": <epoch ms>}}}
type Document struct {
	Stamps map[string]Entry `json:"stamps"`
}

type Entry struct {
	At int64 `json:"at"`
}

// Backend loads and saves raw documents by key. Load returns nil data and
// a nil error when no document exists.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// Store is one player's stamp document. It is not safe for concurrent use.
type Store struct {
	backend Backend
	key     string
	doc     Document
	now     func() time.Time
}

// Open loads the document stored under key. A missing or unparsable
// document yields an empty store; only backend I/O errors are returned.
func Open(ctx context.Context, backend Backend, key string, logger *slog.Logger) (*Store, error) {
	data, err := backend.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading stamp document %q: %w", key, err)
	}

	s := &Store{
		backend: backend,
		key:     key,
		doc:     Document{Stamps: map[string]Entry{}},
		now:     time.Now,
	}
	if len(data) == 0 {
		return s, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("stamp document corrupted, starting empty", "key", key, "error", err)
		return s, nil
	}
	if doc.Stamps != nil {
		s.doc = doc
	}
	return s, nil
}

func (s *Store) Get(spotID string) (stamprally.StampRecord, bool) {
	e, ok := s.doc.Stamps[spotID]
	if !ok {
		return stamprally.StampRecord{}, false
	}
	return stamprally.StampRecord{SpotID: spotID, AcquiredAtMs: e.At}, true
}

// Put records a stamp for spotID and persists the whole document before
// returning. An existing record is returned unchanged.
func (s *Store) Put(ctx context.Context, spotID string) (stamprally.StampRecord, error) {
	if rec, ok := s.Get(spotID); ok {
		return rec, nil
	}

	e := Entry{At: s.now().UnixMilli()}
	s.doc.Stamps[spotID] = e
	if err := s.flush(ctx); err != nil {
		delete(s.doc.Stamps, spotID)
		return stamprally.StampRecord{}, err
	}
	return stamprally.StampRecord{SpotID: spotID, AcquiredAtMs: e.At}, nil
}

// List returns the stamped spot ids in sorted order.
func (s *Store) List() []string {
	ids := make([]string, 0, len(s.doc.Stamps))
	for id := range s.doc.Stamps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Store) flush(ctx context.Context) error {
	data, err := json.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("encoding stamp document: %w", err)
	}
	if err := s.backend.Save(ctx, s.key, data); err != nil {
		return fmt.Errorf("saving stamp document %q: %w", s.key, err)
	}
	return nil
}
