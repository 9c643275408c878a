// Package jsonfile implements store.Store on a single JSON document,
// rewritten atomically (temp file + rename) on every mutation.
//
// This is the default backing store: the whole deployment state for a home
// installation fits comfortably in one file, and atomic rename keeps the
// document consistent across crashes.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/argushq/argus/internal/store"
)

// maxLogEntries bounds the persisted log; older entries are dropped first.
const maxLogEntries = 2000

// Compile-time assertion that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is a JSON-file-backed store.Store. Safe for concurrent use.
type Store struct {
	path string

	mu    sync.Mutex
	state store.State
	sid   *shortid.Shortid
}

// Open loads (or initialises) the JSON document at path.
func Open(path string) (*Store, error) {
	sid, err := shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		return nil, fmt.Errorf("jsonfile: init id generator: %w", err)
	}

	s := &Store{path: path, sid: sid}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh install: start empty, create on first write.
	case err != nil:
		return nil, fmt.Errorf("jsonfile: read %q: %w", path, err)
	default:
		if err := json.Unmarshal(data, &s.state); err != nil {
			return nil, fmt.Errorf("jsonfile: parse %q: %w", path, err)
		}
	}
	return s, nil
}

// persistLocked writes the current state atomically. Must be called with
// s.mu held.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".argus-state-*")
	if err != nil {
		return fmt.Errorf("jsonfile: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: rename temp file: %w", err)
	}
	return nil
}

// Snapshot implements store.Store.
func (s *Store) Snapshot(_ context.Context) (store.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := store.State{
		Cameras: append([]store.Camera(nil), s.state.Cameras...),
		People:  make([]store.Person, len(s.state.People)),
		Logs:    append([]store.LogEntry(nil), s.state.Logs...),
	}
	for i, p := range s.state.People {
		p.Embedding = append([]float64(nil), p.Embedding...)
		out.People[i] = p
	}
	return out, nil
}

// UpsertCamera implements store.Store.
func (s *Store) UpsertCamera(_ context.Context, cam store.Camera) error {
	if cam.ID == "" {
		return errors.New("jsonfile: camera id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.state.Cameras {
		if s.state.Cameras[i].ID == cam.ID {
			s.state.Cameras[i] = cam
			replaced = true
			break
		}
	}
	if !replaced {
		s.state.Cameras = append(s.state.Cameras, cam)
	}
	return s.persistLocked()
}

// AppendLog implements store.Store.
func (s *Store) AppendLog(_ context.Context, entry store.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		id, err := s.sid.Generate()
		if err != nil {
			return fmt.Errorf("jsonfile: generate log id: %w", err)
		}
		entry.ID = id
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = store.LevelInfo
	}

	s.state.Logs = append(s.state.Logs, entry)
	if n := len(s.state.Logs); n > maxLogEntries {
		s.state.Logs = append([]store.LogEntry(nil), s.state.Logs[n-maxLogEntries:]...)
	}
	return s.persistLocked()
}

// AddPerson implements store.Store.
func (s *Store) AddPerson(_ context.Context, p store.Person) (store.Person, error) {
	if p.Name == "" {
		return store.Person{}, errors.New("jsonfile: person name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		id, err := s.sid.Generate()
		if err != nil {
			return store.Person{}, fmt.Errorf("jsonfile: generate person id: %w", err)
		}
		p.ID = id
	}
	p.Embedding = append([]float64(nil), p.Embedding...)
	s.state.People = append(s.state.People, p)

	if err := s.persistLocked(); err != nil {
		return store.Person{}, err
	}
	return p, nil
}

// UpdatePersonEmbedding implements store.Store.
func (s *Store) UpdatePersonEmbedding(_ context.Context, personID string, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.People {
		if s.state.People[i].ID == personID {
			s.state.People[i].Embedding = append([]float64(nil), embedding...)
			return s.persistLocked()
		}
	}
	return fmt.Errorf("jsonfile: person %q not found", personID)
}

// UpdateLastSeen implements store.Store.
func (s *Store) UpdateLastSeen(_ context.Context, personID, cameraID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.People {
		if s.state.People[i].ID == personID {
			s.state.People[i].LastSeenCamera = cameraID
			s.state.People[i].LastSeenAt = at
			return s.persistLocked()
		}
	}
	return fmt.Errorf("jsonfile: person %q not found", personID)
}
