package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voyagen/lineup/internal/journal"
)

var (
	// ErrSavePointNotFound is returned for unknown save point ids.
	ErrSavePointNotFound = errors.New("save point not found")
	// ErrSavePointDiscarded is returned when the history a save point marks was
	// dropped by staging after an undo.
	ErrSavePointDiscarded = errors.New("save point history was discarded")
)

// SavePoint is a named journal position.
type SavePoint struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Cursor    int       `json:"cursor"`
	BatchID   string    `json:"batch_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSavePoint marks the current position. An empty name gets "Save point N".
// Save points cannot be created while a batch is open.
func (s *Session) CreateSavePoint(name string) (SavePoint, error) {
	if err := s.lock(); err != nil {
		return SavePoint{}, err
	}
	defer s.mu.Unlock()

	if s.journal.InBatch() {
		return SavePoint{}, journal.ErrBatchOpen
	}
	if name == "" {
		name = fmt.Sprintf("Save point %d", len(s.savepoint)+1)
	}
	sp := SavePoint{
		ID:        uuid.NewString(),
		Name:      name,
		Cursor:    s.journal.Cursor(),
		BatchID:   s.journal.BatchIDAt(s.journal.Cursor()),
		CreatedAt: s.opts.Now(),
	}
	s.savepoint = append(s.savepoint, sp)
	return sp, nil
}

// SavePoints lists save points oldest first.
func (s *Session) SavePoints() ([]SavePoint, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return append([]SavePoint(nil), s.savepoint...), nil
}

// RevertTo moves the journal to a save point, undoing or redoing as needed.
func (s *Session) RevertTo(id string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.journal.InBatch() {
		return journal.ErrBatchOpen
	}
	sp, ok := s.findSavePointLocked(id)
	if !ok {
		return fmt.Errorf("save point %s: %w", id, ErrSavePointNotFound)
	}
	if sp.Cursor > s.journal.Len() || s.journal.BatchIDAt(sp.Cursor) != sp.BatchID {
		return fmt.Errorf("save point %q: %w", sp.Name, ErrSavePointDiscarded)
	}
	if err := s.journal.Seek(sp.Cursor); err != nil {
		return err
	}
	s.rebuildLocked()
	return nil
}

// DeleteSavePoint removes a save point. The journal is unaffected.
func (s *Session) DeleteSavePoint(id string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	for i, sp := range s.savepoint {
		if sp.ID == id {
			s.savepoint = append(s.savepoint[:i], s.savepoint[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("save point %s: %w", id, ErrSavePointNotFound)
}

func (s *Session) findSavePointLocked(id string) (SavePoint, bool) {
	for _, sp := range s.savepoint {
		if sp.ID == id {
			return sp, true
		}
	}
	return SavePoint{}, false
}
