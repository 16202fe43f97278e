// Package session is the edit session over a catalog: a working copy, the
// journal of staged batches, save points and the commit handshake.
//
// A Session is safe for concurrent use. Every operation either applies
// completely or is rejected and leaves the session unchanged.
package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voyagen/lineup/internal/journal"
	"github.com/voyagen/lineup/internal/models"
	"github.com/voyagen/lineup/internal/numbering"
	"github.com/voyagen/lineup/internal/workcopy"
)

var (
	// ErrDiscarded is returned by every call on a discarded session.
	ErrDiscarded = errors.New("session discarded")
	// ErrCommitInFlight is returned by Commit while another commit is running.
	ErrCommitInFlight = errors.New("a commit is already in flight")
	// ErrNothingToUndo is returned by Undo at the start of history.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrNothingToRedo is returned by Redo at the end of history.
	ErrNothingToRedo = errors.New("nothing to redo")
	// ErrChannelNotFound is returned for ids that are not visible in the working copy.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrGroupNotFound is returned for unknown group ids.
	ErrGroupNotFound = errors.New("group not found")
)

// Options configures a session.
type Options struct {
	// AutoRename rewrites number tokens in display names when channels are renumbered.
	AutoRename bool
	// Now is the clock used for save point timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Session owns the editing state for one catalog snapshot.
type Session struct {
	mu sync.Mutex

	id        string
	wc        *workcopy.WorkingCopy
	journal   *journal.Journal
	savepoint []SavePoint
	opts      Options

	nextProvisional int64
	inFlight        bool
	discarded       bool
	createdAt       time.Time
	touchedAt       time.Time
}

// New opens a session over base.
func New(base models.Catalog, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	now := opts.Now()
	return &Session{
		id:              uuid.NewString(),
		wc:              workcopy.New(base),
		journal:         journal.New(),
		opts:            opts,
		nextProvisional: -1,
		createdAt:       now,
		touchedAt:       now,
	}
}

// ID is the session identifier.
func (s *Session) ID() string { return s.id }

// TouchedAt is the last time the session was read or modified.
func (s *Session) TouchedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchedAt
}

// CreatedAt is when the session was opened.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// lock acquires the session and refuses discarded sessions. Callers must unlock.
func (s *Session) lock() error {
	s.mu.Lock()
	if s.discarded {
		s.mu.Unlock()
		return ErrDiscarded
	}
	s.touchedAt = s.opts.Now()
	return nil
}

func (s *Session) engineOpts() numbering.Options {
	return numbering.Options{AutoRename: s.opts.AutoRename}
}

// Channel returns the working copy's view of one channel.
func (s *Session) Channel(id int64) (models.Channel, error) {
	if err := s.lock(); err != nil {
		return models.Channel{}, err
	}
	defer s.mu.Unlock()
	ch, ok := s.wc.Get(id)
	if !ok {
		return models.Channel{}, fmt.Errorf("channel %d: %w", id, ErrChannelNotFound)
	}
	return ch, nil
}

// Channels lists the working copy's channels matching f.
func (s *Session) Channels(f workcopy.Filter) ([]models.Channel, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.wc.List(f), nil
}

// Groups lists groups with channel counts from the working copy.
func (s *Session) Groups() ([]models.Group, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.wc.Groups(), nil
}

// Catalog returns the working copy as a catalog snapshot.
func (s *Session) Catalog() (models.Catalog, error) {
	if err := s.lock(); err != nil {
		return models.Catalog{}, err
	}
	defer s.mu.Unlock()
	return models.Catalog{Channels: s.wc.List(workcopy.Filter{}), Groups: s.wc.Groups()}, nil
}

// AddGroup makes a group the store just created visible to this session.
// Groups are persisted on creation and are not part of the journal.
func (s *Session) AddGroup(g models.Group) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.wc.AddGroup(g)
	return nil
}

// StartBatch opens an explicit batch: everything staged until EndBatch is one
// undo step.
func (s *Session) StartBatch(description string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.journal.StartBatch(description)
}

// EndBatch closes the open batch after checking number uniqueness. A batch that
// would leave duplicate numbers is aborted and a *ConflictError returned.
func (s *Session) EndBatch() (journal.Batch, error) {
	if err := s.lock(); err != nil {
		return journal.Batch{}, err
	}
	defer s.mu.Unlock()
	return s.endBatchLocked()
}

// AbortBatch drops the open batch and its effects.
func (s *Session) AbortBatch() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, err := s.journal.AbortBatch(); err != nil {
		return err
	}
	s.rebuildLocked()
	return nil
}

// InBatch reports whether an explicit batch is open.
func (s *Session) InBatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journal.InBatch()
}

func (s *Session) endBatchLocked() (journal.Batch, error) {
	if !s.journal.InBatch() {
		return journal.Batch{}, journal.ErrNoBatch
	}
	if err := s.wc.CheckUnique(); err != nil {
		b, _ := s.journal.AbortBatch()
		s.rebuildLocked()
		log.Printf("session %s: batch %q rejected: %v", s.id, b.Description, err)
		var v *numbering.InvariantViolation
		if errors.As(err, &v) {
			// Engine results are verified before staging; this one is the caller's.
			return journal.Batch{}, &numbering.ConflictError{Number: v.Number, ChannelIDs: v.ChannelIDs}
		}
		return journal.Batch{}, err
	}
	b, _, err := s.journal.EndBatch()
	return b, err
}

// stageLocked applies ops in one batch. Without an open batch they form a new
// batch named description; inside one they join it. Any failure aborts the
// batch and restores the state before it.
func (s *Session) stageLocked(description string, ops []models.Operation) (batch journal.Batch, err error) {
	implicit := !s.journal.InBatch()
	if implicit {
		if err := s.journal.StartBatch(description); err != nil {
			return journal.Batch{}, err
		}
	}
	for _, op := range ops {
		if op.Description == "" {
			op.Description = description
		}
		if err := s.wc.Apply(op); err != nil {
			s.journal.AbortBatch()
			s.rebuildLocked()
			return journal.Batch{}, err
		}
		if _, err := s.journal.Stage(op); err != nil {
			s.journal.AbortBatch()
			s.rebuildLocked()
			return journal.Batch{}, err
		}
	}
	if !implicit {
		return journal.Batch{}, nil
	}
	return s.endBatchLocked()
}

// Stage applies raw operations as one batch (or into the open batch). Creates
// without a channel id get the next provisional id. Field values are checked
// like CreateChannel and UpdateChannel check them; uniqueness is checked when
// the batch ends, like every other edit.
func (s *Session) Stage(description string, ops ...models.Operation) (journal.Batch, error) {
	if err := s.lock(); err != nil {
		return journal.Batch{}, err
	}
	defer s.mu.Unlock()
	if len(ops) == 0 {
		return journal.Batch{}, &numbering.ValidationError{Field: "operations", Reason: "nothing to stage"}
	}
	next := s.nextProvisional
	staged := make([]models.Operation, len(ops))
	for i, op := range ops {
		if err := s.checkOpLocked(op); err != nil {
			return journal.Batch{}, fmt.Errorf("operation %d: %w", i, err)
		}
		op = op.Clone()
		if op.Kind == models.OpCreateChannel && op.Channel != nil && op.Channel.ID == 0 {
			op.Channel.ID = next
			op.ChannelID = next
			next--
		}
		staged[i] = op
	}
	b, err := s.stageLocked(description, staged)
	if err != nil {
		return journal.Batch{}, err
	}
	s.nextProvisional = next
	return b, nil
}

// rebuildLocked replays the applied batches and the open batch onto the base.
func (s *Session) rebuildLocked() {
	s.wc.Reset()
	ops := append(s.journal.Applied(), s.journal.Pending()...)
	for _, op := range ops {
		if err := s.wc.Apply(op); err != nil {
			log.Printf("session %s: replay %s op %s: %v", s.id, op.Kind, op.ID, err)
		}
	}
}

// Undo steps back one batch.
func (s *Session) Undo() (journal.Batch, error) {
	if err := s.lock(); err != nil {
		return journal.Batch{}, err
	}
	defer s.mu.Unlock()
	if s.journal.InBatch() {
		return journal.Batch{}, journal.ErrBatchOpen
	}
	b, ok := s.journal.Undo()
	if !ok {
		return journal.Batch{}, ErrNothingToUndo
	}
	s.rebuildLocked()
	return b, nil
}

// Redo reapplies the next undone batch.
func (s *Session) Redo() (journal.Batch, error) {
	if err := s.lock(); err != nil {
		return journal.Batch{}, err
	}
	defer s.mu.Unlock()
	if s.journal.InBatch() {
		return journal.Batch{}, journal.ErrBatchOpen
	}
	b, ok := s.journal.Redo()
	if !ok {
		return journal.Batch{}, ErrNothingToRedo
	}
	s.rebuildLocked()
	return b, nil
}

// HistoryEntry describes one batch for display.
type HistoryEntry struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Operations  int           `json:"operations"`
	State       journal.State `json:"state"`
}

// History lists reachable batches oldest first, then discarded ones.
func (s *Session) History() ([]HistoryEntry, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []HistoryEntry
	for _, b := range s.journal.Batches() {
		out = append(out, HistoryEntry{ID: b.ID, Description: b.Description, Operations: len(b.Operations), State: s.journal.State(b.ID)})
	}
	for _, b := range s.journal.Discarded() {
		out = append(out, HistoryEntry{ID: b.ID, Description: b.Description, Operations: len(b.Operations), State: journal.StateDiscarded})
	}
	return out, nil
}

// CanUndo reports whether Undo would succeed.
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.discarded && s.journal.CanUndo()
}

// CanRedo reports whether Redo would succeed.
func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.discarded && s.journal.CanRedo()
}

// Discard drops all staged work. The session refuses every later call.
func (s *Session) Discard() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrCommitInFlight
	}
	s.discarded = true
	s.journal = journal.New()
	s.savepoint = nil
	s.wc.Reset()
	log.Printf("session %s: discarded", s.id)
	return nil
}
