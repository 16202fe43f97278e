// Package journal records staged operations as undoable batches.
//
// History is linear: batches before the cursor are staged, batches after it are
// undone, and closing a new batch while undone batches exist discards them.
// Nothing is ever removed from a batch once it is closed. The only rewrite is
// RemapChannel, which swaps a provisional id for the persisted one.
package journal

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/voyagen/lineup/internal/models"
)

var (
	// ErrBatchOpen is returned when an operation needs a closed journal.
	ErrBatchOpen = errors.New("a batch is open")
	// ErrNoBatch is returned by EndBatch/AbortBatch without StartBatch.
	ErrNoBatch = errors.New("no batch is open")
	// ErrOutOfRange is returned by Seek for a position outside the history.
	ErrOutOfRange = errors.New("journal position out of range")
)

// State of a batch relative to the cursor.
type State string

const (
	StateStaged    State = "staged"
	StateUndone    State = "undone"
	StateDiscarded State = "discarded"
	StateUnknown   State = "unknown"
)

// Batch is the unit undo and redo step over.
type Batch struct {
	ID           string             `json:"id"`
	Description  string             `json:"description"`
	OperationIDs []string           `json:"operation_ids"`
	Operations   []models.Operation `json:"operations"`
}

// Journal is an ordered list of batches with an undo/redo cursor.
type Journal struct {
	batches   []Batch
	discarded []Batch
	cursor    int
	open      *Batch
	ordinal   int
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{}
}

// StartBatch opens a batch; operations staged until EndBatch form one undo step.
func (j *Journal) StartBatch(description string) error {
	if j.open != nil {
		return ErrBatchOpen
	}
	j.open = &Batch{ID: uuid.NewString(), Description: description}
	return nil
}

// InBatch reports whether a batch is open.
func (j *Journal) InBatch() bool {
	return j.open != nil
}

// Stage records op and returns it with its id and ordinal assigned. Outside a
// batch, op becomes its own singleton batch.
func (j *Journal) Stage(op models.Operation) (models.Operation, error) {
	implicit := j.open == nil
	if implicit {
		if err := j.StartBatch(op.Description); err != nil {
			return models.Operation{}, err
		}
	}
	op = op.Clone()
	op.ID = uuid.NewString()
	j.ordinal++
	op.Ordinal = j.ordinal
	j.open.Operations = append(j.open.Operations, op)
	j.open.OperationIDs = append(j.open.OperationIDs, op.ID)
	if implicit {
		if _, _, err := j.EndBatch(); err != nil {
			return models.Operation{}, err
		}
	}
	return op, nil
}

// Pending returns the operations of the open batch.
func (j *Journal) Pending() []models.Operation {
	if j.open == nil {
		return nil
	}
	return append([]models.Operation(nil), j.open.Operations...)
}

// EndBatch closes the open batch. Batches after the cursor are discarded. An
// empty batch is dropped and ok is false.
func (j *Journal) EndBatch() (b Batch, ok bool, err error) {
	if j.open == nil {
		return Batch{}, false, ErrNoBatch
	}
	b = *j.open
	j.open = nil
	if len(b.Operations) == 0 {
		return Batch{}, false, nil
	}
	if j.cursor < len(j.batches) {
		j.discarded = append(j.discarded, j.batches[j.cursor:]...)
		j.batches = j.batches[:j.cursor:j.cursor]
	}
	j.batches = append(j.batches, b)
	j.cursor++
	return b, true, nil
}

// AbortBatch drops the open batch without touching history.
func (j *Journal) AbortBatch() (Batch, error) {
	if j.open == nil {
		return Batch{}, ErrNoBatch
	}
	b := *j.open
	j.open = nil
	return b, nil
}

// CanUndo reports whether Undo would move the cursor.
func (j *Journal) CanUndo() bool {
	return j.open == nil && j.cursor > 0
}

// CanRedo reports whether Redo would move the cursor.
func (j *Journal) CanRedo() bool {
	return j.open == nil && j.cursor < len(j.batches)
}

// Undo moves the cursor back one batch and returns the batch undone.
func (j *Journal) Undo() (Batch, bool) {
	if !j.CanUndo() {
		return Batch{}, false
	}
	j.cursor--
	return j.batches[j.cursor], true
}

// Redo moves the cursor forward one batch and returns the batch reapplied.
func (j *Journal) Redo() (Batch, bool) {
	if !j.CanRedo() {
		return Batch{}, false
	}
	b := j.batches[j.cursor]
	j.cursor++
	return b, true
}

// Seek moves the cursor to pos, the number of applied batches.
func (j *Journal) Seek(pos int) error {
	if j.open != nil {
		return ErrBatchOpen
	}
	if pos < 0 || pos > len(j.batches) {
		return fmt.Errorf("seek %d of %d: %w", pos, len(j.batches), ErrOutOfRange)
	}
	j.cursor = pos
	return nil
}

// Cursor is the number of applied batches.
func (j *Journal) Cursor() int { return j.cursor }

// Len is the number of reachable batches (applied and undone).
func (j *Journal) Len() int { return len(j.batches) }

// Batch returns the batch at index i.
func (j *Journal) Batch(i int) (Batch, bool) {
	if i < 0 || i >= len(j.batches) {
		return Batch{}, false
	}
	return j.batches[i], true
}

// BatchIDAt returns the id of the last batch applied at cursor position pos,
// or "" for the empty prefix.
func (j *Journal) BatchIDAt(pos int) string {
	if pos <= 0 || pos > len(j.batches) {
		return ""
	}
	return j.batches[pos-1].ID
}

// Applied returns the operations of every applied batch in staging order.
func (j *Journal) Applied() []models.Operation {
	var ops []models.Operation
	for _, b := range j.batches[:j.cursor] {
		ops = append(ops, b.Operations...)
	}
	return ops
}

// Batches returns every reachable batch.
func (j *Journal) Batches() []Batch {
	return append([]Batch(nil), j.batches...)
}

// Discarded returns the batches dropped from the redo range, oldest first.
func (j *Journal) Discarded() []Batch {
	return append([]Batch(nil), j.discarded...)
}

// State reports where batch id sits relative to the cursor.
func (j *Journal) State(id string) State {
	for i, b := range j.batches {
		if b.ID == id {
			if i < j.cursor {
				return StateStaged
			}
			return StateUndone
		}
	}
	for _, b := range j.discarded {
		if b.ID == id {
			return StateDiscarded
		}
	}
	return StateUnknown
}

// RemapChannel rewrites references to a provisional channel id after it was
// persisted under a new id. Only reachable batches and the open batch change,
// and each gets a fresh operations slice: batches handed out earlier keep the
// ids they were returned with.
func (j *Journal) RemapChannel(from, to int64) {
	remap := func(ops []models.Operation) []models.Operation {
		var out []models.Operation
		for i, op := range ops {
			if op.ChannelID != from && (op.Channel == nil || op.Channel.ID != from) {
				continue
			}
			if out == nil {
				out = append([]models.Operation(nil), ops...)
			}
			if op.ChannelID == from {
				out[i].ChannelID = to
			}
			if op.Channel != nil && op.Channel.ID == from {
				ch := op.Channel.Clone()
				ch.ID = to
				out[i].Channel = &ch
			}
		}
		if out == nil {
			return ops
		}
		return out
	}
	for i := range j.batches {
		j.batches[i].Operations = remap(j.batches[i].Operations)
	}
	if j.open != nil {
		j.open.Operations = remap(j.open.Operations)
	}
}
