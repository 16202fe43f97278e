// Package commit defines the boundary between an edit session and whatever
// persists it: a diff of items in, a per-item result out.
package commit

import (
	"context"
	"fmt"

	"github.com/voyagen/lineup/internal/models"
)

// Kind discriminates diff items.
type Kind string

const (
	KindCreate         Kind = "create"
	KindUpdate         Kind = "update"
	KindDelete         Kind = "delete"
	KindReorderStreams Kind = "reorder-streams"
	KindMoveGroup      Kind = "move-group"
)

// Fields carries the payload for an item; which field is read depends on Kind.
type Fields struct {
	Channel   *models.Channel      `json:"channel,omitempty"`
	Update    models.ChannelUpdate `json:"update,omitempty"`
	GroupID   *int64               `json:"group_id,omitempty"`
	StreamIDs []int64              `json:"stream_ids,omitempty"`
}

// Item is one persisted write. EntityID is the provisional (negative) id for creates.
type Item struct {
	Kind     Kind   `json:"kind"`
	EntityID int64  `json:"entity_id"`
	Fields   Fields `json:"fields"`
}

// Clone deep-copies the item so an in-flight diff cannot be mutated by later edits.
func (i Item) Clone() Item {
	out := i
	if i.Fields.Channel != nil {
		ch := i.Fields.Channel.Clone()
		out.Fields.Channel = &ch
	}
	op := models.Operation{Update: i.Fields.Update, GroupID: i.Fields.GroupID, StreamIDs: i.Fields.StreamIDs}.Clone()
	out.Fields.Update = op.Update
	out.Fields.GroupID = op.GroupID
	out.Fields.StreamIDs = op.StreamIDs
	return out
}

func (i Item) String() string {
	return fmt.Sprintf("%s channel %d", i.Kind, i.EntityID)
}

// Result is success(Entity) when Err is nil, failure(Err) otherwise. Entity is
// nil for successful deletes.
type Result struct {
	Item   Item            `json:"item"`
	Entity *models.Channel `json:"entity,omitempty"`
	Err    error           `json:"-"`
}

// Success builds a successful result.
func Success(item Item, entity *models.Channel) Result {
	return Result{Item: item, Entity: entity}
}

// Failure builds a failed result.
func Failure(item Item, err error) Result {
	return Result{Item: item, Err: err}
}

// Pipeline persists a diff. Submit returns one result per item, in order. A
// non-nil error means nothing was persisted.
type Pipeline interface {
	Submit(ctx context.Context, items []Item) ([]Result, error)
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, items []Item) ([]Result, error)

func (f PipelineFunc) Submit(ctx context.Context, items []Item) ([]Result, error) {
	return f(ctx, items)
}

// PipelineError wraps a rejected item and the reason the pipeline gave.
type PipelineError struct {
	Item   Item   `json:"item"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("commit %s: %s", e.Item, e.Reason)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Report summarizes one commit.
type Report struct {
	Committed []Result         `json:"committed"`
	Rejected  []*PipelineError `json:"rejected"`
}

// OK reports whether every item was persisted.
func (r Report) OK() bool { return len(r.Rejected) == 0 }
