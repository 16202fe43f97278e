// Package workcopy overlays staged operations on a base catalog snapshot.
//
// The base snapshot is never modified. Folding the same operations in the same
// order onto the same base always yields the same overlay.
package workcopy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/voyagen/lineup/internal/models"
	"github.com/voyagen/lineup/internal/numbering"
)

var (
	// ErrNotFound is returned when an operation targets a channel that is not visible.
	ErrNotFound = errors.New("channel not found")
	// ErrExists is returned when a create reuses a visible channel id.
	ErrExists = errors.New("channel already exists")
)

type entry struct {
	ch      models.Channel
	deleted bool
}

// WorkingCopy is a base snapshot plus an overlay of staged changes. It also
// tracks the persisted view the diff is computed against, which starts equal to
// the base and advances as commits succeed.
type WorkingCopy struct {
	base      map[int64]models.Channel
	groups    []models.Group
	overlay   map[int64]entry
	committed map[int64]models.Channel
	aliases   map[int64]int64
}

// Filter narrows List. Zero value lists everything.
type Filter struct {
	GroupID   *int64
	Ungrouped bool
	IDs       []int64
}

// New builds a working copy over base. base is deep-copied.
func New(base models.Catalog) *WorkingCopy {
	w := &WorkingCopy{
		base:      make(map[int64]models.Channel, len(base.Channels)),
		groups:    append([]models.Group(nil), base.Groups...),
		overlay:   map[int64]entry{},
		committed: make(map[int64]models.Channel, len(base.Channels)),
		aliases:   map[int64]int64{},
	}
	for _, ch := range base.Channels {
		w.base[ch.ID] = ch.Clone()
		w.committed[ch.ID] = ch.Clone()
	}
	sort.Slice(w.groups, func(i, j int) bool {
		if w.groups[i].Position != w.groups[j].Position {
			return w.groups[i].Position < w.groups[j].Position
		}
		return w.groups[i].ID < w.groups[j].ID
	})
	return w
}

// ResolveID maps a provisional id to its persisted id once a create was committed.
func (w *WorkingCopy) ResolveID(id int64) int64 {
	if to, ok := w.aliases[id]; ok {
		return to
	}
	return id
}

// Alias records that the provisional id was persisted as persisted.
func (w *WorkingCopy) Alias(provisional, persisted int64) {
	w.aliases[provisional] = persisted
}

// Get returns the merged view of one channel.
func (w *WorkingCopy) Get(id int64) (models.Channel, bool) {
	ch, ok := w.visible(w.ResolveID(id))
	if !ok {
		return models.Channel{}, false
	}
	return ch.Clone(), true
}

func (w *WorkingCopy) visible(id int64) (models.Channel, bool) {
	if e, ok := w.overlay[id]; ok {
		if e.deleted {
			return models.Channel{}, false
		}
		return e.ch, true
	}
	ch, ok := w.base[id]
	return ch, ok
}

// List returns the visible channels matching f, ordered by number with
// unnumbered channels last.
func (w *WorkingCopy) List(f Filter) []models.Channel {
	var want map[int64]bool
	if f.IDs != nil {
		want = make(map[int64]bool, len(f.IDs))
		for _, id := range f.IDs {
			want[w.ResolveID(id)] = true
		}
	}
	out := []models.Channel{}
	for _, id := range w.visibleIDs() {
		ch, _ := w.visible(id)
		if want != nil && !want[id] {
			continue
		}
		if f.Ungrouped && ch.GroupID != nil {
			continue
		}
		if f.GroupID != nil && !ch.InGroup(f.GroupID) {
			continue
		}
		out = append(out, ch.Clone())
	}
	models.SortByNumber(out)
	return out
}

func (w *WorkingCopy) visibleIDs() []int64 {
	ids := make([]int64, 0, len(w.base)+len(w.overlay))
	for id := range w.base {
		if e, ok := w.overlay[id]; ok && e.deleted {
			continue
		}
		ids = append(ids, id)
	}
	for id, e := range w.overlay {
		if _, inBase := w.base[id]; inBase || e.deleted {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Groups returns the groups in position order with ChannelCount derived from
// the visible channels.
func (w *WorkingCopy) Groups() []models.Group {
	counts := map[int64]int{}
	for _, id := range w.visibleIDs() {
		ch, _ := w.visible(id)
		if ch.GroupID != nil {
			counts[*ch.GroupID]++
		}
	}
	out := make([]models.Group, len(w.groups))
	for i, g := range w.groups {
		g.ChannelCount = counts[g.ID]
		out[i] = g
	}
	return out
}

// AddGroup registers a group created in the store after the snapshot was
// taken. Known ids are ignored.
func (w *WorkingCopy) AddGroup(g models.Group) {
	if w.HasGroup(g.ID) {
		return
	}
	g.ChannelCount = 0
	w.groups = append(w.groups, g)
	sort.SliceStable(w.groups, func(i, j int) bool {
		if w.groups[i].Position != w.groups[j].Position {
			return w.groups[i].Position < w.groups[j].Position
		}
		return w.groups[i].ID < w.groups[j].ID
	})
}

// HasGroup reports whether id names a known group.
func (w *WorkingCopy) HasGroup(id int64) bool {
	for _, g := range w.groups {
		if g.ID == id {
			return true
		}
	}
	return false
}

// Apply folds one operation into the overlay.
func (w *WorkingCopy) Apply(op models.Operation) error {
	id := w.ResolveID(op.ChannelID)
	if op.Kind == models.OpCreateChannel {
		if op.Channel == nil {
			return fmt.Errorf("apply %s: missing channel", op.Kind)
		}
		if _, ok := w.visible(id); ok {
			return fmt.Errorf("apply %s: channel %d: %w", op.Kind, id, ErrExists)
		}
		ch := op.Channel.Clone()
		ch.ID = id
		w.overlay[id] = entry{ch: ch}
		return nil
	}

	cur, ok := w.visible(id)
	if !ok {
		return fmt.Errorf("apply %s: channel %d: %w", op.Kind, id, ErrNotFound)
	}
	ch := cur.Clone()
	switch op.Kind {
	case models.OpUpdateChannel:
		u := op.Update
		if u.ClearNumber {
			ch.Number = nil
		}
		if u.Number != nil {
			ch.Number = models.IntPtr(*u.Number)
		}
		if u.Name != nil {
			ch.Name = *u.Name
		}
		if u.Image != nil {
			ch.Image = models.StringPtr(*u.Image)
		}
	case models.OpDeleteChannel:
		w.overlay[id] = entry{ch: ch, deleted: true}
		return nil
	case models.OpReorderStreams:
		ch.StreamIDs = append([]int64(nil), op.StreamIDs...)
	case models.OpMoveChannelGroup:
		ch.GroupID = nil
		if op.GroupID != nil {
			ch.GroupID = models.Int64Ptr(*op.GroupID)
		}
	default:
		return fmt.Errorf("apply: unknown operation kind %q", op.Kind)
	}
	w.overlay[id] = entry{ch: ch}
	return nil
}

// Reset drops the overlay, returning the view to the base snapshot.
func (w *WorkingCopy) Reset() {
	w.overlay = map[int64]entry{}
}

// CheckUnique verifies no two visible channels share a number. Duplicates that
// already existed in the base snapshot between untouched channels are tolerated;
// any duplicate involving a created or renumbered channel is a violation.
func (w *WorkingCopy) CheckUnique() error {
	holders := map[int][]int64{}
	for _, id := range w.visibleIDs() {
		ch, _ := w.visible(id)
		if ch.Number != nil {
			holders[*ch.Number] = append(holders[*ch.Number], id)
		}
	}
	var violation *numbering.InvariantViolation
	for n, ids := range holders {
		if len(ids) < 2 || (violation != nil && n > violation.Number) {
			continue
		}
		for _, id := range ids {
			if w.renumbered(id) {
				violation = &numbering.InvariantViolation{Op: "working copy", Number: n, ChannelIDs: ids}
				break
			}
		}
	}
	if violation != nil {
		return violation
	}
	return nil
}

// renumbered reports whether id was created or had its number changed by the overlay.
func (w *WorkingCopy) renumbered(id int64) bool {
	e, ok := w.overlay[id]
	if !ok {
		return false
	}
	base, inBase := w.base[id]
	if !inBase {
		return true
	}
	if base.Number == nil || e.ch.Number == nil {
		return base.Number != e.ch.Number
	}
	return *base.Number != *e.ch.Number
}
