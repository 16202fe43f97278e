package workcopy

import (
	"sort"

	"github.com/voyagen/lineup/internal/commit"
	"github.com/voyagen/lineup/internal/models"
)

// MarkCommitted records ch as persisted.
func (w *WorkingCopy) MarkCommitted(ch models.Channel) {
	w.committed[ch.ID] = ch.Clone()
}

// MarkRemoved records that id no longer exists in persistence.
func (w *WorkingCopy) MarkRemoved(id int64) {
	delete(w.committed, id)
}

// Reconcile folds one successful commit result into the persisted view. A
// created channel's provisional id is aliased to the id it was persisted under.
func (w *WorkingCopy) Reconcile(item commit.Item, entity *models.Channel) {
	switch item.Kind {
	case commit.KindDelete:
		w.MarkRemoved(item.EntityID)
		return
	case commit.KindCreate:
		if entity == nil {
			return
		}
		if entity.ID != item.EntityID {
			w.Alias(item.EntityID, entity.ID)
		}
		w.MarkCommitted(*entity)
		return
	}
	if entity != nil {
		w.MarkCommitted(*entity)
		return
	}
	ch, ok := w.committed[item.EntityID]
	if !ok {
		return
	}
	switch item.Kind {
	case commit.KindUpdate:
		u := item.Fields.Update
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
	case commit.KindMoveGroup:
		ch.GroupID = nil
		if item.Fields.GroupID != nil {
			ch.GroupID = models.Int64Ptr(*item.Fields.GroupID)
		}
	case commit.KindReorderStreams:
		ch.StreamIDs = append([]int64(nil), item.Fields.StreamIDs...)
	}
	w.MarkCommitted(ch)
}

// Committed returns the persisted view, ordered by number.
func (w *WorkingCopy) Committed() []models.Channel {
	out := make([]models.Channel, 0, len(w.committed))
	for _, ch := range w.committed {
		out = append(out, ch.Clone())
	}
	models.SortByNumber(out)
	return out
}

// Diff lists the writes that turn the persisted view into the current view.
//
// Items come out deletes first, then field updates (highest new number first),
// group moves, creates in staging order and finally stream reorders, so a
// sequential writer frees numbers before reusing them where it can.
func (w *WorkingCopy) Diff() []commit.Item {
	var deletes, updates, moves, creates, streams []commit.Item

	for id := range w.committed {
		if _, ok := w.visible(id); !ok {
			deletes = append(deletes, commit.Item{Kind: commit.KindDelete, EntityID: id})
		}
	}

	for _, id := range w.visibleIDs() {
		cur, _ := w.visible(id)
		old, persisted := w.committed[id]
		if !persisted {
			ch := cur.Clone()
			creates = append(creates, commit.Item{
				Kind:     commit.KindCreate,
				EntityID: id,
				Fields:   commit.Fields{Channel: &ch},
			})
			continue
		}
		if u := fieldChanges(old, cur); !u.Empty() {
			updates = append(updates, commit.Item{Kind: commit.KindUpdate, EntityID: id, Fields: commit.Fields{Update: u}})
		}
		if !sameGroup(old.GroupID, cur.GroupID) {
			var gid *int64
			if cur.GroupID != nil {
				gid = models.Int64Ptr(*cur.GroupID)
			}
			moves = append(moves, commit.Item{Kind: commit.KindMoveGroup, EntityID: id, Fields: commit.Fields{GroupID: gid}})
		}
		if !models.SameStreams(old.StreamIDs, cur.StreamIDs) {
			streams = append(streams, commit.Item{
				Kind:     commit.KindReorderStreams,
				EntityID: id,
				Fields:   commit.Fields{StreamIDs: append([]int64{}, cur.StreamIDs...)},
			})
		}
	}

	sort.Slice(deletes, func(i, j int) bool { return deletes[i].EntityID < deletes[j].EntityID })
	sort.SliceStable(updates, func(i, j int) bool {
		return updateRank(updates[i]) > updateRank(updates[j])
	})
	// Provisional ids count down from -1, so staging order is descending id.
	sort.Slice(creates, func(i, j int) bool { return creates[i].EntityID > creates[j].EntityID })

	out := make([]commit.Item, 0, len(deletes)+len(updates)+len(moves)+len(creates)+len(streams))
	out = append(out, deletes...)
	out = append(out, updates...)
	out = append(out, moves...)
	out = append(out, creates...)
	out = append(out, streams...)
	return out
}

func updateRank(it commit.Item) int {
	if it.Fields.Update.Number != nil {
		return *it.Fields.Update.Number
	}
	return -1
}

func fieldChanges(old, cur models.Channel) models.ChannelUpdate {
	var u models.ChannelUpdate
	switch {
	case cur.Number == nil && old.Number != nil:
		u.ClearNumber = true
	case cur.Number != nil && (old.Number == nil || *old.Number != *cur.Number):
		u.Number = models.IntPtr(*cur.Number)
	}
	if cur.Name != old.Name {
		u.Name = models.StringPtr(cur.Name)
	}
	if cur.Image != nil && (old.Image == nil || *old.Image != *cur.Image) {
		u.Image = models.StringPtr(*cur.Image)
	}
	return u
}

func sameGroup(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
