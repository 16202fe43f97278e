package session

import (
	"errors"
	"fmt"

	"github.com/voyagen/lineup/internal/models"
	"github.com/voyagen/lineup/internal/numbering"
	"github.com/voyagen/lineup/internal/workcopy"
)

// CreateChannel stages a new channel under a provisional (negative) id and
// returns it. A number already held by another channel is a *ConflictError.
func (s *Session) CreateChannel(ch models.Channel) (models.Channel, error) {
	if err := s.lock(); err != nil {
		return models.Channel{}, err
	}
	defer s.mu.Unlock()

	if err := checkName(&ch.Name); err != nil {
		return models.Channel{}, err
	}
	if err := s.checkGroupLocked(ch.GroupID); err != nil {
		return models.Channel{}, err
	}
	if ch.Number != nil {
		if err := checkNumber(ch.Number); err != nil {
			return models.Channel{}, err
		}
		if err := s.checkFreeLocked(0, *ch.Number); err != nil && !s.journal.InBatch() {
			return models.Channel{}, err
		}
	}
	ch = ch.Clone()
	ch.ID = s.nextProvisional
	op := models.Operation{Kind: models.OpCreateChannel, ChannelID: ch.ID, Channel: &ch}
	if _, err := s.stageLocked(fmt.Sprintf("Create %s", ch.Name), []models.Operation{op}); err != nil {
		return models.Channel{}, err
	}
	s.nextProvisional--
	return ch.Clone(), nil
}

// UpdateChannel stages a field update on one channel.
func (s *Session) UpdateChannel(id int64, u models.ChannelUpdate) (models.Channel, error) {
	if err := s.lock(); err != nil {
		return models.Channel{}, err
	}
	defer s.mu.Unlock()

	ch, err := s.getLocked(id)
	if err != nil {
		return models.Channel{}, err
	}
	if u.Empty() {
		return ch, nil
	}
	if err := checkUpdate(u); err != nil {
		return models.Channel{}, err
	}
	if u.Number != nil {
		if err := s.checkFreeLocked(ch.ID, *u.Number); err != nil && !s.journal.InBatch() {
			return models.Channel{}, err
		}
	}
	op := models.Operation{Kind: models.OpUpdateChannel, ChannelID: ch.ID, Update: u}
	if _, err := s.stageLocked(fmt.Sprintf("Edit %s", ch.Name), []models.Operation{op}); err != nil {
		return models.Channel{}, err
	}
	out, _ := s.wc.Get(ch.ID)
	return out, nil
}

func checkName(name *string) error {
	if name != nil && *name == "" {
		return &numbering.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

func checkNumber(n *int) error {
	if n != nil && *n <= 0 {
		return &numbering.ValidationError{Field: "channel_number", Reason: "must be a positive number"}
	}
	return nil
}

func checkUpdate(u models.ChannelUpdate) error {
	if err := checkName(u.Name); err != nil {
		return err
	}
	return checkNumber(u.Number)
}

// checkOpLocked applies the field checks of the intent methods to a raw
// operation. Channel existence is left to the working copy, since earlier
// operations of the same batch may create the channel.
func (s *Session) checkOpLocked(op models.Operation) error {
	switch op.Kind {
	case models.OpCreateChannel:
		if op.Channel == nil {
			return &numbering.ValidationError{Field: "channel", Reason: "create needs a channel"}
		}
		if err := checkName(&op.Channel.Name); err != nil {
			return err
		}
		if err := checkNumber(op.Channel.Number); err != nil {
			return err
		}
		return s.checkGroupLocked(op.Channel.GroupID)
	case models.OpUpdateChannel:
		if op.Update.Empty() {
			return &numbering.ValidationError{Field: "update", Reason: "nothing to change"}
		}
		return checkUpdate(op.Update)
	case models.OpMoveChannelGroup:
		return s.checkGroupLocked(op.GroupID)
	case models.OpDeleteChannel, models.OpReorderStreams:
		return nil
	}
	return &numbering.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown operation %q", op.Kind)}
}

// ReorderStreams stages a new stream order for a channel. streamIDs must be a
// permutation of the channel's current streams.
func (s *Session) ReorderStreams(id int64, streamIDs []int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	ch, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if !isPermutation(ch.StreamIDs, streamIDs) {
		return &numbering.ValidationError{Field: "stream_ids", Reason: "must reorder the channel's current streams"}
	}
	op := models.Operation{Kind: models.OpReorderStreams, ChannelID: ch.ID, StreamIDs: streamIDs}
	_, err = s.stageLocked(fmt.Sprintf("Reorder streams of %s", ch.Name), []models.Operation{op})
	return err
}

// Reorder moves a channel to targetIndex (0-based) within its group.
func (s *Session) Reorder(id int64, targetIndex int) ([]numbering.Assignment, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	ch, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	group := s.wc.List(groupFilter(ch.GroupID))
	return s.applyAssignments(fmt.Sprintf("Reorder %s", ch.Name), nil, func() ([]numbering.Assignment, error) {
		return numbering.ReorderWithinGroup(group, ch.ID, targetIndex, s.engineOpts())
	})
}

// MoveRequest describes a cross-group move.
type MoveRequest struct {
	ChannelIDs      []int64        `json:"channel_ids"`
	TargetGroupID   *int64         `json:"target_group_id"`
	Mode            numbering.Mode `json:"mode"`
	CustomStart     int            `json:"custom_start,omitempty"`
	DropTargetID    *int64         `json:"drop_target_id,omitempty"`
	CloseSourceGaps bool           `json:"close_source_gaps,omitempty"`
	ShiftConflicts  bool           `json:"shift_conflicts,omitempty"`
}

// MoveToGroup moves channels into another group, renumbering them per req.Mode.
func (s *Session) MoveToGroup(req MoveRequest) ([]numbering.Assignment, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := s.checkGroupLocked(req.TargetGroupID); err != nil {
		return nil, err
	}
	moved, err := s.selectionLocked(req.ChannelIDs)
	if err != nil {
		return nil, err
	}
	var sourceGroup *int64
	for i, ch := range moved {
		if ch.InGroup(req.TargetGroupID) {
			return nil, &numbering.ValidationError{Field: "channel_ids", Reason: fmt.Sprintf("channel %d is already in the target group", ch.ID)}
		}
		if i == 0 {
			sourceGroup = ch.GroupID
		} else if req.CloseSourceGaps && !ch.InGroup(sourceGroup) {
			return nil, &numbering.ValidationError{Field: "close_source_gaps", Reason: "channels come from more than one group"}
		}
	}

	engineReq := numbering.MoveRequest{
		Moved:           moved,
		Target:          s.wc.List(groupFilter(req.TargetGroupID)),
		Catalog:         s.wc.List(workcopy.Filter{}),
		Mode:            req.Mode,
		CustomStart:     req.CustomStart,
		DropTargetID:    req.DropTargetID,
		CloseSourceGaps: req.CloseSourceGaps,
		Options:         s.engineOpts(),
	}
	if req.CloseSourceGaps {
		engineReq.Source = s.wc.List(groupFilter(sourceGroup))
	}
	if req.ShiftConflicts {
		engineReq.Conflicts = numbering.ConflictShift
	}

	var moves []models.Operation
	for _, ch := range moved {
		var gid *int64
		if req.TargetGroupID != nil {
			gid = models.Int64Ptr(*req.TargetGroupID)
		}
		moves = append(moves, models.Operation{Kind: models.OpMoveChannelGroup, ChannelID: ch.ID, GroupID: gid})
	}
	desc := fmt.Sprintf("Move %d channel(s) to %s", len(moved), s.groupNameLocked(req.TargetGroupID))
	return s.applyAssignments(desc, moves, func() ([]numbering.Assignment, error) {
		return numbering.MoveAcrossGroups(engineReq)
	})
}

// SuggestedStart returns the number a suggested-mode move would start at.
func (s *Session) SuggestedStart(req MoveRequest) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	moved, err := s.selectionLocked(req.ChannelIDs)
	if err != nil {
		return 0, err
	}
	return numbering.SuggestedStart(numbering.MoveRequest{
		Moved:        moved,
		Target:       s.wc.List(groupFilter(req.TargetGroupID)),
		Catalog:      s.wc.List(workcopy.Filter{}),
		DropTargetID: req.DropTargetID,
	})
}

// MassRenumber numbers the selection consecutively from start.
func (s *Session) MassRenumber(ids []int64, start int, shiftConflicts bool) ([]numbering.Assignment, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	selected, err := s.selectionLocked(ids)
	if err != nil {
		return nil, err
	}
	catalog := s.wc.List(workcopy.Filter{})
	conflicts := numbering.ConflictFail
	if shiftConflicts {
		conflicts = numbering.ConflictShift
	}
	return s.applyAssignments(fmt.Sprintf("Renumber %d channel(s) from %d", len(selected), start), nil, func() ([]numbering.Assignment, error) {
		return numbering.MassRenumber(selected, catalog, start, conflicts, s.engineOpts())
	})
}

// SortAndRenumber sorts a group by name and numbers it from start. A zero start
// keeps the group's current lowest number.
func (s *Session) SortAndRenumber(groupID *int64, start int, norm numbering.Normalization) ([]numbering.Assignment, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := s.checkGroupLocked(groupID); err != nil {
		return nil, err
	}
	group := s.wc.List(groupFilter(groupID))
	if start == 0 {
		start = 1
		if len(group) > 0 && group[0].Number != nil {
			start = *group[0].Number
		}
	}
	desc := fmt.Sprintf("Sort %s", s.groupNameLocked(groupID))
	return s.applyAssignments(desc, nil, func() ([]numbering.Assignment, error) {
		return numbering.SortAndRenumber(group, start, norm, s.engineOpts())
	})
}

// ResolveDuplicates renumbers channels that share a number so every number is unique.
func (s *Session) ResolveDuplicates() ([]numbering.Assignment, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	all := s.wc.List(workcopy.Filter{})
	return s.applyAssignments("Resolve duplicate numbers", nil, func() ([]numbering.Assignment, error) {
		return numbering.ResolveDuplicates(all, s.engineOpts()), nil
	})
}

// Delete stages deletion of the channels. With renumber, the contiguous run
// after each deleted channel in its group moves down to close the gap.
func (s *Session) Delete(ids []int64, renumber bool) ([]numbering.Assignment, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	chs, err := s.selectionLocked(ids)
	if err != nil {
		return nil, err
	}
	implicit := !s.journal.InBatch()
	if implicit {
		if err := s.journal.StartBatch(fmt.Sprintf("Delete %d channel(s)", len(chs))); err != nil {
			return nil, err
		}
	}
	fail := func(err error) ([]numbering.Assignment, error) {
		s.journal.AbortBatch()
		s.rebuildLocked()
		return nil, err
	}

	var all []numbering.Assignment
	for _, ch := range chs {
		// Earlier deletions in this call may have renumbered ch.
		cur, ok := s.wc.Get(ch.ID)
		if !ok {
			continue
		}
		var assignments []numbering.Assignment
		if renumber {
			group := s.wc.List(groupFilter(cur.GroupID))
			assignments, err = guard(func() ([]numbering.Assignment, error) {
				return numbering.DeleteWithRenumber(cur, group, s.engineOpts()), nil
			})
			if err != nil {
				return fail(err)
			}
		}
		ops := append([]models.Operation{{Kind: models.OpDeleteChannel, ChannelID: cur.ID}}, assignmentOps(assignments)...)
		if _, err := s.stageLocked("", ops); err != nil {
			return fail(err)
		}
		all = append(all, assignments...)
	}
	if implicit {
		if _, err := s.endBatchLocked(); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// applyAssignments runs compute, verifies its result against the whole working
// copy and stages it together with extra as one batch.
func (s *Session) applyAssignments(desc string, extra []models.Operation, compute func() ([]numbering.Assignment, error)) ([]numbering.Assignment, error) {
	assignments, err := guard(compute)
	if err != nil {
		return nil, err
	}
	if err := numbering.Verify(s.wc.List(workcopy.Filter{}), assignments); err != nil {
		return nil, err
	}
	ops := append(assignmentOps(assignments), extra...)
	if len(ops) == 0 {
		return nil, nil
	}
	if _, err := s.stageLocked(desc, ops); err != nil {
		return nil, err
	}
	return assignments, nil
}

// guard turns an engine invariant panic into an error.
func guard(compute func() ([]numbering.Assignment, error)) (out []numbering.Assignment, err error) {
	defer func() {
		if r := recover(); r != nil {
			var v *numbering.InvariantViolation
			if e, ok := r.(error); ok && errors.As(e, &v) {
				out, err = nil, v
				return
			}
			panic(r)
		}
	}()
	return compute()
}

func assignmentOps(assignments []numbering.Assignment) []models.Operation {
	ops := make([]models.Operation, 0, len(assignments))
	for _, a := range assignments {
		u := models.ChannelUpdate{Number: models.IntPtr(a.Number)}
		if a.Name != nil {
			u.Name = models.StringPtr(*a.Name)
		}
		ops = append(ops, models.Operation{Kind: models.OpUpdateChannel, ChannelID: a.ChannelID, Update: u})
	}
	return ops
}

func (s *Session) getLocked(id int64) (models.Channel, error) {
	ch, ok := s.wc.Get(id)
	if !ok {
		return models.Channel{}, fmt.Errorf("channel %d: %w", id, ErrChannelNotFound)
	}
	return ch, nil
}

func (s *Session) selectionLocked(ids []int64) ([]models.Channel, error) {
	if len(ids) == 0 {
		return nil, &numbering.ValidationError{Field: "channel_ids", Reason: "no channels selected"}
	}
	out := make([]models.Channel, 0, len(ids))
	seen := map[int64]bool{}
	for _, id := range ids {
		ch, err := s.getLocked(id)
		if err != nil {
			return nil, err
		}
		if seen[ch.ID] {
			continue
		}
		seen[ch.ID] = true
		out = append(out, ch)
	}
	return out, nil
}

// checkFreeLocked returns a *ConflictError if a channel other than self holds n.
// Inside an explicit batch callers skip it: duplicates may be transient there and
// are checked when the batch ends.
func (s *Session) checkFreeLocked(self int64, n int) error {
	var ids []int64
	for _, ch := range s.wc.List(workcopy.Filter{}) {
		if ch.ID != self && ch.Number != nil && *ch.Number == n {
			ids = append(ids, ch.ID)
		}
	}
	if len(ids) > 0 {
		return &numbering.ConflictError{Number: n, ChannelIDs: ids}
	}
	return nil
}

func (s *Session) checkGroupLocked(id *int64) error {
	if id != nil && !s.wc.HasGroup(*id) {
		return fmt.Errorf("group %d: %w", *id, ErrGroupNotFound)
	}
	return nil
}

func (s *Session) groupNameLocked(id *int64) string {
	if id == nil {
		return "ungrouped"
	}
	for _, g := range s.wc.Groups() {
		if g.ID == *id {
			return g.Name
		}
	}
	return fmt.Sprintf("group %d", *id)
}

func groupFilter(id *int64) workcopy.Filter {
	if id == nil {
		return workcopy.Filter{Ungrouped: true}
	}
	return workcopy.Filter{GroupID: id}
}

func isPermutation(have, want []int64) bool {
	if len(have) != len(want) {
		return false
	}
	counts := map[int64]int{}
	for _, id := range have {
		counts[id]++
	}
	for _, id := range want {
		counts[id]--
		if counts[id] < 0 {
			return false
		}
	}
	return true
}
