package numbering

import (
	"fmt"

	"github.com/voyagen/lineup/internal/models"
)

// Mode picks how moved channels are numbered in the target group.
type Mode string

const (
	// ModeKeep leaves numbers untouched.
	ModeKeep Mode = "keep"
	// ModeSuggested numbers from one past the target's highest number, or from
	// the drop target's number when inserting mid-group.
	ModeSuggested Mode = "suggested"
	// ModeCustom numbers from MoveRequest.CustomStart.
	ModeCustom Mode = "custom"
)

// MoveRequest describes a cross-group move.
type MoveRequest struct {
	// Moved are the channels changing group.
	Moved []models.Channel
	// Source is the source group before the move, moved channels included.
	// Only read when CloseSourceGaps is set.
	Source []models.Channel
	// Target is the target group before the move.
	Target []models.Channel
	// Catalog is every channel; collisions are detected against it.
	Catalog []models.Channel

	Mode         Mode
	CustomStart  int
	DropTargetID *int64

	CloseSourceGaps bool
	Conflicts       ConflictStrategy
	Options
}

// SuggestedStart returns the first number ModeSuggested would use.
func SuggestedStart(req MoveRequest) (int, error) {
	moved := idSet(req.Moved)
	if req.DropTargetID != nil {
		for _, ch := range req.Target {
			if ch.ID != *req.DropTargetID {
				continue
			}
			if ch.Number == nil {
				return 0, &ValidationError{Field: "drop_target", Reason: fmt.Sprintf("channel %d has no number", ch.ID)}
			}
			return *ch.Number, nil
		}
		return 0, &ValidationError{Field: "drop_target", Reason: fmt.Sprintf("channel %d is not in the target group", *req.DropTargetID)}
	}
	if start, ok := maxNumber(req.Target, moved); ok {
		return start + 1, nil
	}
	if start, ok := maxNumber(req.Catalog, moved); ok {
		return start + 1, nil
	}
	return 1, nil
}

func maxNumber(chs []models.Channel, exclude map[int64]bool) (int, bool) {
	max, found := 0, false
	for _, ch := range chs {
		if ch.Number == nil || exclude[ch.ID] {
			continue
		}
		if !found || *ch.Number > max {
			max, found = *ch.Number, true
		}
	}
	return max, found
}

// MoveAcrossGroups computes the renumbering for moving channels into another
// group. Group membership itself is not part of the result.
//
// Channels outside the move that sit in the new range are shifted up by exactly
// the moved count (highest first) when Conflicts is ConflictShift; otherwise a
// ConflictError is returned. With CloseSourceGaps the channels left in the
// source group are resequenced from the source's original minimum.
func MoveAcrossGroups(req MoveRequest) ([]Assignment, error) {
	if len(req.Moved) == 0 {
		return nil, &ValidationError{Field: "selection", Reason: "no channels to move"}
	}
	moved := relativeOrder(req.Moved)
	movedSet := idSet(moved)
	catalog := req.Catalog
	if catalog == nil {
		catalog = append(append([]models.Channel{}, req.Source...), req.Target...)
	}

	var out []Assignment
	if req.Mode != ModeKeep {
		var start int
		switch req.Mode {
		case ModeSuggested, "":
			s, err := SuggestedStart(req)
			if err != nil {
				return nil, err
			}
			start = s
		case ModeCustom:
			if req.CustomStart <= 0 {
				return nil, &ValidationError{Field: "custom_start", Reason: "must be a positive number"}
			}
			start = req.CustomStart
		default:
			return nil, &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", req.Mode)}
		}

		count := len(moved)
		if ids := collisions(catalog, movedSet, start, count); len(ids) > 0 {
			if req.Conflicts != ConflictShift {
				first, _ := findChannel(catalog, ids[0])
				return nil, &ConflictError{Number: *first.Number, ChannelIDs: ids}
			}
			others := make([]models.Channel, 0, len(catalog))
			for _, ch := range catalog {
				if !movedSet[ch.ID] {
					others = append(others, ch)
				}
			}
			out = append(out, shiftChain(others, start, count, req.Options)...)
		}
		for i, ch := range moved {
			if a, ok := assign(ch, start+i, req.Options); ok {
				out = append(out, a)
			}
		}
	}

	if req.CloseSourceGaps {
		out = append(out, closeGaps(req.Source, movedSet, catalog, out, req.Options)...)
	}

	mustBeUnique("cross-group move", catalog, out)
	return out, nil
}

// closeGaps resequences the channels remaining in source into the lowest free
// numbers starting at the source's original minimum.
func closeGaps(source []models.Channel, movedSet map[int64]bool, catalog []models.Channel, planned []Assignment, opts Options) []Assignment {
	all := numberedSorted(source)
	if len(all) == 0 {
		return nil
	}
	origMin := *all[0].Number

	remaining := make([]models.Channel, 0, len(all))
	remainingSet := map[int64]bool{}
	for _, ch := range all {
		if !movedSet[ch.ID] {
			remaining = append(remaining, ch)
			remainingSet[ch.ID] = true
		}
	}
	if len(remaining) == 0 {
		return nil
	}

	numbers := map[int64]int{}
	for _, ch := range catalog {
		if ch.Number != nil {
			numbers[ch.ID] = *ch.Number
		}
	}
	for _, a := range planned {
		numbers[a.ChannelID] = a.Number
	}
	occupied := map[int]bool{}
	for id, n := range numbers {
		if !remainingSet[id] {
			occupied[n] = true
		}
	}

	var out []Assignment
	next := origMin
	for _, ch := range remaining {
		for occupied[next] {
			next++
		}
		occupied[next] = true
		if a, ok := assign(ch, next, opts); ok {
			out = append(out, a)
		}
		next++
	}
	return out
}

func findChannel(chs []models.Channel, id int64) (models.Channel, bool) {
	for _, ch := range chs {
		if ch.ID == id {
			return ch, true
		}
	}
	return models.Channel{}, false
}
