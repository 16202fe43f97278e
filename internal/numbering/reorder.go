package numbering

import (
	"fmt"

	"github.com/voyagen/lineup/internal/models"
)

// ReorderWithinGroup moves one channel to targetIndex (0-based slot in the final
// order) inside its group.
//
// A contiguous group is renumbered densely from its original minimum so it stays
// contiguous. A group with gaps gets the minimal shift instead: the moved
// channel takes the number of the channel at the target slot and only channels
// numbered between the old and new position move by one.
func ReorderWithinGroup(group []models.Channel, movedID int64, targetIndex int, opts Options) ([]Assignment, error) {
	sorted := numberedSorted(group)
	movedIdx := -1
	for i, ch := range sorted {
		if ch.ID == movedID {
			movedIdx = i
			break
		}
	}
	if movedIdx < 0 {
		for _, ch := range group {
			if ch.ID == movedID {
				return nil, &ValidationError{Field: "channel", Reason: fmt.Sprintf("channel %d has no number", movedID)}
			}
		}
		return nil, &ValidationError{Field: "channel", Reason: fmt.Sprintf("channel %d is not in the group", movedID)}
	}
	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(sorted)-1 {
		targetIndex = len(sorted) - 1
	}
	if targetIndex == movedIdx {
		return nil, nil
	}

	var out []Assignment
	if isContiguous(sorted) {
		moved := sorted[movedIdx]
		rest := make([]models.Channel, 0, len(sorted)-1)
		rest = append(rest, sorted[:movedIdx]...)
		rest = append(rest, sorted[movedIdx+1:]...)
		final := make([]models.Channel, 0, len(sorted))
		final = append(final, rest[:targetIndex]...)
		final = append(final, moved)
		final = append(final, rest[targetIndex:]...)

		base := *sorted[0].Number
		for i, ch := range final {
			if a, ok := assign(ch, base+i, opts); ok {
				out = append(out, a)
			}
		}
	} else {
		moved := sorted[movedIdx]
		newNum := *sorted[targetIndex].Number
		if targetIndex < movedIdx {
			// Moving earlier: [target, moved) shift up, highest first.
			for i := movedIdx - 1; i >= targetIndex; i-- {
				if a, ok := assign(sorted[i], *sorted[i].Number+1, opts); ok {
					out = append(out, a)
				}
			}
		} else {
			// Moving later: (moved, target] shift down, lowest first.
			for i := movedIdx + 1; i <= targetIndex; i++ {
				if a, ok := assign(sorted[i], *sorted[i].Number-1, opts); ok {
					out = append(out, a)
				}
			}
		}
		if a, ok := assign(moved, newNum, opts); ok {
			out = append(out, a)
		}
	}

	mustBeUnique("reorder", group, out)
	return out, nil
}
