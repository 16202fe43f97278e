// Package numbering computes channel renumberings for catalog reorganizations.
//
// Every function is pure: it reads its inputs, never mutates them, and returns
// the list of channels whose number (and optionally name) must change. Callers
// decide whether and how to stage the result.
package numbering

import (
	"sort"

	"github.com/voyagen/lineup/internal/models"
	"github.com/voyagen/lineup/internal/rename"
)

// Assignment is one computed change. Name is set only when auto-rename rewrote
// the display name.
type Assignment struct {
	ChannelID int64   `json:"channel_id"`
	Number    int     `json:"channel_number"`
	Name      *string `json:"name,omitempty"`
}

// Options shared by every computation.
type Options struct {
	// AutoRename rewrites a number token in the display name when it matches the
	// channel's current number.
	AutoRename bool
}

// ConflictStrategy tells the engine what to do when a target number is taken.
type ConflictStrategy int

const (
	// ConflictFail returns a ConflictError.
	ConflictFail ConflictStrategy = iota
	// ConflictShift moves the colliding channels up by the size of the new range.
	ConflictShift
)

// assign builds the assignment moving ch to n; ok is false when nothing changes.
func assign(ch models.Channel, n int, opts Options) (Assignment, bool) {
	var name *string
	if opts.AutoRename && ch.Number != nil {
		if tok, found := rename.DefaultMatchers.Find(ch.Name); found && tok.Value == *ch.Number {
			if renamed, changed := rename.Title(ch.Name, n); changed {
				name = &renamed
			}
		}
	}
	if ch.Number != nil && *ch.Number == n && name == nil {
		return Assignment{}, false
	}
	return Assignment{ChannelID: ch.ID, Number: n, Name: name}, true
}

// numberedSorted returns clones of the numbered channels ordered by number.
func numberedSorted(chs []models.Channel) []models.Channel {
	out := make([]models.Channel, 0, len(chs))
	for _, ch := range chs {
		if ch.Number != nil {
			out = append(out, ch.Clone())
		}
	}
	models.SortByNumber(out)
	return out
}

// relativeOrder orders a selection by current number, unnumbered channels last
// in their input order. Duplicate ids are dropped.
func relativeOrder(chs []models.Channel) []models.Channel {
	seen := make(map[int64]bool, len(chs))
	out := make([]models.Channel, 0, len(chs))
	for _, ch := range chs {
		if seen[ch.ID] {
			continue
		}
		seen[ch.ID] = true
		out = append(out, ch.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Number, out[j].Number
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return *a < *b
	})
	return out
}

// isContiguous reports whether sorted numbers increase by exactly one each step.
func isContiguous(sorted []models.Channel) bool {
	for i := 1; i < len(sorted); i++ {
		if *sorted[i].Number != *sorted[i-1].Number+1 {
			return false
		}
	}
	return true
}

// shiftChain returns the channels that must move up by count so that
// [start, start+count) becomes free, highest number first. A channel shifts when
// it sits inside the range or when a shifted channel would land on it.
func shiftChain(others []models.Channel, start, count int, opts Options) []Assignment {
	sorted := numberedSorted(others)
	shifted := map[int]bool{}
	var out []Assignment
	for _, ch := range sorted {
		n := *ch.Number
		if n < start {
			continue
		}
		if n < start+count || shifted[n-count] {
			shifted[n] = true
			if a, ok := assign(ch, n+count, opts); ok {
				out = append(out, a)
			}
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// collisions lists the channels outside exclude whose number lies in [start, start+count).
func collisions(catalog []models.Channel, exclude map[int64]bool, start, count int) []int64 {
	var ids []int64
	for _, ch := range numberedSorted(catalog) {
		if exclude[ch.ID] {
			continue
		}
		if n := *ch.Number; n >= start && n < start+count {
			ids = append(ids, ch.ID)
		}
	}
	return ids
}

func idSet(chs []models.Channel) map[int64]bool {
	set := make(map[int64]bool, len(chs))
	for _, ch := range chs {
		set[ch.ID] = true
	}
	return set
}

// Verify applies result to catalog on a scratch copy and reports the lowest
// number that a changed channel now shares with another channel.
func Verify(catalog []models.Channel, result []Assignment) error {
	if n, ids, ok := firstDuplicate(catalog, result); ok {
		return &ConflictError{Number: n, ChannelIDs: ids}
	}
	return nil
}

// mustBeUnique panics when a computation breaks number uniqueness over its own input.
func mustBeUnique(op string, input []models.Channel, result []Assignment) {
	if n, ids, ok := firstDuplicate(input, result); ok {
		panic(&InvariantViolation{Op: op, Number: n, ChannelIDs: ids})
	}
}

// firstDuplicate only reports numbers held by at least one channel in result, so
// duplicates the catalog already carried elsewhere are not blamed on the result.
func firstDuplicate(catalog []models.Channel, result []Assignment) (int, []int64, bool) {
	numbers := make(map[int64]int, len(catalog))
	for _, ch := range catalog {
		if ch.Number != nil {
			numbers[ch.ID] = *ch.Number
		}
	}
	touched := make(map[int64]bool, len(result))
	for _, a := range result {
		numbers[a.ChannelID] = a.Number
		touched[a.ChannelID] = true
	}
	holders := map[int][]int64{}
	for id, n := range numbers {
		holders[n] = append(holders[n], id)
	}
	dup := 0
	found := false
	for n, ids := range holders {
		if len(ids) < 2 || (found && n >= dup) {
			continue
		}
		for _, id := range ids {
			if touched[id] {
				dup, found = n, true
				break
			}
		}
	}
	if !found {
		return 0, nil, false
	}
	ids := holders[dup]
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return dup, ids, true
}
