package numbering

import (
	"sort"

	"github.com/voyagen/lineup/internal/models"
)

// MassRenumber gives the selection consecutive numbers from start, keeping the
// selection's current relative order (unnumbered channels last).
//
// Channels outside the selection that hold a number in the new range collide.
// With ConflictShift they are pushed past the end of the range, highest first;
// with ConflictFail a ConflictError is returned.
func MassRenumber(selected, catalog []models.Channel, start int, conflicts ConflictStrategy, opts Options) ([]Assignment, error) {
	if len(selected) == 0 {
		return nil, &ValidationError{Field: "selection", Reason: "no channels selected"}
	}
	if start <= 0 {
		return nil, &ValidationError{Field: "start", Reason: "must be a positive number"}
	}
	ordered := relativeOrder(selected)
	selSet := idSet(ordered)
	count := len(ordered)

	var out []Assignment
	if ids := collisions(catalog, selSet, start, count); len(ids) > 0 {
		if conflicts != ConflictShift {
			first, _ := findChannel(catalog, ids[0])
			return nil, &ConflictError{Number: *first.Number, ChannelIDs: ids}
		}
		others := make([]models.Channel, 0, len(catalog))
		for _, ch := range catalog {
			if !selSet[ch.ID] {
				others = append(others, ch)
			}
		}
		out = append(out, shiftChain(others, start, count, opts)...)
	}
	for i, ch := range ordered {
		if a, ok := assign(ch, start+i, opts); ok {
			out = append(out, a)
		}
	}

	mustBeUnique("mass renumber", append(append([]models.Channel{}, catalog...), ordered...), out)
	return out, nil
}

// DeleteWithRenumber offers to close the gap a deleted channel leaves: the
// maximal contiguous run right after it moves down by one. The run stops at the
// first missing number. Nothing is offered for an unnumbered channel.
func DeleteWithRenumber(deleted models.Channel, group []models.Channel, opts Options) []Assignment {
	if deleted.Number == nil {
		return nil
	}
	byNumber := map[int]models.Channel{}
	for _, ch := range group {
		if ch.ID == deleted.ID || ch.Number == nil {
			continue
		}
		byNumber[*ch.Number] = ch
	}

	var out []Assignment
	for n := *deleted.Number + 1; ; n++ {
		ch, ok := byNumber[n]
		if !ok {
			break
		}
		if a, changed := assign(ch, n-1, opts); changed {
			out = append(out, a)
		}
	}

	remaining := make([]models.Channel, 0, len(group))
	for _, ch := range group {
		if ch.ID != deleted.ID {
			remaining = append(remaining, ch)
		}
	}
	mustBeUnique("delete renumber", remaining, out)
	return out
}

// ResolveDuplicates repairs a catalog that already holds duplicate numbers. For
// each shared number the oldest channel keeps it and the others take the next
// free numbers above it. Persisted channels are older than staged ones (see
// olderFirst).
func ResolveDuplicates(channels []models.Channel, opts Options) []Assignment {
	taken := map[int]bool{}
	holders := map[int][]models.Channel{}
	for _, ch := range channels {
		if ch.Number == nil {
			continue
		}
		taken[*ch.Number] = true
		holders[*ch.Number] = append(holders[*ch.Number], ch)
	}

	numbers := make([]int, 0, len(holders))
	for n, chs := range holders {
		if len(chs) > 1 {
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)

	var out []Assignment
	for _, n := range numbers {
		chs := holders[n]
		sort.Slice(chs, func(i, j int) bool { return olderFirst(chs[i].ID, chs[j].ID) })
		next := n + 1
		for _, ch := range chs[1:] {
			for taken[next] {
				next++
			}
			taken[next] = true
			if a, ok := assign(ch, next, opts); ok {
				out = append(out, a)
			}
		}
	}

	mustBeUnique("resolve duplicates", channels, out)
	return out
}

// olderFirst orders persisted ids ascending, then provisional (negative) ids in
// creation order: -1, -2, ...
func olderFirst(a, b int64) bool {
	switch {
	case a > 0 && b > 0:
		return a < b
	case a > 0:
		return true
	case b > 0:
		return false
	}
	return a > b
}
