package models

import "sort"

// Channel is a numbered catalog entry. Number is nil for unnumbered channels and
// GroupID is nil for ungrouped ones.
type Channel struct {
	ID        int64   `json:"id"`
	Number    *int    `json:"channel_number,omitempty"`
	Name      string  `json:"name"`
	GroupID   *int64  `json:"group_id,omitempty"`
	StreamIDs []int64 `json:"stream_ids,omitempty"`
	Image     *string `json:"image,omitempty"`
}

// HasNumber reports whether the channel carries a channel number.
func (c Channel) HasNumber() bool {
	return c.Number != nil
}

// NumberOr returns the channel number, or def when the channel is unnumbered.
func (c Channel) NumberOr(def int) int {
	if c.Number == nil {
		return def
	}
	return *c.Number
}

// InGroup reports whether the channel belongs to groupID (nil = ungrouped).
func (c Channel) InGroup(groupID *int64) bool {
	if groupID == nil || c.GroupID == nil {
		return groupID == nil && c.GroupID == nil
	}
	return *groupID == *c.GroupID
}

// Clone returns a deep copy so callers can mutate it without aliasing pointer fields.
func (c Channel) Clone() Channel {
	out := c
	if c.Number != nil {
		n := *c.Number
		out.Number = &n
	}
	if c.GroupID != nil {
		g := *c.GroupID
		out.GroupID = &g
	}
	if c.Image != nil {
		img := *c.Image
		out.Image = &img
	}
	if c.StreamIDs != nil {
		out.StreamIDs = append([]int64(nil), c.StreamIDs...)
	}
	return out
}

// Equal compares every field by value.
func (c Channel) Equal(o Channel) bool {
	if c.ID != o.ID || c.Name != o.Name {
		return false
	}
	if !eqInt(c.Number, o.Number) || !eqInt64(c.GroupID, o.GroupID) || !eqString(c.Image, o.Image) {
		return false
	}
	return SameStreams(c.StreamIDs, o.StreamIDs)
}

// SameStreams compares two ordered stream lists.
func SameStreams(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SortByNumber orders channels by number ascending with unnumbered channels last,
// ties broken by ID. The sort is stable.
func SortByNumber(chs []Channel) {
	sort.SliceStable(chs, func(i, j int) bool {
		a, b := chs[i], chs[j]
		switch {
		case a.Number != nil && b.Number != nil:
			if *a.Number != *b.Number {
				return *a.Number < *b.Number
			}
		case a.Number != nil:
			return true
		case b.Number != nil:
			return false
		}
		return a.ID < b.ID
	})
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

// Int64Ptr returns a pointer to n.
func Int64Ptr(n int64) *int64 { return &n }

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
