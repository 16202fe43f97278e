package numbering

import (
	"fmt"
	"strings"
)

// ConflictError is returned when a requested number collides with a channel
// outside the computation and the caller supplied no resolution strategy.
type ConflictError struct {
	Number     int
	ChannelIDs []int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("channel number %d conflicts with channel(s) %s", e.Number, joinIDs(e.ChannelIDs))
}

// ValidationError reports unusable input: a non-positive target number, an empty
// selection or an id that is not part of the input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvariantViolation means a computed state would give two channels the same
// number. The documented algorithms never produce one; the engine panics with it
// and the working copy returns it so the offending batch is rejected.
type InvariantViolation struct {
	Op         string
	Number     int
	ChannelIDs []int64
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: channel number %d held by %s", e.Op, e.Number, joinIDs(e.ChannelIDs))
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
