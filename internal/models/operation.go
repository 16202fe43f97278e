package models

// OpKind discriminates the Operation variants.
type OpKind string

const (
	OpCreateChannel    OpKind = "create-channel"
	OpUpdateChannel    OpKind = "update-channel"
	OpDeleteChannel    OpKind = "delete-channel"
	OpReorderStreams   OpKind = "reorder-streams"
	OpMoveChannelGroup OpKind = "move-channel-group"
)

// ChannelUpdate holds mutable channel fields.
// Pointer fields: nil = don't change, non-nil = set.
type ChannelUpdate struct {
	Number      *int    `json:"channel_number,omitempty"`
	ClearNumber bool    `json:"clear_number,omitempty"`
	Name        *string `json:"name,omitempty"`
	Image       *string `json:"image,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ChannelUpdate) Empty() bool {
	return u.Number == nil && !u.ClearNumber && u.Name == nil && u.Image == nil
}

// Operation is one staged change. Which payload field is meaningful depends on Kind:
// Channel for create, Update for update, StreamIDs for reorder-streams and GroupID
// (nil = ungrouped) for move. ID and Ordinal are assigned by the journal.
type Operation struct {
	ID          string        `json:"id"`
	Ordinal     int           `json:"ordinal"`
	Kind        OpKind        `json:"kind"`
	ChannelID   int64         `json:"channel_id"`
	Channel     *Channel      `json:"channel,omitempty"`
	Update      ChannelUpdate `json:"update,omitempty"`
	GroupID     *int64        `json:"group_id,omitempty"`
	StreamIDs   []int64       `json:"stream_ids,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Clone deep-copies the operation so journal history never aliases caller memory.
func (o Operation) Clone() Operation {
	out := o
	if o.Channel != nil {
		ch := o.Channel.Clone()
		out.Channel = &ch
	}
	if o.Update.Number != nil {
		out.Update.Number = IntPtr(*o.Update.Number)
	}
	if o.Update.Name != nil {
		out.Update.Name = StringPtr(*o.Update.Name)
	}
	if o.Update.Image != nil {
		out.Update.Image = StringPtr(*o.Update.Image)
	}
	if o.GroupID != nil {
		out.GroupID = Int64Ptr(*o.GroupID)
	}
	if o.StreamIDs != nil {
		out.StreamIDs = append([]int64(nil), o.StreamIDs...)
	}
	return out
}
