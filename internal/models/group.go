package models

// Group is a named bucket of channels. ChannelCount is derived from the catalog
// and never written back.
type Group struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Position     int    `json:"position"`
	ChannelCount int    `json:"channel_count"`
}
