package models

// Stream is a playable source a channel references (e.g. one M3U entry URL).
type Stream struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
	URL  string `json:"url"`
}
