package models

// Catalog is a point-in-time snapshot of every channel and group.
type Catalog struct {
	Channels []Channel `json:"channels"`
	Groups   []Group   `json:"groups"`
}

// Clone deep-copies the snapshot.
func (c Catalog) Clone() Catalog {
	out := Catalog{
		Channels: make([]Channel, len(c.Channels)),
		Groups:   append([]Group(nil), c.Groups...),
	}
	for i, ch := range c.Channels {
		out.Channels[i] = ch.Clone()
	}
	return out
}
