package store

import (
	"context"
	"errors"

	"github.com/voyagen/lineup/internal/commit"
	"github.com/voyagen/lineup/internal/models"
)

// ErrNotFound is returned when a channel, group or stream does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateNumber is returned by Submit when the committed catalog would
// hold the same channel number twice. Nothing is persisted in that case.
var ErrDuplicateNumber = errors.New("duplicate channel number")

// Store defines persistence for channels, groups and streams. Every Store is
// also the commit pipeline that persists a session's diff.
type Store interface {
	commit.Pipeline

	// LoadCatalog returns every channel and group, the base snapshot a session opens on.
	LoadCatalog(ctx context.Context) (models.Catalog, error)
	// GetChannelByID returns a single channel by id.
	GetChannelByID(ctx context.Context, channelID int64) (*models.Channel, error)
	// ListChannels returns channels matching the filter and the total count (before limit/offset).
	ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, int, error)
	// ListGroups returns groups in position order with channel counts.
	ListGroups(ctx context.Context) ([]models.Group, error)
	// GetOrCreateGroup returns the group id for name, creating it at the end if needed.
	GetOrCreateGroup(ctx context.Context, name string) (int64, error)
	// GetOrCreateStream returns the stream id for url, creating it if needed.
	GetOrCreateStream(ctx context.Context, name, url string) (int64, error)
	// ListStreams returns streams by id, in the order given. Unknown ids are skipped.
	ListStreams(ctx context.Context, ids []int64) ([]models.Stream, error)

	Close() error
}

// ChannelFilter holds optional filters for listing channels.
type ChannelFilter struct {
	GroupID   *int64
	Ungrouped bool
	Search    string // case-insensitive substring match on channel name
	Limit     int    // default 50, max 500
	Offset    int
}

func (f ChannelFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return 50
	case f.Limit > 500:
		return 500
	}
	return f.Limit
}
