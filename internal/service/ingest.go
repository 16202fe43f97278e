package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/voyagen/lineup/internal/journal"
	"github.com/voyagen/lineup/internal/m3u"
	"github.com/voyagen/lineup/internal/models"
	"github.com/voyagen/lineup/internal/numbering"
	"github.com/voyagen/lineup/internal/session"
	"github.com/voyagen/lineup/internal/store"
)

// DefaultUserAgent is sent when fetching remote playlists.
const DefaultUserAgent = "Lineup/1.0"

// DefaultFetchTimeout bounds a remote playlist download.
const DefaultFetchTimeout = 30 * time.Second

// ImportResult summarizes one playlist import.
type ImportResult struct {
	Channels   int                    `json:"channels"`
	Streams    int                    `json:"streams"`
	Groups     int                    `json:"groups"`
	Renumbered []numbering.Assignment `json:"renumbered"`
	Batch      journal.Batch          `json:"batch"`
}

// importedChannel merges the playlist entries that share a group and name
// into one channel with several streams.
type importedChannel struct {
	entry   m3u.Entry
	streams []int64
}

// Import loads the playlist at src (http(s) URL or file path) and stages it
// into sess. See ImportPlaylist.
func Import(ctx context.Context, s store.Store, sess *session.Session, src string) (ImportResult, error) {
	if src == "" {
		return ImportResult{}, fmt.Errorf("playlist source is required")
	}
	entries, err := m3u.Load(ctx, src, DefaultUserAgent, DefaultFetchTimeout)
	if err != nil {
		return ImportResult{}, fmt.Errorf("load playlist: %w", err)
	}
	return ImportPlaylist(ctx, s, sess, entries)
}

// ImportPlaylist creates the playlist's groups and streams in the store, then
// stages one create per channel in a single "Import playlist" batch. Numbers
// that collide with existing channels, or with each other, are moved to the
// next free numbers; existing channels keep theirs. The batch is undoable like
// any other and nothing but groups and streams is persisted until commit.
func ImportPlaylist(ctx context.Context, s store.Store, sess *session.Session, entries []m3u.Entry) (ImportResult, error) {
	var res ImportResult
	if len(entries) == 0 {
		return res, nil
	}

	groupIDs := make(map[string]int64)
	var order []string
	byKey := make(map[string]*importedChannel)

	for _, e := range entries {
		// Check for context cancellation between iterations to allow
		// graceful shutdown during long imports.
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("import cancelled: %w", err)
		}

		if e.Group != "" {
			if _, ok := groupIDs[e.Group]; !ok {
				gid, err := s.GetOrCreateGroup(ctx, e.Group)
				if err != nil {
					return res, fmt.Errorf("GetOrCreateGroup: %w", err)
				}
				groupIDs[e.Group] = gid
			}
		}
		sid, err := s.GetOrCreateStream(ctx, e.Name, e.URL)
		if err != nil {
			return res, fmt.Errorf("GetOrCreateStream: %w", err)
		}
		res.Streams++

		key := e.Group + "\x00" + e.Name
		ic, ok := byKey[key]
		if !ok {
			ic = &importedChannel{entry: e}
			byKey[key] = ic
			order = append(order, key)
		}
		if !containsID(ic.streams, sid) {
			ic.streams = append(ic.streams, sid)
		}
	}

	if err := registerGroups(ctx, s, sess, groupIDs); err != nil {
		return res, err
	}
	res.Groups = len(groupIDs)

	desc := fmt.Sprintf("Import playlist (%d channels)", len(order))
	if err := sess.StartBatch(desc); err != nil {
		return res, err
	}
	abort := func(err error) (ImportResult, error) {
		if aerr := sess.AbortBatch(); aerr != nil && !errors.Is(aerr, journal.ErrNoBatch) {
			log.Printf("import: abort batch: %v", aerr)
		}
		return ImportResult{}, err
	}

	for _, key := range order {
		ic := byKey[key]
		ch := models.Channel{
			Number:    ic.entry.Number,
			Name:      ic.entry.Name,
			StreamIDs: ic.streams,
			Image:     ic.entry.Logo,
		}
		if gid, ok := groupIDs[ic.entry.Group]; ok {
			ch.GroupID = &gid
		}
		if _, err := sess.CreateChannel(ch); err != nil {
			return abort(fmt.Errorf("stage %q: %w", ch.Name, err))
		}
		res.Channels++
	}

	renumbered, err := sess.ResolveDuplicates()
	if err != nil {
		return abort(fmt.Errorf("resolve duplicates: %w", err))
	}
	res.Renumbered = renumbered

	batch, err := sess.EndBatch()
	if err != nil {
		return ImportResult{}, err
	}
	res.Batch = batch
	log.Printf("import: session %s staged %d channels (%d streams, %d groups, %d renumbered)",
		sess.ID(), res.Channels, res.Streams, res.Groups, len(res.Renumbered))
	return res, nil
}

// registerGroups makes the groups the import touched visible to sess with
// their stored positions.
func registerGroups(ctx context.Context, s store.Store, sess *session.Session, groupIDs map[string]int64) error {
	if len(groupIDs) == 0 {
		return nil
	}
	groups, err := s.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("ListGroups: %w", err)
	}
	for _, g := range groups {
		if groupIDs[g.Name] != g.ID {
			continue
		}
		if err := sess.AddGroup(g); err != nil {
			return err
		}
	}
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
