package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/voyagen/lineup/internal/m3u"
	"github.com/voyagen/lineup/internal/models"
	"github.com/voyagen/lineup/internal/store"
)

// BuildPlaylist turns a catalog into playlist entries ordered by channel
// number, unnumbered channels last. Each channel is written with its first
// stream; channels without a known stream are left out.
func BuildPlaylist(cat models.Catalog, streams map[int64]models.Stream) []m3u.Entry {
	groupNames := make(map[int64]string, len(cat.Groups))
	for _, g := range cat.Groups {
		groupNames[g.ID] = g.Name
	}
	chs := make([]models.Channel, len(cat.Channels))
	copy(chs, cat.Channels)
	models.SortByNumber(chs)

	entries := make([]m3u.Entry, 0, len(chs))
	for _, ch := range chs {
		var url string
		for _, sid := range ch.StreamIDs {
			if st, ok := streams[sid]; ok && st.URL != "" {
				url = st.URL
				break
			}
		}
		if url == "" {
			continue
		}
		e := m3u.Entry{Name: ch.Name, Number: ch.Number, Logo: ch.Image, URL: url}
		if ch.GroupID != nil {
			e.Group = groupNames[*ch.GroupID]
		}
		entries = append(entries, e)
	}
	return entries
}

// LoadPlaylist builds playlist entries from the persisted lineup.
func LoadPlaylist(ctx context.Context, s store.Store) ([]m3u.Entry, error) {
	cat, err := s.LoadCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadCatalog: %w", err)
	}
	var ids []int64
	for _, ch := range cat.Channels {
		ids = append(ids, ch.StreamIDs...)
	}
	list, err := s.ListStreams(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ListStreams: %w", err)
	}
	streams := make(map[int64]models.Stream, len(list))
	for _, st := range list {
		streams[st.ID] = st
	}
	return BuildPlaylist(cat, streams), nil
}

// ExportPlaylist writes the persisted lineup to path as M3U and returns the
// number of channels written. The file is replaced atomically.
func ExportPlaylist(ctx context.Context, s store.Store, path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("export path is required")
	}
	entries, err := LoadPlaylist(ctx, s)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lineup-*.m3u")
	if err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := m3u.Write(tmp, entries); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write playlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("rename: %w", err)
	}
	log.Printf("export: wrote %d channels to %s", len(entries), path)
	return len(entries), nil
}
