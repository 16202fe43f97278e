package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/voyagen/lineup/internal/commit"
	"github.com/voyagen/lineup/internal/m3u"
	"github.com/voyagen/lineup/internal/models"
	"github.com/voyagen/lineup/internal/session"
	"github.com/voyagen/lineup/internal/store"
	"github.com/voyagen/lineup/internal/workcopy"
)

func openStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "lineup.sqlite"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s store.Store, name string, number int) int64 {
	t.Helper()
	ch := models.Channel{ID: -1, Number: models.IntPtr(number), Name: name}
	results, err := s.Submit(context.Background(), []commit.Item{{Kind: commit.KindCreate, EntityID: -1, Fields: commit.Fields{Channel: &ch}}})
	if err != nil || results[0].Err != nil {
		t.Fatalf("seed: %v %v", err, results)
	}
	return results[0].Entity.ID
}

func openSession(t *testing.T, s store.Store) *session.Session {
	t.Helper()
	cat, err := s.LoadCatalog(context.Background())
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	return session.New(cat, session.Options{})
}

func playlistEntries() []m3u.Entry {
	return []m3u.Entry{
		{Name: "Alpha", Number: models.IntPtr(1), Group: "News", URL: "http://example.test/alpha-hd"},
		{Name: "Bravo", Number: models.IntPtr(2), Group: "News", URL: "http://example.test/bravo"},
		{Name: "Alpha", Number: models.IntPtr(1), Group: "News", URL: "http://example.test/alpha-sd"},
		{Name: "Charlie", URL: "http://example.test/charlie"},
	}
}

func TestImportPlaylistStagesOneBatch(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	oldID := seed(t, st, "Old", 1)
	sess := openSession(t, st)

	res, err := ImportPlaylist(ctx, st, sess, playlistEntries())
	if err != nil {
		t.Fatalf("ImportPlaylist: %v", err)
	}
	if res.Channels != 3 || res.Streams != 4 || res.Groups != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Renumbered) != 1 || res.Renumbered[0].Number != 3 {
		t.Fatalf("renumbered = %+v", res.Renumbered)
	}

	old, err := sess.Channel(oldID)
	if err != nil || *old.Number != 1 {
		t.Fatalf("existing channel = %+v, %v", old, err)
	}
	chs, _ := sess.Channels(workcopy.Filter{})
	if len(chs) != 4 {
		t.Fatalf("visible channels = %d, want 4", len(chs))
	}
	for _, ch := range chs {
		if ch.Name == "Alpha" && len(ch.StreamIDs) != 2 {
			t.Fatalf("alpha streams = %v", ch.StreamIDs)
		}
	}

	hist, _ := sess.History()
	if len(hist) != 1 {
		t.Fatalf("history = %+v, want one batch", hist)
	}
	if _, err := sess.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	chs, _ = sess.Channels(workcopy.Filter{})
	if len(chs) != 1 {
		t.Fatalf("after undo %d channels, want 1", len(chs))
	}
}

func TestImportCommitAndExport(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st, "Old", 1)
	sess := openSession(t, st)

	if _, err := ImportPlaylist(ctx, st, sess, playlistEntries()); err != nil {
		t.Fatalf("ImportPlaylist: %v", err)
	}
	report, err := sess.Commit(ctx, st)
	if err != nil || !report.OK() {
		t.Fatalf("Commit = %+v, %v", report, err)
	}

	path := filepath.Join(t.TempDir(), "out", "lineup.m3u")
	n, err := ExportPlaylist(ctx, st, path)
	if err != nil {
		t.Fatalf("ExportPlaylist: %v", err)
	}
	if n != 3 {
		t.Fatalf("exported %d channels, want 3 (Old has no stream)", n)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	entries, err := m3u.Parse(f)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"Bravo", "Alpha", "Charlie"}
	for i, e := range entries {
		if e.Name != want[i] {
			t.Fatalf("entry %d = %q, want %q", i, e.Name, want[i])
		}
	}
	if entries[1].URL != "http://example.test/alpha-hd" || entries[1].Group != "News" || *entries[1].Number != 3 {
		t.Fatalf("alpha entry = %+v", entries[1])
	}
	if entries[2].Number != nil {
		t.Fatalf("charlie number = %v", *entries[2].Number)
	}
}

func TestImportRefusedInsideOpenBatch(t *testing.T) {
	st := openStore(t)
	sess := openSession(t, st)
	if err := sess.StartBatch("manual"); err != nil {
		t.Fatal(err)
	}
	if _, err := ImportPlaylist(context.Background(), st, sess, playlistEntries()); err == nil {
		t.Fatal("expected import to be refused while a batch is open")
	}
}

func TestBuildPlaylistSkipsChannelsWithoutStreams(t *testing.T) {
	g := int64(7)
	cat := models.Catalog{
		Channels: []models.Channel{
			{ID: 1, Number: models.IntPtr(2), Name: "B", StreamIDs: []int64{10}},
			{ID: 2, Number: models.IntPtr(1), Name: "A", GroupID: &g, StreamIDs: []int64{99, 11}},
			{ID: 3, Number: models.IntPtr(3), Name: "C"},
		},
		Groups: []models.Group{{ID: g, Name: "Kids"}},
	}
	streams := map[int64]models.Stream{10: {ID: 10, URL: "http://b"}, 11: {ID: 11, URL: "http://a"}}

	got := BuildPlaylist(cat, streams)
	if len(got) != 2 || got[0].Name != "A" || got[0].URL != "http://a" || got[0].Group != "Kids" || got[1].Name != "B" {
		t.Fatalf("BuildPlaylist = %+v", got)
	}
}
