package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/voyagen/lineup/internal/commit"
	"github.com/voyagen/lineup/internal/models"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "lineup.sqlite"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func create(id int64, n int, name string, group *int64, streams ...int64) commit.Item {
	ch := models.Channel{ID: id, Number: models.IntPtr(n), Name: name, GroupID: group, StreamIDs: streams}
	return commit.Item{Kind: commit.KindCreate, EntityID: id, Fields: commit.Fields{Channel: &ch}}
}

func renumber(id int64, n int) commit.Item {
	return commit.Item{Kind: commit.KindUpdate, EntityID: id, Fields: commit.Fields{Update: models.ChannelUpdate{Number: models.IntPtr(n)}}}
}

func TestSQLiteSubmitAndLoad(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	news, err := s.GetOrCreateGroup(ctx, "News")
	if err != nil {
		t.Fatalf("GetOrCreateGroup: %v", err)
	}
	again, _ := s.GetOrCreateGroup(ctx, "News")
	if again != news {
		t.Fatalf("GetOrCreateGroup returned %d then %d", news, again)
	}
	s1, _ := s.GetOrCreateStream(ctx, "cnn hd", "http://example.test/cnn-hd")
	s2, _ := s.GetOrCreateStream(ctx, "cnn sd", "http://example.test/cnn-sd")

	results, err := s.Submit(ctx, []commit.Item{
		create(-1, 1, "CNN", &news, s2, s1),
		create(-2, 2, "BBC", &news),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for _, r := range results {
		if r.Err != nil || r.Entity == nil || r.Entity.ID <= 0 {
			t.Fatalf("result = %+v", r)
		}
	}
	cnn := results[0].Entity
	if len(cnn.StreamIDs) != 2 || cnn.StreamIDs[0] != s2 || cnn.StreamIDs[1] != s1 {
		t.Fatalf("stream order = %v", cnn.StreamIDs)
	}

	cat, err := s.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(cat.Channels) != 2 || cat.Channels[0].Name != "CNN" || len(cat.Groups) != 1 || cat.Groups[0].ChannelCount != 2 {
		t.Fatalf("catalog = %+v", cat)
	}

	streams, err := s.ListStreams(ctx, cnn.StreamIDs)
	if err != nil || len(streams) != 2 || streams[0].URL != "http://example.test/cnn-sd" {
		t.Fatalf("ListStreams = %+v, %v", streams, err)
	}
}

func TestSQLiteSubmitSwapsNumbers(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	results, err := s.Submit(ctx, []commit.Item{create(-1, 1, "A", nil), create(-2, 2, "B", nil)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	a, b := results[0].Entity.ID, results[1].Entity.ID

	if _, err := s.Submit(ctx, []commit.Item{renumber(a, 2), renumber(b, 1)}); err != nil {
		t.Fatalf("swap: %v", err)
	}
	got, err := s.GetChannelByID(ctx, a)
	if err != nil || *got.Number != 2 {
		t.Fatalf("channel a = %+v, %v", got, err)
	}
}

func TestSQLiteSubmitItemFailsAlone(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	results, err := s.Submit(ctx, []commit.Item{
		{Kind: commit.KindDelete, EntityID: 999},
		create(-1, 5, "Kept", nil),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !errors.Is(results[0].Err, ErrNotFound) {
		t.Fatalf("delete of missing channel err = %v", results[0].Err)
	}
	if results[1].Err != nil {
		t.Fatalf("create err = %v", results[1].Err)
	}
	chs, total, err := s.ListChannels(ctx, ChannelFilter{Search: "kep"})
	if err != nil || total != 1 || chs[0].Name != "Kept" {
		t.Fatalf("ListChannels = %+v, %d, %v", chs, total, err)
	}
}

func TestSQLiteSubmitRejectsDuplicateNumbers(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	_, err := s.Submit(ctx, []commit.Item{create(-1, 3, "A", nil), create(-2, 3, "B", nil)})
	if !errors.Is(err, ErrDuplicateNumber) {
		t.Fatalf("err = %v, want ErrDuplicateNumber", err)
	}
	cat, _ := s.LoadCatalog(ctx)
	if len(cat.Channels) != 0 {
		t.Fatalf("duplicate commit persisted %d channels", len(cat.Channels))
	}
}

func TestSQLiteMoveAndReorderStreams(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	sports, _ := s.GetOrCreateGroup(ctx, "Sports")
	s1, _ := s.GetOrCreateStream(ctx, "a", "http://example.test/a")
	s2, _ := s.GetOrCreateStream(ctx, "b", "http://example.test/b")
	results, err := s.Submit(ctx, []commit.Item{create(-1, 1, "ESPN", nil, s1, s2)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	id := results[0].Entity.ID

	results, err = s.Submit(ctx, []commit.Item{
		{Kind: commit.KindMoveGroup, EntityID: id, Fields: commit.Fields{GroupID: &sports}},
		{Kind: commit.KindReorderStreams, EntityID: id, Fields: commit.Fields{StreamIDs: []int64{s2, s1}}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ch := results[1].Entity
	if ch.GroupID == nil || *ch.GroupID != sports || ch.StreamIDs[0] != s2 {
		t.Fatalf("channel = %+v", ch)
	}

	inGroup, total, err := s.ListChannels(ctx, ChannelFilter{GroupID: &sports})
	if err != nil || total != 1 || inGroup[0].ID != id {
		t.Fatalf("ListChannels = %+v, %d, %v", inGroup, total, err)
	}
	if _, total, _ := s.ListChannels(ctx, ChannelFilter{Ungrouped: true}); total != 0 {
		t.Fatalf("ungrouped total = %d", total)
	}
}

func TestOpenPicksSQLite(t *testing.T) {
	st, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*SQLite); !ok {
		t.Fatalf("Open returned %T", st)
	}
}

func TestRunMigrationsSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "migrated.sqlite")
	dsn := "sqlite://" + path

	// The Postgres migrations path is ignored for SQLite DSNs.
	for i := 0; i < 2; i++ {
		if err := RunMigrations(dsn, "file:///does/not/exist"); err != nil {
			t.Fatalf("RunMigrations run %d: %v", i+1, err)
		}
	}

	s, err := NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()
	var version int
	var dirty bool
	if err := s.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations`).Scan(&version, &dirty); err != nil {
		t.Fatalf("schema_migrations: %v", err)
	}
	if version != 1 || dirty {
		t.Fatalf("schema at version %d (dirty=%v), want 1", version, dirty)
	}
	if _, err := s.GetOrCreateGroup(ctx, "News"); err != nil {
		t.Fatalf("GetOrCreateGroup on migrated schema: %v", err)
	}
}
