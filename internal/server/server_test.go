package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voyagen/lineup/internal/commit"
	"github.com/voyagen/lineup/internal/config"
	"github.com/voyagen/lineup/internal/models"
	"github.com/voyagen/lineup/internal/session"
	"github.com/voyagen/lineup/internal/store"
)

type fixture struct {
	srv   *Server
	store *store.SQLite
	ids   map[string]int64
	group int64
}

// newFixture seeds News with A=1, B=2, C=3.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(ctx, filepath.Join(t.TempDir(), "lineup.sqlite"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	news, err := st.GetOrCreateGroup(ctx, "News")
	if err != nil {
		t.Fatal(err)
	}
	var items []commit.Item
	for i, name := range []string{"A", "B", "C"} {
		ch := models.Channel{ID: int64(-1 - i), Number: models.IntPtr(i + 1), Name: name, GroupID: &news}
		items = append(items, commit.Item{Kind: commit.KindCreate, EntityID: ch.ID, Fields: commit.Fields{Channel: &ch}})
	}
	results, err := st.Submit(ctx, items)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	ids := map[string]int64{}
	for _, r := range results {
		ids[r.Entity.Name] = r.Entity.ID
	}
	cfg := &config.Config{ServerPort: "0", SessionTTL: time.Minute}
	return &fixture{srv: New(st, cfg), store: st, ids: ids, group: news}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) open(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session: %d %s", rec.Code, rec.Body)
	}
	var info sessionInfo
	decode(t, rec, &info)
	return info.ID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestReorderDiffCommit(t *testing.T) {
	f := newFixture(t)
	sid := f.open(t)
	base := "/api/sessions/" + sid

	rec := f.do(t, http.MethodPost, base+"/channels/"+itoa(f.ids["C"])+"/reorder", map[string]int{"target_index": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("reorder: %d %s", rec.Code, rec.Body)
	}
	var res assignmentsResponse
	decode(t, rec, &res)
	if len(res.Assignments) != 3 {
		t.Fatalf("assignments = %+v", res.Assignments)
	}

	rec = f.do(t, http.MethodGet, base+"/diff", nil)
	var items []commit.Item
	decode(t, rec, &items)
	if len(items) != 3 {
		t.Fatalf("diff = %+v", items)
	}

	rec = f.do(t, http.MethodPost, base+"/commit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("commit: %d %s", rec.Code, rec.Body)
	}
	var cr struct {
		OK        bool            `json:"ok"`
		Committed []commit.Result `json:"committed"`
	}
	decode(t, rec, &cr)
	if !cr.OK || len(cr.Committed) != 3 {
		t.Fatalf("commit response = %s", rec.Body)
	}

	ch, err := f.store.GetChannelByID(context.Background(), f.ids["C"])
	if err != nil || *ch.Number != 1 {
		t.Fatalf("persisted C = %+v, %v", ch, err)
	}

	rec = f.do(t, http.MethodGet, base, nil)
	var info sessionInfo
	decode(t, rec, &info)
	if info.Dirty || !info.CanUndo {
		t.Fatalf("session after commit = %+v", info)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	sid := f.open(t)
	base := "/api/sessions/" + sid

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
		kind   string
	}{
		{"conflict", http.MethodPost, base + "/channels", map[string]any{"name": "D", "channel_number": 2}, http.StatusConflict, "conflict"},
		{"validation", http.MethodPost, base + "/channels", map[string]any{"channel_number": 9}, http.StatusBadRequest, "validation"},
		{"unknown channel", http.MethodPatch, base + "/channels/999", map[string]any{"name": "X"}, http.StatusNotFound, ""},
		{"unknown group", http.MethodPost, base + "/move", map[string]any{"channel_ids": []int64{f.ids["A"]}, "target_group_id": 999, "mode": "keep"}, http.StatusNotFound, ""},
		{"nothing to undo", http.MethodPost, base + "/undo", nil, http.StatusConflict, ""},
		{"no batch", http.MethodPost, base + "/batch/end", nil, http.StatusConflict, ""},
		{"unknown session", http.MethodGet, "/api/sessions/nope/channels", nil, http.StatusNotFound, ""},
		{"bad json", http.MethodPost, base + "/renumber", "not an object", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			var apiErr struct {
				Status  int            `json:"status"`
				Details map[string]any `json:"details"`
			}
			decode(t, rec, &apiErr)
			if apiErr.Status != tt.want {
				t.Fatalf("envelope status = %d", apiErr.Status)
			}
			if tt.kind != "" && apiErr.Details["kind"] != tt.kind {
				t.Fatalf("details = %+v, want kind %s", apiErr.Details, tt.kind)
			}
		})
	}
}

func TestBatchAndSavePoints(t *testing.T) {
	f := newFixture(t)
	sid := f.open(t)
	base := "/api/sessions/" + sid

	rec := f.do(t, http.MethodPost, base+"/savepoints", map[string]string{"name": "clean"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("savepoint: %d %s", rec.Code, rec.Body)
	}
	var sp session.SavePoint
	decode(t, rec, &sp)

	if rec := f.do(t, http.MethodPost, base+"/batch", map[string]string{"description": "swap"}); rec.Code != http.StatusNoContent {
		t.Fatalf("start batch: %d %s", rec.Code, rec.Body)
	}
	// A transient duplicate is fine inside the batch.
	f.do(t, http.MethodPatch, base+"/channels/"+itoa(f.ids["A"]), map[string]int{"channel_number": 2})
	f.do(t, http.MethodPatch, base+"/channels/"+itoa(f.ids["B"]), map[string]int{"channel_number": 1})
	if rec := f.do(t, http.MethodPost, base+"/savepoints", nil); rec.Code != http.StatusConflict {
		t.Fatalf("savepoint inside batch: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, base+"/batch/end", nil); rec.Code != http.StatusOK {
		t.Fatalf("end batch: %d %s", rec.Code, rec.Body)
	}

	var hist []session.HistoryEntry
	decode(t, f.do(t, http.MethodGet, base+"/history", nil), &hist)
	if len(hist) != 1 || hist[0].Operations != 2 {
		t.Fatalf("history = %+v", hist)
	}

	if rec := f.do(t, http.MethodPost, base+"/savepoints/"+sp.ID+"/revert", nil); rec.Code != http.StatusOK {
		t.Fatalf("revert: %d %s", rec.Code, rec.Body)
	}
	var ch models.Channel
	decode(t, f.do(t, http.MethodGet, base+"/channels/"+itoa(f.ids["A"]), nil), &ch)
	if *ch.Number != 1 {
		t.Fatalf("A after revert = %d", *ch.Number)
	}
}

func TestBatchLeavingDuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	sid := f.open(t)
	base := "/api/sessions/" + sid

	f.do(t, http.MethodPost, base+"/batch", map[string]string{"description": "clash"})
	f.do(t, http.MethodPatch, base+"/channels/"+itoa(f.ids["A"]), map[string]int{"channel_number": 2})
	rec := f.do(t, http.MethodPost, base+"/batch/end", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("end batch: %d %s", rec.Code, rec.Body)
	}
	var apiErr struct {
		Details map[string]any `json:"details"`
	}
	decode(t, rec, &apiErr)
	if apiErr.Details["kind"] != "conflict" || apiErr.Details["channel_number"] != float64(2) {
		t.Fatalf("details = %+v", apiErr.Details)
	}

	var ch models.Channel
	decode(t, f.do(t, http.MethodGet, base+"/channels/"+itoa(f.ids["A"]), nil), &ch)
	if *ch.Number != 1 {
		t.Fatalf("A after rejected batch = %d", *ch.Number)
	}
}

func TestImportM3UBody(t *testing.T) {
	f := newFixture(t)
	sid := f.open(t)

	body := "#EXTM3U\n#EXTINF:-1 tvg-chno=\"1\" group-title=\"Sports\",ESPN\nhttp://example.test/espn\n"
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sid+"/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "audio/x-mpegurl")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import: %d %s", rec.Code, rec.Body)
	}
	var res struct {
		Channels   int `json:"channels"`
		Renumbered []struct {
			Number int `json:"channel_number"`
		} `json:"renumbered"`
	}
	decode(t, rec, &res)
	if res.Channels != 1 || len(res.Renumbered) != 1 || res.Renumbered[0].Number != 4 {
		t.Fatalf("import result = %s", rec.Body)
	}

	var groups []models.Group
	decode(t, f.do(t, http.MethodGet, "/api/sessions/"+sid+"/groups", nil), &groups)
	if len(groups) != 2 {
		t.Fatalf("session groups = %+v", groups)
	}

	if rec := f.do(t, http.MethodPost, "/api/sessions/"+sid+"/commit", nil); rec.Code != http.StatusOK {
		t.Fatalf("commit: %d %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodGet, "/api/playlist.m3u", nil)
	if !strings.Contains(rec.Body.String(), `tvg-chno="4"`) || !strings.Contains(rec.Body.String(), "http://example.test/espn") {
		t.Fatalf("playlist = %s", rec.Body)
	}
}

func TestDiscardSession(t *testing.T) {
	f := newFixture(t)
	sid := f.open(t)
	if rec := f.do(t, http.MethodDelete, "/api/sessions/"+sid, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("discard: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/sessions/"+sid, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get after discard: %d", rec.Code)
	}
}

func TestRegistryExpiresIdleSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reg := newRegistry(time.Minute, clock)

	idle := session.New(models.Catalog{}, session.Options{Now: clock})
	reg.add(idle)
	now = now.Add(30 * time.Second)
	busy := session.New(models.Catalog{}, session.Options{Now: clock})
	reg.add(busy)

	now = now.Add(45 * time.Second)
	if _, ok := reg.get(busy.ID()); !ok {
		t.Fatal("busy session expired early")
	}
	if n := reg.sweep(); n != 1 {
		t.Fatalf("sweep dropped %d, want 1", n)
	}
	if _, ok := reg.get(idle.ID()); ok {
		t.Fatal("idle session still registered")
	}
	if _, err := idle.History(); err == nil {
		t.Fatal("expired session should be discarded")
	}
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
