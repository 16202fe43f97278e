package m3u

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const playlist = `#EXTM3U
#EXTINF:-1 tvg-id="cnn.us" tvg-chno="101" tvg-name="CNN HD" tvg-logo="http://logo.test/cnn.png" group-title="News",CNN
http://example.test/cnn
#EXTINF:-1 tvg-chno="abc" group-title="News",BBC World
#EXTVLCOPT:http-user-agent=VLC
http://example.test/bbc

#EXTINF:-1 group-title="Broken",
http://example.test/nameless
#EXTINF:-1,Dangling
#EXTINF:-1 tvg-id="fallback.id",
http://example.test/fallback
`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(playlist))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(entries), entries)
	}

	cnn := entries[0]
	if cnn.Name != "CNN HD" || cnn.TvgID != "cnn.us" || cnn.Group != "News" || cnn.URL != "http://example.test/cnn" {
		t.Errorf("cnn = %+v", cnn)
	}
	if cnn.Number == nil || *cnn.Number != 101 {
		t.Errorf("cnn number = %v", cnn.Number)
	}
	if cnn.Logo == nil || *cnn.Logo != "http://logo.test/cnn.png" {
		t.Errorf("cnn logo = %v", cnn.Logo)
	}

	bbc := entries[1]
	if bbc.Name != "BBC World" || bbc.Number != nil || bbc.URL != "http://example.test/bbc" {
		t.Errorf("bbc = %+v", bbc)
	}

	if entries[2].Name != "fallback.id" {
		t.Errorf("fallback name = %q", entries[2].Name)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	n := 7
	logo := "http://logo.test/a.png"
	in := []Entry{
		{Name: `Say "Hi"`, Number: &n, Group: "Kids", Logo: &logo, URL: "http://example.test/a"},
		{Name: "No URL"},
		{Name: "Plain", URL: "http://example.test/b"},
	}
	var buf bytes.Buffer
	if err := Write(&buf, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "#EXTM3U\n") {
		t.Fatalf("missing header: %q", buf.String())
	}

	out, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2", len(out))
	}
	if out[0].Name != "Say 'Hi'" || out[0].Number == nil || *out[0].Number != 7 || out[0].Group != "Kids" {
		t.Errorf("first = %+v", out[0])
	}
	if out[1].Name != "Plain" || out[1].Number != nil || out[1].Group != "" {
		t.Errorf("second = %+v", out[1])
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "lineup-test" {
			http.Error(w, "bad agent", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(playlist))
	}))
	defer srv.Close()

	entries, err := Fetch(context.Background(), srv.URL, "lineup-test", 5*time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries", len(entries))
	}

	if _, err := Fetch(context.Background(), srv.URL, "other", 5*time.Second); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.m3u")
	if err := os.WriteFile(path, []byte(playlist), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := Load(context.Background(), path, "", time.Second)
	if err != nil || len(entries) != 3 {
		t.Fatalf("Load = %d entries, %v", len(entries), err)
	}
}
