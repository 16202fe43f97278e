package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/voyagen/lineup/internal/commit"
)

func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("LINEUP_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LINEUP_TEST_DATABASE_URL not set")
	}
	abs, err := filepath.Abs("../../migrations")
	if err != nil {
		t.Fatal(err)
	}
	if err := RunMigrations(dsn, "file://"+abs); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	ctx := context.Background()
	p, err := NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	if _, err := p.pool.Exec(ctx, `TRUNCATE channel_streams, channels, streams, groups RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return p
}

func TestPostgresSubmitSwapAndDuplicates(t *testing.T) {
	ctx := context.Background()
	p := openTestPostgres(t)

	news, err := p.GetOrCreateGroup(ctx, "News")
	if err != nil {
		t.Fatalf("GetOrCreateGroup: %v", err)
	}
	results, err := p.Submit(ctx, []commit.Item{create(-1, 1, "A", &news), create(-2, 2, "B", &news)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	a, b := results[0].Entity.ID, results[1].Entity.ID

	// The unique constraint is deferred, so a swap inside one commit succeeds.
	if _, err := p.Submit(ctx, []commit.Item{renumber(a, 2), renumber(b, 1)}); err != nil {
		t.Fatalf("swap: %v", err)
	}
	got, err := p.GetChannelByID(ctx, a)
	if err != nil || *got.Number != 2 {
		t.Fatalf("channel a = %+v, %v", got, err)
	}

	_, err = p.Submit(ctx, []commit.Item{renumber(a, 1)})
	if !errors.Is(err, ErrDuplicateNumber) {
		t.Fatalf("err = %v, want ErrDuplicateNumber", err)
	}

	results, err = p.Submit(ctx, []commit.Item{{Kind: commit.KindDelete, EntityID: 9999}, create(-3, 3, "C", nil)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !errors.Is(results[0].Err, ErrNotFound) || results[1].Err != nil {
		t.Fatalf("results = %+v", results)
	}

	cat, err := p.LoadCatalog(ctx)
	if err != nil || len(cat.Channels) != 3 || len(cat.Groups) != 1 || cat.Groups[0].ChannelCount != 2 {
		t.Fatalf("catalog = %+v, %v", cat, err)
	}
}
