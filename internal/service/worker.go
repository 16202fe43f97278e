package service

import (
	"context"
	"log"
	"time"

	"github.com/voyagen/lineup/internal/cache"
	"github.com/voyagen/lineup/internal/store"
)

// RunExportWorker continuously dequeues lineup-changed jobs from Redis and
// rewrites the M3U export at path. Jobs queued while an export runs are
// drained so a burst of commits costs one rewrite. It stops when ctx is
// cancelled.
func RunExportWorker(ctx context.Context, rds *cache.Redis, s store.Store, path string) {
	log.Println("export worker started")
	for {
		select {
		case <-ctx.Done():
			log.Println("export worker stopping")
			return
		default:
		}

		job, err := cache.Dequeue(ctx, rds, cache.DefaultQueue, 5*time.Second)
		if err != nil {
			log.Printf("export worker: dequeue error: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}
		if job == nil {
			continue // timeout, loop back to check ctx
		}

		skipped, err := cache.Drain(ctx, rds, cache.DefaultQueue)
		if err != nil {
			log.Printf("export worker: drain error: %v", err)
		}
		log.Printf("export worker: session=%q committed=%d (coalesced %d more)", job.SessionID, job.Committed, skipped)

		if _, err := ExportPlaylist(ctx, s, path); err != nil {
			log.Printf("export worker: ExportPlaylist error: %v", err)
		}
	}
}
