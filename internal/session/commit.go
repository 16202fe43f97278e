package session

import (
	"context"
	"fmt"
	"log"

	"github.com/voyagen/lineup/internal/commit"
	"github.com/voyagen/lineup/internal/journal"
)

// Diff lists the writes a commit would send, without sending them.
func (s *Session) Diff() ([]commit.Item, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.wc.Diff(), nil
}

// Dirty reports whether the working copy differs from what was last persisted.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.discarded && len(s.wc.Diff()) > 0
}

// Commit submits the diff to p and folds the results back in. The session is
// not locked while p runs, so edits staged meanwhile are kept; they reference
// created channels by provisional id and are rewritten to the persisted ids.
//
// A pipeline error means nothing was persisted. Otherwise each item succeeds or
// fails on its own; failures are listed in Report.Rejected and stay in the next
// diff.
func (s *Session) Commit(ctx context.Context, p commit.Pipeline) (commit.Report, error) {
	if err := s.lock(); err != nil {
		return commit.Report{}, err
	}
	if s.inFlight {
		s.mu.Unlock()
		return commit.Report{}, ErrCommitInFlight
	}
	if s.journal.InBatch() {
		s.mu.Unlock()
		return commit.Report{}, journal.ErrBatchOpen
	}
	items := s.wc.Diff()
	if len(items) == 0 {
		s.mu.Unlock()
		return commit.Report{}, nil
	}
	sent := make([]commit.Item, len(items))
	for i, it := range items {
		sent[i] = it.Clone()
	}
	s.inFlight = true
	s.mu.Unlock()

	log.Printf("session %s: committing %d item(s)", s.id, len(sent))
	results, err := p.Submit(ctx, sent)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if err != nil {
		return commit.Report{}, fmt.Errorf("commit: %w", err)
	}
	if len(results) != len(items) {
		return commit.Report{}, fmt.Errorf("commit: pipeline returned %d results for %d items", len(results), len(items))
	}

	var report commit.Report
	for i, res := range results {
		item := items[i]
		if res.Err != nil {
			report.Rejected = append(report.Rejected, &commit.PipelineError{Item: item, Reason: res.Err.Error(), Err: res.Err})
			continue
		}
		s.wc.Reconcile(item, res.Entity)
		if item.Kind == commit.KindCreate && res.Entity != nil && res.Entity.ID != item.EntityID {
			s.journal.RemapChannel(item.EntityID, res.Entity.ID)
		}
		report.Committed = append(report.Committed, res)
	}
	s.rebuildLocked()
	log.Printf("session %s: commit done: %d committed, %d rejected", s.id, len(report.Committed), len(report.Rejected))
	return report, nil
}
