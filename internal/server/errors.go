package server

import (
	"errors"
	"net/http"

	"github.com/voyagen/lineup/internal/journal"
	"github.com/voyagen/lineup/internal/numbering"
	"github.com/voyagen/lineup/internal/session"
	"github.com/voyagen/lineup/internal/store"
	"github.com/voyagen/lineup/internal/workcopy"
)

var errSessionNotFound = errors.New("session not found")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		validation *numbering.ValidationError
		conflict   *numbering.ConflictError
		invariant  *numbering.InvariantViolation
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &invariant):
		return http.StatusInternalServerError
	case errors.Is(err, errSessionNotFound),
		errors.Is(err, session.ErrChannelNotFound),
		errors.Is(err, session.ErrGroupNotFound),
		errors.Is(err, session.ErrSavePointNotFound),
		errors.Is(err, workcopy.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrDiscarded):
		return http.StatusGone
	case errors.Is(err, journal.ErrBatchOpen),
		errors.Is(err, journal.ErrNoBatch),
		errors.Is(err, session.ErrCommitInFlight),
		errors.Is(err, session.ErrSavePointDiscarded),
		errors.Is(err, session.ErrNothingToUndo),
		errors.Is(err, session.ErrNothingToRedo),
		errors.Is(err, store.ErrDuplicateNumber):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorDetails exposes the structured part of engine errors to clients.
func errorDetails(err error) any {
	var conflict *numbering.ConflictError
	if errors.As(err, &conflict) {
		return map[string]any{"kind": "conflict", "channel_number": conflict.Number, "channel_ids": conflict.ChannelIDs}
	}
	var invariant *numbering.InvariantViolation
	if errors.As(err, &invariant) {
		return map[string]any{"kind": "invariant", "op": invariant.Op, "channel_number": invariant.Number, "channel_ids": invariant.ChannelIDs}
	}
	var validation *numbering.ValidationError
	if errors.As(err, &validation) {
		return map[string]any{"kind": "validation", "field": validation.Field, "reason": validation.Reason}
	}
	return nil
}

// writeDomainErr writes err with the status statusFor picks.
func writeDomainErr(w http.ResponseWriter, err error) {
	writeErr(w, statusFor(err), err)
}
