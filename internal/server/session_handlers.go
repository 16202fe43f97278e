package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voyagen/lineup/internal/commit"
	"github.com/voyagen/lineup/internal/m3u"
	"github.com/voyagen/lineup/internal/models"
	"github.com/voyagen/lineup/internal/numbering"
	"github.com/voyagen/lineup/internal/service"
	"github.com/voyagen/lineup/internal/session"
	"github.com/voyagen/lineup/internal/store"
	"github.com/voyagen/lineup/internal/workcopy"
)

type sessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	TouchedAt time.Time `json:"touched_at"`
	Dirty     bool      `json:"dirty"`
	InBatch   bool      `json:"in_batch"`
	CanUndo   bool      `json:"can_undo"`
	CanRedo   bool      `json:"can_redo"`
}

func infoFor(sess *session.Session) sessionInfo {
	return sessionInfo{
		ID:        sess.ID(),
		CreatedAt: sess.CreatedAt(),
		TouchedAt: sess.TouchedAt(),
		Dirty:     sess.Dirty(),
		InBatch:   sess.InBatch(),
		CanUndo:   sess.CanUndo(),
		CanRedo:   sess.CanRedo(),
	}
}

// session looks up the {sid} path parameter, writing 404 when it is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sid := r.PathValue("sid")
	sess, ok := s.sessions.get(sid)
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("session %s: %w", sid, errSessionNotFound))
		return nil, false
	}
	return sess, true
}

type assignmentsResponse struct {
	Assignments []numbering.Assignment `json:"assignments"`
}

func writeAssignments(w http.ResponseWriter, assignments []numbering.Assignment, err error) {
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if assignments == nil {
		assignments = []numbering.Assignment{}
	}
	writeJSON(w, http.StatusOK, assignmentsResponse{Assignments: assignments})
}

// --- session lifecycle ---

type openSessionRequest struct {
	AutoRename *bool `json:"auto_rename"`
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	cat, err := s.store.LoadCatalog(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	opts := session.Options{AutoRename: s.cfg.AutoRename}
	if req.AutoRename != nil {
		opts.AutoRename = *req.AutoRename
	}
	sess := session.New(cat, opts)
	s.sessions.add(sess)
	writeJSON(w, http.StatusCreated, infoFor(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	list := s.sessions.list()
	out := make([]sessionInfo, 0, len(list))
	for _, sess := range list {
		out = append(out, infoFor(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, infoFor(sess))
}

func (s *Server) handleDiscardSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Discard(); err != nil {
		writeDomainErr(w, err)
		return
	}
	s.sessions.remove(sess.ID())
	writeNoContent(w)
}

// --- working copy ---

func (s *Server) handleSessionChannels(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var f workcopy.Filter
	q := r.URL.Query()
	if v := q.Get("group_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid group_id: %s", v))
			return
		}
		f.GroupID = &id
	}
	if v := q.Get("ungrouped"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid ungrouped: %s (use true or false)", v))
			return
		}
		f.Ungrouped = b
	}
	channels, err := sess.Channels(f)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels, "total": len(channels)})
}

func (s *Server) handleSessionChannel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	ch, err := sess.Channel(id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleSessionGroups(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	groups, err := sess.Groups()
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var ch models.Channel
	if err := decodeBody(r, &ch); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	created, err := sess.CreateChannel(ch)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	var u models.ChannelUpdate
	if err := decodeBody(r, &u); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	ch, err := sess.UpdateChannel(id, u)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

type reorderStreamsRequest struct {
	StreamIDs []int64 `json:"stream_ids"`
}

func (s *Server) handleReorderStreams(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	var req reorderStreamsRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := sess.ReorderStreams(id, req.StreamIDs); err != nil {
		writeDomainErr(w, err)
		return
	}
	ch, err := sess.Channel(id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

type reorderRequest struct {
	TargetIndex *int `json:"target_index"`
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	var req reorderRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.TargetIndex == nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("target_index is required"))
		return
	}
	assignments, err := sess.Reorder(id, *req.TargetIndex)
	writeAssignments(w, assignments, err)
}

// --- numbering intents ---

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req session.MoveRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	assignments, err := sess.MoveToGroup(req)
	writeAssignments(w, assignments, err)
}

func (s *Server) handleSuggestedStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req session.MoveRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	start, err := sess.SuggestedStart(req)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"start": start})
}

type renumberRequest struct {
	ChannelIDs     []int64 `json:"channel_ids"`
	Start          int     `json:"start"`
	ShiftConflicts bool    `json:"shift_conflicts"`
}

func (s *Server) handleRenumber(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req renumberRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	assignments, err := sess.MassRenumber(req.ChannelIDs, req.Start, req.ShiftConflicts)
	writeAssignments(w, assignments, err)
}

type sortRequest struct {
	GroupID     *int64 `json:"group_id"`
	Start       int    `json:"start"`
	StripNumber bool   `json:"strip_number"`
	StripPrefix bool   `json:"strip_prefix"`
}

func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req sortRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	norm := numbering.Normalization{StripNumber: req.StripNumber, StripPrefix: req.StripPrefix}
	assignments, err := sess.SortAndRenumber(req.GroupID, req.Start, norm)
	writeAssignments(w, assignments, err)
}

type deleteRequest struct {
	ChannelIDs []int64 `json:"channel_ids"`
	Renumber   bool    `json:"renumber"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req deleteRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	assignments, err := sess.Delete(req.ChannelIDs, req.Renumber)
	writeAssignments(w, assignments, err)
}

func (s *Server) handleResolveDuplicates(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	assignments, err := sess.ResolveDuplicates()
	writeAssignments(w, assignments, err)
}

type importRequest struct {
	Source string `json:"source"`
}

// handleImport stages a playlist into the session. The body is either JSON
// naming a source URL or path, or the M3U text itself.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var (
		res service.ImportResult
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req importRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		if req.Source == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("source is required"))
			return
		}
		res, err = service.Import(r.Context(), s.store, sess, req.Source)
	} else {
		entries, perr := m3u.Parse(r.Body)
		if perr != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("parse playlist: %w", perr))
			return
		}
		res, err = service.ImportPlaylist(r.Context(), s.store, sess, entries)
	}
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if res.Renumbered == nil {
		res.Renumbered = []numbering.Assignment{}
	}
	writeJSON(w, http.StatusOK, res)
}

// --- history ---

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	b, err := sess.Undo()
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	b, err := sess.Redo()
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	hist, err := sess.History()
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if hist == nil {
		hist = []session.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, hist)
}

type batchRequest struct {
	Description string `json:"description"`
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Description == "" {
		req.Description = "Batch edit"
	}
	if err := sess.StartBatch(req.Description); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleEndBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	b, err := sess.EndBatch()
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleAbortBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.AbortBatch(); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeNoContent(w)
}

type savePointRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateSavePoint(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req savePointRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	sp, err := sess.CreateSavePoint(req.Name)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sp)
}

func (s *Server) handleListSavePoints(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sps, err := sess.SavePoints()
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if sps == nil {
		sps = []session.SavePoint{}
	}
	writeJSON(w, http.StatusOK, sps)
}

func (s *Server) handleRevertSavePoint(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.RevertTo(r.PathValue("spid")); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infoFor(sess))
}

func (s *Server) handleDeleteSavePoint(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.DeleteSavePoint(r.PathValue("spid")); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeNoContent(w)
}

// --- commit ---

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	items, err := sess.Diff()
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if items == nil {
		items = []commit.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

type commitResponse struct {
	OK bool `json:"ok"`
	commit.Report
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	ctx := store.WithSessionID(r.Context(), sess.ID())
	report, err := sess.Commit(ctx, s.store)
	if err != nil {
		// Anything unmapped is the pipeline failing as a whole.
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		writeErr(w, status, err)
		return
	}
	if report.Committed == nil {
		report.Committed = []commit.Result{}
	}
	if report.Rejected == nil {
		report.Rejected = []*commit.PipelineError{}
	}
	writeJSON(w, http.StatusOK, commitResponse{OK: report.OK(), Report: report})
}
