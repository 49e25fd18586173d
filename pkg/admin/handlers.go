package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/secgw/messagelog/pkg/archive"
	"github.com/secgw/messagelog/pkg/asic"
	"github.com/secgw/messagelog/pkg/jobs"
	"github.com/secgw/messagelog/pkg/messagelog"
	"github.com/secgw/messagelog/pkg/records"
	"github.com/secgw/messagelog/pkg/taskqueue"
)

const timestampSuffix = ":timestamp"

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports ready when the record store answers and the
// timestamping queue is running.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ready := true

	dbStatus := map[string]string{"status": "up"}
	if err := s.opts.Records.Ping(r.Context()); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		ready = false
	}

	queueStatus := map[string]string{"status": "up"}
	if _, err := s.opts.MessageLog.Status(r.Context()); err != nil {
		queueStatus["status"] = "down"
		queueStatus["error"] = err.Error()
		ready = false
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"components": map[string]any{
			"database": dbStatus,
			"queue":    queueStatus,
		},
	})
}

type statusResponse struct {
	Timestamping taskqueue.Snapshot `json:"timestamping"`
	Records      *records.Stats     `json:"records,omitempty"`
	LastArchive  *runSummary        `json:"lastArchive,omitempty"`
	LastClean    *runSummary        `json:"lastClean,omitempty"`
}

type runSummary struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
	Count      int64  `json:"count"`
	LastError  string `json:"lastError,omitempty"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.opts.MessageLog.Status(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	resp := statusResponse{Timestamping: snap}
	stats, err := s.opts.Records.Stats(r.Context())
	if err != nil {
		s.logger.Warn("record stats unavailable", "error", err)
	} else {
		resp.Records = stats
	}

	if s.opts.Runs != nil {
		resp.LastArchive = s.latestRun(r, archive.KindArchive)
		resp.LastClean = s.latestRun(r, archive.KindClean)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) latestRun(r *http.Request, kind string) *runSummary {
	run, err := s.opts.Runs.Latest(r.Context(), kind)
	if err != nil {
		s.logger.Warn("latest run unavailable", "kind", kind, "error", err)
		return nil
	}
	if run == nil {
		return nil
	}
	return summarize(run)
}

func summarize(run *jobs.Run) *runSummary {
	out := &runSummary{
		ID:        run.ID,
		State:     string(run.State),
		StartedAt: run.StartedAt.Format(time.RFC3339),
		Count:     run.Count,
		LastError: run.LastError,
	}
	if run.FinishedAt != nil {
		out.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return out
}

func (s *Server) startTimestampingHandler(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, "timestamping") {
		return
	}
	if err := s.opts.MessageLog.StartTimestamping(r.Context()); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) setStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	status := taskqueue.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	switch status {
	case taskqueue.StatusSuccess, taskqueue.StatusFailure, taskqueue.StatusUnknown:
	default:
		writeError(w, http.StatusBadRequest, "bad_request",
			fmt.Sprintf("status must be one of success, failure, unknown; got %q", req.Status))
		return
	}

	if err := s.opts.MessageLog.SetTimestampingStatus(r.Context(), status); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) startArchivingHandler(w http.ResponseWriter, r *http.Request) {
	s.startMaintenance(w, r, archive.KindArchive)
}

func (s *Server) startCleaningHandler(w http.ResponseWriter, r *http.Request) {
	s.startMaintenance(w, r, archive.KindClean)
}

func (s *Server) startMaintenance(w http.ResponseWriter, r *http.Request, kind string) {
	if s.opts.Maintenance == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "archiving is not configured on this instance")
		return
	}
	if s.limited(w, kind) {
		return
	}

	var err error
	if kind == archive.KindArchive {
		err = s.opts.Maintenance.StartArchiving(r.Context())
	} else {
		err = s.opts.Maintenance.StartCleaning(r.Context())
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "kind": kind})
}

// timestampRecordHandler serves POST /records/{id}:timestamp.
func (s *Server) timestampRecordHandler(w http.ResponseWriter, r *http.Request) {
	ref, ok := strings.CutSuffix(chi.URLParam(r, "recordRef"), timestampSuffix)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown record operation")
		return
	}
	id, err := parseRecordID(ref)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if s.limited(w, "record:"+strconv.FormatInt(id, 10)) {
		return
	}

	ts, err := s.opts.MessageLog.Timestamp(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// listRecordsHandler serves GET /records.
// Query params: queryId (required), client, response, xRequestId, from, to.
// With from or to only the first record logged within the range is
// returned.
func (s *Server) listRecordsHandler(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := records.Query{
		QueryID:    params.Get("queryId"),
		XRequestID: params.Get("xRequestId"),
	}

	if c := params.Get("client"); c != "" {
		client, err := parseClientID(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		q.Client = client
	}
	if v := params.Get("response"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid response flag %q", v))
			return
		}
		q.Response = &b
	}

	from, to, ranged, err := parseRange(params.Get("from"), params.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var out []records.LogRecord
	if ranged {
		if q.QueryID == "" {
			writeError(w, http.StatusBadRequest, string(messagelog.CodeValidation), "query id is required")
			return
		}
		rec, err := s.opts.MessageLog.FindByQueryID(r.Context(), q.QueryID, from, to)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		if rec != nil {
			out = append(out, *rec)
		}
	} else {
		out, err = s.opts.MessageLog.FindRecords(r.Context(), q)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
	}
	if out == nil {
		out = []records.LogRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records":   out,
		"totalSize": len(out),
	})
}

func (s *Server) getRecordHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseRecordID(chi.URLParam(r, "recordRef"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	rec, err := s.opts.MessageLog.Record(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// asicHandler serves the ASiC-E container of one record as a download.
func (s *Server) asicHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseRecordID(chi.URLParam(r, "recordRef"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	rec, err := s.opts.MessageLog.Record(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	data, err := asic.FromRecord(rec).Bytes()
	if err != nil {
		s.logger.Error("failed to build container", "recordId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to build container")
		return
	}

	w.Header().Set("Content-Type", asic.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", asic.FileName(rec)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseRecordID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", s)
	}
	return id, nil
}

// parseClientID parses INSTANCE/CLASS/CODE[/SUBSYSTEM].
func parseClientID(s string) (*records.ClientID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 && len(parts) != 4 {
		return nil, fmt.Errorf("invalid client %q, expected INSTANCE/CLASS/CODE[/SUBSYSTEM]", s)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid client %q, empty identifier part", s)
		}
	}
	c := &records.ClientID{Instance: parts[0], MemberClass: parts[1], MemberCode: parts[2]}
	if len(parts) == 4 {
		c.Subsystem = parts[3]
	}
	return c, nil
}

// parseRange parses optional RFC 3339 bounds. A missing from is the zero
// time and a missing to is now.
func parseRange(fromStr, toStr string) (from, to time.Time, ranged bool, err error) {
	if fromStr == "" && toStr == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	to = time.Now()
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return from, to, false, fmt.Errorf("invalid from %q: %w", fromStr, err)
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return from, to, false, fmt.Errorf("invalid to %q: %w", toStr, err)
		}
	}
	if to.Before(from) {
		return from, to, false, errors.New("to must not be before from")
	}
	return from, to, true, nil
}
