package jobs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// GetRunHandler handles GET /api/messagelog/v1/runs/{runId}
func GetRunHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runId")
		if runID == "" {
			writeError(w, http.StatusBadRequest, "missing run ID")
			return
		}

		run, err := store.Get(r.Context(), runID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get run: %v", err))
			return
		}
		if run == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", runID))
			return
		}

		writeJSON(w, http.StatusOK, runToResponse(run))
	}
}

// ListRunsHandler handles GET /api/messagelog/v1/runs
// Query params: kind, state, trigger, pageSize, pageToken
func ListRunsHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := RunListFilter{
			Kind:    r.URL.Query().Get("kind"),
			State:   r.URL.Query().Get("state"),
			Trigger: r.URL.Query().Get("trigger"),
		}

		pageSize := 20
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		pageToken := r.URL.Query().Get("pageToken")

		runs, nextToken, total, err := store.List(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to list runs: %v", err))
			return
		}

		out := make([]runResponse, len(runs))
		for i := range runs {
			out[i] = runToResponse(&runs[i])
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"runs":          out,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// runResponse is the API response for a maintenance run.
type runResponse struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Trigger    string `json:"trigger"`
	Instance   string `json:"instance,omitempty"`
	State      string `json:"state"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
	Count      int64  `json:"count"`
	LastError  string `json:"lastError,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

func runToResponse(run *Run) runResponse {
	resp := runResponse{
		ID:         run.ID,
		Kind:       run.Kind,
		Trigger:    run.Trigger,
		Instance:   run.Instance,
		State:      string(run.State),
		StartedAt:  run.StartedAt.Format(time.RFC3339),
		Count:      run.Count,
		LastError:  run.LastError,
		DurationMs: run.DurationMs,
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
