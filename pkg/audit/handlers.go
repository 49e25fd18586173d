package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// ListEventsHandler handles GET /api/audit/v1/events.
// Query params: actor, action, outcome, since (RFC3339), pageSize, pageToken
func ListEventsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ListFilter{
			Actor:   q.Get("actor"),
			Action:  q.Get("action"),
			Outcome: q.Get("outcome"),
		}
		if s := q.Get("since"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since: %v", err))
				return
			}
			filter.Since = t
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}

		events, next, total, err := store.List(r.Context(), filter, pageSize, q.Get("pageToken"))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to list audit events: %v", err))
			return
		}

		out := make([]eventResponse, len(events))
		for i := range events {
			out[i] = toResponse(&events[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"events":        out,
			"nextPageToken": next,
			"totalSize":     total,
		})
	}
}

// GetEventHandler handles GET /api/audit/v1/events/{eventId}.
func GetEventHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "eventId")
		event, err := store.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get audit event: %v", err))
			return
		}
		if event == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("audit event %q not found", id))
			return
		}
		writeJSON(w, http.StatusOK, toResponse(event))
	}
}

type eventResponse struct {
	ID            string         `json:"id"`
	Actor         string         `json:"actor"`
	Groups        []string       `json:"groups,omitempty"`
	Action        string         `json:"action"`
	ResourceType  string         `json:"resourceType,omitempty"`
	ResourceID    string         `json:"resourceId,omitempty"`
	Method        string         `json:"method"`
	Path          string         `json:"path"`
	Outcome       string         `json:"outcome"`
	StatusCode    int            `json:"statusCode"`
	RequestID     string         `json:"requestId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	DurationMs    int64          `json:"durationMs"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"createdAt"`
}

func toResponse(e *Event) eventResponse {
	return eventResponse{
		ID:            e.ID,
		Actor:         e.Actor,
		Groups:        []string(e.Groups),
		Action:        e.Action,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		Method:        e.Method,
		Path:          e.Path,
		Outcome:       e.Outcome,
		StatusCode:    e.StatusCode,
		RequestID:     e.RequestID,
		CorrelationID: e.CorrelationID,
		DurationMs:    e.DurationMs,
		Metadata:      map[string]any(e.Metadata),
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
