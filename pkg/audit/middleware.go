package audit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/secgw/messagelog/pkg/authz"
)

// Appender stores audit events.
type Appender interface {
	Append(ctx context.Context, event *Event) error
}

// AuditMiddleware records every mutating admin request after it is served.
// Write failures are logged and never change the response.
func AuditMiddleware(store Appender, cfg *AuditConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if cfg == nil || !cfg.Enabled || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			act, ok := classify(r.Method, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			outcome := outcomeFromStatus(status)
			if outcome == OutcomeDenied && !cfg.LogDenied {
				return
			}

			ctx := r.Context()
			event := &Event{
				Actor:        "anonymous",
				Action:       act.name,
				ResourceType: act.resourceType,
				ResourceID:   act.resourceID,
				Method:       r.Method,
				Path:         r.URL.Path,
				Outcome:      outcome,
				StatusCode:   status,
				RequestID:    middleware.GetReqID(ctx),
				DurationMs:   time.Since(start).Milliseconds(),
				CreatedAt:    start.UTC(),
			}
			if id, ok := authz.IdentityFromContext(ctx); ok && id.User != "" {
				event.Actor = id.User
				event.Groups = StringSlice(id.Groups)
			}
			event.CorrelationID = r.Header.Get("X-Correlation-ID")
			if event.CorrelationID == "" {
				event.CorrelationID = event.RequestID
			}
			if q := r.URL.RawQuery; q != "" {
				event.Metadata = Metadata{"query": q}
			}

			if err := store.Append(context.WithoutCancel(ctx), event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", event.RequestID)
			}
		})
	}
}
