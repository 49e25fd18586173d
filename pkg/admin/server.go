// Package admin serves the message log's operational HTTP API: timestamping
// controls, maintenance triggers, record lookups and ASiC export.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/secgw/messagelog/pkg/audit"
	"github.com/secgw/messagelog/pkg/authz"
	"github.com/secgw/messagelog/pkg/cache"
	"github.com/secgw/messagelog/pkg/jobs"
	"github.com/secgw/messagelog/pkg/records"
	"github.com/secgw/messagelog/pkg/taskqueue"
)

// BasePath is the prefix of the message log API.
const BasePath = "/api/messagelog/v1"

// MessageLog is the part of the message log manager the API drives.
type MessageLog interface {
	StartTimestamping(ctx context.Context) error
	SetTimestampingStatus(ctx context.Context, status taskqueue.Status) error
	Timestamp(ctx context.Context, recordID int64) (*records.TimestampRecord, error)
	Status(ctx context.Context) (taskqueue.Snapshot, error)
	FindByQueryID(ctx context.Context, queryID string, from, to time.Time) (*records.LogRecord, error)
	FindRecords(ctx context.Context, q records.Query) ([]records.LogRecord, error)
	Record(ctx context.Context, id int64) (*records.LogRecord, error)
}

// RecordStore reports store health and counters.
type RecordStore interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (*records.Stats, error)
}

// Maintenance starts archive and clean cycles out of schedule.
type Maintenance interface {
	StartArchiving(ctx context.Context) error
	StartCleaning(ctx context.Context) error
}

// Options wires the API to its collaborators. MessageLog and Records are
// required; everything else is optional.
type Options struct {
	MessageLog  MessageLog
	Records     RecordStore
	Maintenance Maintenance
	Runs        *jobs.RunStore

	AuditStore  *audit.Store
	AuditConfig *audit.AuditConfig

	// Identity resolves the caller; defaults to the trusted header identity.
	Identity   func(http.Handler) http.Handler
	Authorizer authz.Authorizer

	Cache       *cache.LRUCache
	CORSOrigins []string
	Logger      *slog.Logger

	// TriggerInterval is the minimum time between two manual triggers of
	// the same operation. Zero disables the limit.
	TriggerInterval time.Duration
}

// Server holds the API handlers.
type Server struct {
	opts      Options
	logger    *slog.Logger
	limiter   *triggerLimiter
	startedAt time.Time
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Identity == nil {
		opts.Identity = authz.HeaderIdentityMiddleware()
	}
	if opts.Authorizer == nil {
		opts.Authorizer = &authz.NoopAuthorizer{}
	}
	return &Server{
		opts:      opts,
		logger:    logger,
		limiter:   newTriggerLimiter(opts.TriggerInterval),
		startedAt: time.Now(),
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After", "X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.opts.Identity)

		if s.opts.AuditStore != nil && s.opts.AuditConfig != nil && s.opts.AuditConfig.Enabled {
			r.Use(audit.AuditMiddleware(s.opts.AuditStore, s.opts.AuditConfig, s.logger))
			s.logger.Info("audit middleware enabled",
				"logDenied", s.opts.AuditConfig.LogDenied,
				"retentionDays", s.opts.AuditConfig.RetentionDays)
		}

		r.Use(authz.AuthzMiddleware(s.opts.Authorizer))

		r.Route(BasePath, func(r chi.Router) {
			r.Get("/status", s.statusHandler)
			r.Post("/timestamping:start", s.startTimestampingHandler)
			r.Put("/timestamping/status", s.setStatusHandler)
			r.Post("/archiving:start", s.startArchivingHandler)
			r.Post("/cleaning:start", s.startCleaningHandler)

			r.Get("/records", s.listRecordsHandler)
			r.Get("/records/{recordRef}", s.getRecordHandler)
			// POST /records/{id}:timestamp
			r.Post("/records/{recordRef}", s.timestampRecordHandler)
			r.With(cache.Middleware(s.opts.Cache)).Get("/records/{recordRef}/asic", s.asicHandler)

			if s.opts.Runs != nil {
				r.Mount("/runs", jobs.Router(s.opts.Runs, nil))
			}
		})

		if s.opts.AuditStore != nil {
			r.Mount("/api/audit/v1", audit.Router(s.opts.AuditStore, nil))
		}
	})

	return r
}
