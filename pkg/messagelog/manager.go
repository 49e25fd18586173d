// Package messagelog is the entry point of the message log: it turns signed
// messages into stored records, hands them to the timestamping queue and
// exposes the out-of-band timestamping controls.
package messagelog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/secgw/messagelog/pkg/digest"
	"github.com/secgw/messagelog/pkg/records"
	"github.com/secgw/messagelog/pkg/taskqueue"
)

// Config controls what the manager accepts and stores.
type Config struct {
	// HashAlgorithm digests signatures into chain leaves.
	HashAlgorithm string

	// BodyLogging stores REST bodies and SOAP attachments. When off only the
	// message text and signature are kept.
	BodyLogging bool

	// MaxLoggableBodySize limits a stored body or attachment, in bytes.
	// Zero means unlimited.
	MaxLoggableBodySize int64

	// TruncatedBodyAllowed stores oversized bodies cut to the limit instead
	// of refusing the message.
	TruncatedBodyAllowed bool

	// TSAURLs must not be empty; messages are refused without a provider.
	TSAURLs []string

	// Immediate mirrors the task queue setting. Log then only succeeds once
	// the record carries a timestamp.
	Immediate bool

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() *Config {
	return &Config{
		HashAlgorithm:       digest.Default,
		BodyLogging:         true,
		MaxLoggableBodySize: 10 << 20,
		Now:                 time.Now,
	}
}

// Store is the part of the record store the manager uses.
type Store interface {
	Save(ctx context.Context, r *records.LogRecord) (int64, error)
	Get(ctx context.Context, id int64) (*records.LogRecord, error)
	FindByQueryID(ctx context.Context, queryID string, from, to time.Time) (*records.LogRecord, error)
	FindByQuery(ctx context.Context, q records.Query) ([]records.LogRecord, error)
}

// Queue is the part of the task queue the manager uses.
type Queue interface {
	Admit(ctx context.Context) error
	Log(ctx context.Context, recordID int64) error
	StartTimestamping(ctx context.Context) error
	ForceTimestamp(ctx context.Context, recordID int64) (*records.TimestampRecord, error)
	SetStatus(ctx context.Context, status taskqueue.Status) error
	Status(ctx context.Context) (taskqueue.Snapshot, error)
}

// Manager is the message log façade.
type Manager struct {
	store  Store
	queue  Queue
	cfg    *Config
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(store Store, queue Queue, cfg *Config, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, queue: queue, cfg: cfg, logger: logger}
}

// Log stores msg and queues it for timestamping. The message is refused
// with CodeTimestampingFailed while the circuit breaker is open.
func (m *Manager) Log(ctx context.Context, msg *SignedMessage) (*records.LogRecord, error) {
	if err := m.validate(msg); err != nil {
		return nil, err
	}
	if len(m.cfg.TSAURLs) == 0 {
		return nil, &Error{Code: CodeNoTimestampingProvider, Msg: "cannot timestamp messages: no timestamping services configured"}
	}
	if err := m.queue.Admit(ctx); err != nil {
		return nil, &Error{Code: CodeTimestampingFailed, Msg: "cannot timestamp messages", Err: err}
	}

	rec, err := m.newRecord(msg)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.Save(ctx, rec); err != nil {
		return nil, &Error{Code: CodeStoreFailed, Err: err}
	}

	if err := m.queue.Log(ctx, rec.ID); err != nil {
		if !m.cfg.Immediate && errors.Is(err, taskqueue.ErrQueueStopped) {
			// Stored records are queued again when the worker starts.
			m.logger.Warn("record stored but not queued", "id", rec.ID, "error", err)
			return rec, nil
		}
		return nil, &Error{Code: CodeTimestampFailed, Msg: "timestamping failed", Err: err}
	}
	return rec, nil
}

// Timestamp timestamps one record now, or returns its existing timestamp.
func (m *Manager) Timestamp(ctx context.Context, recordID int64) (*records.TimestampRecord, error) {
	ts, err := m.queue.ForceTimestamp(ctx, recordID)
	switch {
	case errors.Is(err, taskqueue.ErrRecordNotFound):
		return nil, &Error{Code: CodeRecordNotFound, Err: err}
	case err != nil:
		return nil, &Error{Code: CodeTimestampFailed, Err: err}
	}
	return ts, nil
}

// SetTimestampingStatus reports an externally observed TSA status.
func (m *Manager) SetTimestampingStatus(ctx context.Context, status taskqueue.Status) error {
	return m.queue.SetStatus(ctx, status)
}

// IsTimestampFailed reports whether new messages are being refused. An
// unreachable queue counts as failed.
func (m *Manager) IsTimestampFailed(ctx context.Context) bool {
	snap, err := m.queue.Status(ctx)
	if err != nil {
		return true
	}
	return snap.CircuitOpen
}

// StartTimestamping triggers a timestamping cycle.
func (m *Manager) StartTimestamping(ctx context.Context) error {
	return m.queue.StartTimestamping(ctx)
}

// Status returns the queue state.
func (m *Manager) Status(ctx context.Context) (taskqueue.Snapshot, error) {
	return m.queue.Status(ctx)
}

// FindByQueryID returns the first record with queryID logged within
// [from, to], or nil.
func (m *Manager) FindByQueryID(ctx context.Context, queryID string, from, to time.Time) (*records.LogRecord, error) {
	r, err := m.store.FindByQueryID(ctx, queryID, from, to)
	if err != nil {
		return nil, &Error{Code: CodeStoreFailed, Err: err}
	}
	return r, nil
}

// FindRecords returns the records matching q exactly.
func (m *Manager) FindRecords(ctx context.Context, q records.Query) ([]records.LogRecord, error) {
	if q.QueryID == "" {
		return nil, validationError("query id is required")
	}
	out, err := m.store.FindByQuery(ctx, q)
	if err != nil {
		return nil, &Error{Code: CodeStoreFailed, Err: err}
	}
	return out, nil
}

// Record returns one record with its attachments and timestamp.
func (m *Manager) Record(ctx context.Context, id int64) (*records.LogRecord, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, &Error{Code: CodeStoreFailed, Err: err}
	}
	if r == nil {
		return nil, &Error{Code: CodeRecordNotFound, Msg: "no such record"}
	}
	return r, nil
}

func (m *Manager) validate(msg *SignedMessage) error {
	switch {
	case msg == nil:
		return validationError("message is missing")
	case len(msg.Signature.Signature) == 0:
		return validationError("signature is missing")
	case msg.QueryID == "":
		return validationError("query id is missing")
	case msg.Client.Instance == "" || msg.Client.MemberClass == "" || msg.Client.MemberCode == "":
		return validationError("client identifier is incomplete")
	case msg.Rest == nil && len(msg.Message) == 0:
		return validationError("message content is missing")
	case msg.Rest != nil && msg.Rest.Status == 0 && (msg.Rest.Method == "" || msg.Rest.Path == ""):
		return validationError("REST request line is incomplete")
	case msg.Signature.IsBatchSignature() && len(msg.Signature.HashChain) == 0:
		return validationError("batch signature has no hash chain")
	}
	return nil
}

func (m *Manager) newRecord(msg *SignedMessage) (*records.LogRecord, error) {
	sigHash, err := digest.SumHex(m.cfg.HashAlgorithm, msg.Signature.Signature)
	if err != nil {
		return nil, validationError("unsupported hash algorithm %q", m.cfg.HashAlgorithm)
	}

	now := time.Now
	if m.cfg.Now != nil {
		now = m.cfg.Now
	}
	rec := &records.LogRecord{
		Kind:           msg.kind(),
		QueryID:        msg.QueryID,
		XRequestID:     msg.XRequestID,
		Time:           now(),
		Response:       msg.Response,
		Client:         msg.Client,
		ServiceID:      msg.ServiceID,
		Signature:      msg.Signature.Signature,
		SignatureHash:  sigHash,
		SigningCertRef: msg.Signature.CertRef,
	}
	if msg.Signature.IsBatchSignature() {
		rec.SignatureHashChainResult = msg.Signature.HashChainResult
		rec.SignatureHashChain = msg.Signature.HashChain
	}

	var bodies [][]byte
	if msg.Rest != nil {
		line, headers := restText(msg.Rest)
		rec.Message = []byte(line + "\r\n" + headers)
		rec.RestMethod = msg.Rest.Method
		rec.RestPath = msg.Rest.Path
		if rec.RestHeadersHash, err = digest.SumHex(m.cfg.HashAlgorithm, []byte(headers)); err != nil {
			return nil, validationError("unsupported hash algorithm %q", m.cfg.HashAlgorithm)
		}
		if len(msg.Body) > 0 {
			bodies = [][]byte{msg.Body}
		}
	} else {
		rec.Message = msg.Message
		bodies = msg.Attachments
	}

	if !m.cfg.BodyLogging {
		return rec, nil
	}
	for i, b := range bodies {
		if limit := m.cfg.MaxLoggableBodySize; limit > 0 && int64(len(b)) > limit {
			if !m.cfg.TruncatedBodyAllowed {
				return nil, validationError("message size exceeds maximum loggable size of %d bytes", limit)
			}
			b = b[:limit]
			rec.BodyTruncated = true
		}
		rec.Attachments = append(rec.Attachments, records.Attachment{
			Position:    i,
			ContentType: "application/octet-stream",
			Data:        b,
		})
	}
	return rec, nil
}
