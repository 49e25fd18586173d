// Package taskqueue serializes logging and timestamping through a single
// worker goroutine. The worker owns the pending record list and the failure
// state; everything else talks to it by sending messages.
package taskqueue

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/secgw/messagelog/pkg/hashchain"
	"github.com/secgw/messagelog/pkg/records"
	"github.com/secgw/messagelog/pkg/timestamp"
)

var (
	// ErrCircuitOpen is returned once timestamping has been failing for
	// longer than the acceptable failure period.
	ErrCircuitOpen = errors.New("timestamping has been failing for longer than the acceptable period")

	// ErrQueueStopped is returned when the worker is no longer running.
	ErrQueueStopped = errors.New("task queue stopped")

	// ErrRecordNotFound is returned when forcing a timestamp for an unknown
	// record.
	ErrRecordNotFound = errors.New("log record not found")
)

// Status is the last known timestamping outcome.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Store is the part of the record store the worker uses.
type Store interface {
	PendingIDs(ctx context.Context) ([]int64, error)
	LoadDigests(ctx context.Context, ids []int64) ([]records.DigestRow, error)
	AttachTimestamp(ctx context.Context, ids []int64, ts *records.TimestampRecord, hashChains []string) error
	GetTimestampRecord(ctx context.Context, id int64) (*records.TimestampRecord, error)
}

// Timestamper obtains a token over a chain result.
type Timestamper interface {
	RequestTimestamp(ctx context.Context, chainResult []byte, urls []string) (*timestamp.Token, error)
}

// TSAStatus is the outcome of the most recent request to one TSA.
type TSAStatus struct {
	URL   string    `json:"url"`
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}

// Snapshot is a copy of the worker state.
type Snapshot struct {
	Pending      int                  `json:"pending"`
	Status       Status               `json:"status"`
	FailureSince *time.Time           `json:"failureSince,omitempty"`
	LastSuccess  *time.Time           `json:"lastSuccess,omitempty"`
	LastError    string               `json:"lastError,omitempty"`
	CircuitOpen  bool                 `json:"circuitOpen"`
	Immediate    bool                 `json:"immediate"`
	TSA          map[string]TSAStatus `json:"tsa,omitempty"`
}

// Queue is the timestamping task queue.
type Queue struct {
	store    Store
	tsa      Timestamper
	cfg      *Config
	observer Observer
	logger   *slog.Logger

	box     *mailbox
	done    chan struct{}
	running sync.Once

	// Owned by the worker goroutine.
	pending      []int64
	pendingSet   mapset.Set[int64]
	status       Status
	failureSince *time.Time
	lastSuccess  *time.Time
	lastError    string
	tsaStatus    map[string]TSAStatus
}

// New creates a Queue. Call Run to start the worker.
func New(store Store, tsa Timestamper, cfg *Config, observer Observer, logger *slog.Logger) *Queue {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:      store,
		tsa:        tsa,
		cfg:        cfg,
		observer:   observer,
		logger:     logger,
		box:        newMailbox(),
		done:       make(chan struct{}),
		pendingSet: mapset.NewThreadUnsafeSet[int64](),
		status:     StatusUnknown,
		tsaStatus:  make(map[string]TSAStatus),
	}
}

// Run processes messages until ctx is cancelled. Records left untimestamped
// by a previous run are queued first.
func (q *Queue) Run(ctx context.Context) {
	started := false
	q.running.Do(func() { started = true })
	if !started {
		q.logger.Warn("task queue already running")
		return
	}
	defer close(q.done)

	if ids, err := q.store.PendingIDs(ctx); err != nil {
		q.logger.Error("failed to restore pending records", "error", err)
	} else {
		for _, id := range ids {
			q.addPending(id)
		}
		if len(ids) > 0 {
			q.logger.Info("restored pending records", "count", len(ids))
		}
	}

	q.logger.Info("task queue started",
		"recordsLimit", q.cfg.recordsLimit(),
		"immediate", q.cfg.Immediate,
		"acceptableFailurePeriod", q.cfg.AcceptableFailurePeriod.String())

	for {
		if ctx.Err() != nil {
			break
		}
		msg, ok := q.box.pop()
		if !ok {
			select {
			case <-ctx.Done():
			case <-q.box.signal:
			}
			continue
		}
		q.handle(ctx, msg)
	}

	for _, msg := range q.box.close() {
		if msg.reply != nil {
			msg.reply <- result{err: ErrQueueStopped}
		}
	}
	q.logger.Info("task queue stopped", "pending", len(q.pending))
}

// Log queues a stored record for timestamping and returns once the worker
// has added it to the pending list, so a later StartTimestamping or Status
// sees it. In immediate mode it waits until the record has been timestamped
// on its own and returns the outcome.
func (q *Queue) Log(ctx context.Context, recordID int64) error {
	_, err := q.call(ctx, message{kind: KindLog, recordID: recordID, immediate: q.cfg.Immediate})
	return err
}

// StartTimestamping asks the worker to timestamp everything pending. It
// returns once the request is queued.
func (q *Queue) StartTimestamping(ctx context.Context) error {
	return q.send(message{kind: KindStartTimestamping})
}

// ForceTimestamp timestamps one record right away and returns its timestamp
// record. A record that already has one gets it back without a TSA call.
func (q *Queue) ForceTimestamp(ctx context.Context, recordID int64) (*records.TimestampRecord, error) {
	res, err := q.call(ctx, message{kind: KindForceTimestamp, recordID: recordID})
	if err != nil {
		return nil, err
	}
	return res.ts, nil
}

// SetStatus records an externally observed timestamping status.
func (q *Queue) SetStatus(ctx context.Context, status Status) error {
	return q.send(message{kind: KindSetStatus, status: status})
}

// Status returns a copy of the worker state.
func (q *Queue) Status(ctx context.Context) (Snapshot, error) {
	res, err := q.call(ctx, message{kind: KindStatus})
	if err != nil {
		return Snapshot{}, err
	}
	return res.snapshot, nil
}

// Admit returns ErrCircuitOpen while new records must be refused.
func (q *Queue) Admit(ctx context.Context) error {
	snap, err := q.Status(ctx)
	if err != nil {
		return err
	}
	if snap.CircuitOpen {
		return ErrCircuitOpen
	}
	return nil
}

func (q *Queue) send(msg message) error {
	if !q.box.push(msg) {
		return ErrQueueStopped
	}
	return nil
}

func (q *Queue) call(ctx context.Context, msg message) (result, error) {
	msg.reply = make(chan result, 1)
	if err := q.send(msg); err != nil {
		return result{}, err
	}
	select {
	case res := <-msg.reply:
		return res, res.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-q.done:
		select {
		case res := <-msg.reply:
			return res, res.err
		default:
			return result{}, ErrQueueStopped
		}
	}
}

func (q *Queue) handle(ctx context.Context, msg message) {
	var res result
	switch msg.kind {
	case KindLog:
		q.addPending(msg.recordID)
		if msg.immediate {
			res.ts, res.err = q.timestampOne(ctx, msg.recordID)
		}
	case KindStartTimestamping:
		res.err = q.timestampPending(ctx)
	case KindForceTimestamp:
		res.ts, res.err = q.force(ctx, msg.recordID)
	case KindSetStatus:
		q.setStatus(msg.status)
	case KindStatus:
		res.snapshot = q.snapshot()
	}
	if msg.reply != nil {
		msg.reply <- res
	}
	q.observer.MessageHandled(msg.kind, msg.recordID)
}

func (q *Queue) addPending(id int64) {
	if q.pendingSet.Add(id) {
		q.pending = append(q.pending, id)
	}
}

func (q *Queue) removePending(ids []int64) {
	drop := mapset.NewThreadUnsafeSet(ids...)
	kept := q.pending[:0]
	for _, id := range q.pending {
		if !drop.Contains(id) {
			kept = append(kept, id)
		}
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = 0
	}
	q.pending = kept
	q.pendingSet.RemoveAll(ids...)
}

// timestampPending works through the pending list in batches of at most
// RecordsLimit, oldest first, stopping at the first failure.
func (q *Queue) timestampPending(ctx context.Context) error {
	limit := q.cfg.recordsLimit()
	for len(q.pending) > 0 {
		n := min(limit, len(q.pending))
		batch := append([]int64(nil), q.pending[:n]...)
		if _, err := q.timestampBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) timestampOne(ctx context.Context, id int64) (*records.TimestampRecord, error) {
	return q.timestampBatch(ctx, []int64{id})
}

func (q *Queue) force(ctx context.Context, id int64) (*records.TimestampRecord, error) {
	rows, err := q.store.LoadDigests(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	if existing := rows[0].TimestampRecordID; existing != nil {
		q.removePending([]int64{id})
		return q.store.GetTimestampRecord(ctx, *existing)
	}
	return q.timestampBatch(ctx, []int64{id})
}

// timestampBatch builds the chain over ids, obtains a token and stores it.
// Ids that no longer need a timestamp are dropped from the pending list
// without a TSA call.
func (q *Queue) timestampBatch(ctx context.Context, ids []int64) (*records.TimestampRecord, error) {
	rows, err := q.store.LoadDigests(ctx, ids)
	if err != nil {
		return nil, q.fail(ids, err)
	}

	var (
		todo    []int64
		digests [][]byte
	)
	for _, r := range rows {
		if r.TimestampRecordID != nil {
			continue
		}
		d, err := hex.DecodeString(r.SignatureHash)
		if err != nil {
			return nil, q.fail(ids, fmt.Errorf("record %d has a malformed signature hash: %w", r.ID, err))
		}
		todo = append(todo, r.ID)
		digests = append(digests, d)
	}
	if len(todo) == 0 {
		q.removePending(ids)
		return nil, nil
	}

	chain, err := hashchain.Build(digests, q.cfg.HashAlgorithm)
	if err != nil {
		return nil, q.fail(ids, err)
	}
	hashChains := make([]string, len(chain.Proofs))
	for i, p := range chain.Proofs {
		if hashChains[i], err = p.Marshal(); err != nil {
			return nil, q.fail(ids, err)
		}
	}

	tok, err := q.tsa.RequestTimestamp(ctx, chain.Result, q.cfg.TSAURLs)
	q.recordTSAOutcome(tok, err)
	if err != nil {
		return nil, q.fail(ids, err)
	}

	ts := &records.TimestampRecord{
		Time:            tok.Time,
		TimestampDER:    tok.DER,
		HashChainResult: chain.Result,
		TSAURL:          tok.URL,
	}
	if err := q.store.AttachTimestamp(ctx, todo, ts, hashChains); err != nil {
		if errors.Is(err, records.ErrNothingToAttach) {
			q.removePending(ids)
			return nil, nil
		}
		return nil, q.fail(ids, err)
	}
	q.observer.RecordsPersisted(ts)

	q.removePending(ids)
	q.succeed()
	q.logger.Info("timestamped batch", "records", len(ts.RecordIDs), "timestampRecordID", ts.ID, "tsa", ts.TSAURL)
	q.observer.BatchTimestamped(ts.RecordIDs, ts)
	return ts, nil
}

func (q *Queue) fail(ids []int64, err error) error {
	now := q.cfg.now()
	if q.failureSince == nil {
		q.failureSince = &now
	}
	q.lastError = err.Error()
	q.setStatus(StatusFailure)
	q.logger.Warn("timestamping failed",
		"records", len(ids),
		"failingSince", q.failureSince.Format(time.RFC3339),
		"error", err)
	q.observer.BatchFailed(ids, err)
	return err
}

func (q *Queue) succeed() {
	now := q.cfg.now()
	q.failureSince = nil
	q.lastSuccess = &now
	q.lastError = ""
	q.setStatus(StatusSuccess)
}

func (q *Queue) setStatus(s Status) {
	if q.status == s {
		return
	}
	q.status = s
	q.observer.StatusChanged(s)
}

func (q *Queue) recordTSAOutcome(tok *timestamp.Token, err error) {
	now := q.cfg.now()
	var failed *timestamp.FailedError
	if errors.As(err, &failed) {
		for url, e := range failed.Errors {
			q.tsaStatus[url] = TSAStatus{URL: url, Error: e.Error(), Time: now}
		}
	}
	if tok != nil {
		q.tsaStatus[tok.URL] = TSAStatus{URL: tok.URL, OK: true, Time: now}
	}
}

func (q *Queue) circuitOpen() bool {
	if q.cfg.Immediate || q.cfg.AcceptableFailurePeriod <= 0 || q.failureSince == nil {
		return false
	}
	return q.cfg.now().Sub(*q.failureSince) > q.cfg.AcceptableFailurePeriod
}

func (q *Queue) snapshot() Snapshot {
	s := Snapshot{
		Pending:     len(q.pending),
		Status:      q.status,
		LastError:   q.lastError,
		CircuitOpen: q.circuitOpen(),
		Immediate:   q.cfg.Immediate,
		TSA:         make(map[string]TSAStatus, len(q.tsaStatus)),
	}
	if q.failureSince != nil {
		t := *q.failureSince
		s.FailureSince = &t
	}
	if q.lastSuccess != nil {
		t := *q.lastSuccess
		s.LastSuccess = &t
	}
	for k, v := range q.tsaStatus {
		s.TSA[k] = v
	}
	return s
}
