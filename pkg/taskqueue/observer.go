package taskqueue

import "github.com/secgw/messagelog/pkg/records"

// Observer is called by the worker goroutine at fixed points. Calls happen
// inside the worker's turn, so an implementation that blocks holds up the
// queue.
type Observer interface {
	// MessageHandled runs after every message. recordID is zero for
	// messages that carry none.
	MessageHandled(kind MessageKind, recordID int64)
	// RecordsPersisted runs after a timestamp record was stored.
	RecordsPersisted(ts *records.TimestampRecord)
	// BatchTimestamped runs after a batch was timestamped and removed from
	// the pending list.
	BatchTimestamped(ids []int64, ts *records.TimestampRecord)
	// BatchFailed runs after a TSA or persistence failure.
	BatchFailed(ids []int64, err error)
	// StatusChanged runs when the timestamping status changes.
	StatusChanged(status Status)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) MessageHandled(MessageKind, int64) {}
func (NopObserver) RecordsPersisted(*records.TimestampRecord) {}
func (NopObserver) BatchTimestamped([]int64, *records.TimestampRecord) {}
func (NopObserver) BatchFailed([]int64, error) {}
func (NopObserver) StatusChanged(Status) {}

// Observers fans events out in order.
type Observers []Observer

func (o Observers) MessageHandled(kind MessageKind, recordID int64) {
	for _, x := range o {
		x.MessageHandled(kind, recordID)
	}
}

func (o Observers) RecordsPersisted(ts *records.TimestampRecord) {
	for _, x := range o {
		x.RecordsPersisted(ts)
	}
}

func (o Observers) BatchTimestamped(ids []int64, ts *records.TimestampRecord) {
	for _, x := range o {
		x.BatchTimestamped(ids, ts)
	}
}

func (o Observers) BatchFailed(ids []int64, err error) {
	for _, x := range o {
		x.BatchFailed(ids, err)
	}
}

func (o Observers) StatusChanged(status Status) {
	for _, x := range o {
		x.StatusChanged(status)
	}
}
