package taskqueue

import (
	"sync"

	"github.com/secgw/messagelog/pkg/records"
)

// MessageKind identifies a queue message.
type MessageKind string

const (
	KindLog               MessageKind = "log"
	KindStartTimestamping MessageKind = "start-timestamping"
	KindForceTimestamp    MessageKind = "force-timestamp"
	KindSetStatus         MessageKind = "set-status"
	KindStatus            MessageKind = "status"
)

// control reports whether the kind jumps ahead of queued data messages.
func (k MessageKind) control() bool {
	switch k {
	case KindStartTimestamping, KindSetStatus, KindStatus:
		return true
	}
	return false
}

type message struct {
	kind      MessageKind
	recordID  int64
	status    Status
	immediate bool
	reply     chan result
}

type result struct {
	ts       *records.TimestampRecord
	snapshot Snapshot
	err      error
}

// mailbox is an unbounded two-lane queue with a single consumer. pop always
// drains the control lane before taking from the normal lane; each lane is
// FIFO.
type mailbox struct {
	mu      sync.Mutex
	control []message
	normal  []message
	closed  bool
	signal  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(msg message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if msg.kind.control() {
		m.control = append(m.control, msg)
	} else {
		m.normal = append(m.normal, msg)
	}
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) pop() (message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.control) > 0 {
		msg := m.control[0]
		m.control[0] = message{}
		m.control = m.control[1:]
		return msg, true
	}
	if len(m.normal) > 0 {
		msg := m.normal[0]
		m.normal[0] = message{}
		m.normal = m.normal[1:]
		return msg, true
	}
	return message{}, false
}

// close refuses further pushes and returns what was still queued.
func (m *mailbox) close() []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	rest := append(m.control, m.normal...)
	m.control, m.normal = nil, nil
	return rest
}
