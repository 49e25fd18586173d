package authz

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// mockAuthorizer is a test Authorizer that counts calls and returns a configurable result.
type mockAuthorizer struct {
	allowed bool
	err     error
	calls   atomic.Int64
}

func (m *mockAuthorizer) Authorize(_ context.Context, _ AuthzRequest) (bool, error) {
	m.calls.Add(1)
	return m.allowed, m.err
}

func TestCachedAuthorizer_CacheHit(t *testing.T) {
	inner := &mockAuthorizer{allowed: true}
	cached := NewCachedAuthorizer(inner, time.Minute)

	req := AuthzRequest{User: "alice", Resource: ResourceRecords, Verb: VerbGet}

	for i := 0; i < 3; i++ {
		allowed, err := cached.Authorize(context.Background(), req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Error("expected allowed=true")
		}
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}
}

func TestCachedAuthorizer_CacheExpiry(t *testing.T) {
	inner := &mockAuthorizer{allowed: true}
	cached := NewCachedAuthorizer(inner, 10*time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cached.now = func() time.Time { return now }

	req := AuthzRequest{User: "alice", Resource: ResourceStatus, Verb: VerbGet}
	_, _ = cached.Authorize(context.Background(), req)

	now = now.Add(9 * time.Second)
	_, _ = cached.Authorize(context.Background(), req)
	if inner.calls.Load() != 1 {
		t.Fatalf("inner calls = %d, want 1 before expiry", inner.calls.Load())
	}

	now = now.Add(2 * time.Second)
	_, _ = cached.Authorize(context.Background(), req)
	if inner.calls.Load() != 2 {
		t.Errorf("inner calls = %d, want 2 after expiry", inner.calls.Load())
	}
}

func TestCachedAuthorizer_DistinctRequests(t *testing.T) {
	inner := &mockAuthorizer{allowed: false}
	cached := NewCachedAuthorizer(inner, time.Minute)

	reqs := []AuthzRequest{
		{User: "alice", Resource: ResourceRecords, Verb: VerbGet},
		{User: "alice", Resource: ResourceRecords, Verb: VerbList},
		{User: "bob", Resource: ResourceRecords, Verb: VerbGet},
		{User: "alice", Groups: []string{"ops"}, Resource: ResourceRecords, Verb: VerbGet},
	}
	for _, req := range reqs {
		if _, err := cached.Authorize(context.Background(), req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls.Load() != int64(len(reqs)) {
		t.Errorf("inner calls = %d, want %d", inner.calls.Load(), len(reqs))
	}
}

func TestCachedAuthorizer_ErrorsNotCached(t *testing.T) {
	inner := &mockAuthorizer{err: errors.New("boom")}
	cached := NewCachedAuthorizer(inner, time.Minute)

	req := AuthzRequest{User: "alice", Resource: ResourceAudit, Verb: VerbList}
	for i := 0; i < 2; i++ {
		if _, err := cached.Authorize(context.Background(), req); err == nil {
			t.Fatal("expected error")
		}
	}
	if inner.calls.Load() != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls.Load())
	}
}
