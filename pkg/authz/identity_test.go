package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityFromContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{User: "alice", Groups: []string{"ops"}})
	id, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "alice", id.User)
	assert.Equal(t, []string{"ops"}, id.Groups)
}

func TestHeaderIdentityMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		groups     string
		wantUser   string
		wantGroups []string
	}{
		{name: "user and groups", user: "alice", groups: "ops,auditors", wantUser: "alice", wantGroups: []string{"ops", "auditors"}},
		{name: "no headers", wantUser: "anonymous"},
		{name: "blank user", user: "  ", groups: "ops", wantUser: "anonymous", wantGroups: []string{"ops"}},
		{name: "spaces and empty segments", user: "bob", groups: " ops ,, auditors,", wantUser: "bob", wantGroups: []string{"ops", "auditors"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Identity
			var ok bool
			handler := HeaderIdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, ok = IdentityFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/messagelog/v1/status", nil)
			if tt.user != "" {
				req.Header.Set("X-Remote-User", tt.user)
			}
			if tt.groups != "" {
				req.Header.Set("X-Remote-Group", tt.groups)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			require.True(t, ok)
			assert.Equal(t, tt.wantUser, got.User)
			assert.Equal(t, tt.wantGroups, got.Groups)
		})
	}
}
