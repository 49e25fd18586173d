// Package authz provides authorization primitives for the message log admin
// API. Identities come from trusted proxy headers or bearer JWTs; decisions
// come from Kubernetes SubjectAccessReview, JWT group roles, or a no-op mode
// for development.
package authz

import "context"

// APIGroup is the API group for message log resources in Kubernetes RBAC.
const APIGroup = "messagelog.secgw.io"

// Resource names for RBAC mapping.
const (
	ResourceStatus       = "status"
	ResourceTimestamping = "timestamping"
	ResourceRecords      = "records"
	ResourceArchives     = "archives"
	ResourceRuns         = "runs"
	ResourceAudit        = "audit"
)

// Verb names for RBAC mapping.
const (
	VerbGet     = "get"
	VerbList    = "list"
	VerbUpdate  = "update"
	VerbExecute = "execute"
)

// AuthzRequest represents an authorization check.
type AuthzRequest struct {
	User     string
	Groups   []string
	Resource string
	Verb     string
}

// Authorizer checks whether a user is authorized to perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthzRequest) (bool, error)
}

// NoopAuthorizer allows everything. It backs auth mode "none".
type NoopAuthorizer struct{}

func (*NoopAuthorizer) Authorize(context.Context, AuthzRequest) (bool, error) { return true, nil }
