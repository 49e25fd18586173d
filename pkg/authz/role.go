package authz

import (
	"context"
	"slices"
)

// RoleAuthorizer grants everything to members of AdminGroup and read
// access to members of ViewerGroup.
type RoleAuthorizer struct {
	AdminGroup  string
	ViewerGroup string
}

// Authorize implements Authorizer.
func (a *RoleAuthorizer) Authorize(_ context.Context, req AuthzRequest) (bool, error) {
	if a.AdminGroup != "" && slices.Contains(req.Groups, a.AdminGroup) {
		return true, nil
	}
	if a.ViewerGroup != "" && slices.Contains(req.Groups, a.ViewerGroup) {
		return req.Verb == VerbGet || req.Verb == VerbList, nil
	}
	return false, nil
}
