package authz

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RequirePermission returns middleware that enforces a specific resource/verb
// permission check for the identity stored in the request context.
func RequirePermission(authorizer Authorizer, resource, verb string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if check(w, r, authorizer, ResourceMapping{Resource: resource, Verb: verb}) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// AuthzMiddleware maps every request to a (resource, verb) pair with
// MapRequest and authorizes it. Unmapped requests are denied.
func AuthzMiddleware(authorizer Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mapping := MapRequest(r.Method, r.URL.Path)
			if mapping == UnknownMapping {
				writeDenied(w, http.StatusForbidden, "forbidden", "unknown endpoint, access denied")
				return
			}
			if check(w, r, authorizer, mapping) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// check authorizes r and writes the error response when it is not allowed.
func check(w http.ResponseWriter, r *http.Request, authorizer Authorizer, m ResourceMapping) bool {
	id, _ := IdentityFromContext(r.Context())
	allowed, err := authorizer.Authorize(r.Context(), AuthzRequest{
		User:     id.User,
		Groups:   id.Groups,
		Resource: m.Resource,
		Verb:     m.Verb,
	})
	if err != nil {
		writeDenied(w, http.StatusInternalServerError, "internal_error", "authorization check failed")
		return false
	}
	if !allowed {
		writeDenied(w, http.StatusForbidden, "forbidden",
			fmt.Sprintf("insufficient permissions for %s/%s", m.Resource, m.Verb))
		return false
	}
	return true
}

func writeDenied(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
