package audit

import (
	"github.com/go-chi/chi/v5"

	"github.com/secgw/messagelog/pkg/authz"
)

// Router creates a chi.Router for the audit API.
// When authorizer is non-nil, endpoints require audit:list and audit:get.
func Router(store *Store, authorizer authz.Authorizer) chi.Router {
	r := chi.NewRouter()

	list := ListEventsHandler(store)
	get := GetEventHandler(store)

	if authorizer != nil {
		r.Get("/events", authz.RequirePermission(authorizer, authz.ResourceAudit, authz.VerbList)(list).ServeHTTP)
		r.Get("/events/{eventId}", authz.RequirePermission(authorizer, authz.ResourceAudit, authz.VerbGet)(get).ServeHTTP)
	} else {
		r.Get("/events", list)
		r.Get("/events/{eventId}", get)
	}
	return r
}
