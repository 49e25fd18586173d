package jobs

import (
	"github.com/go-chi/chi/v5"

	"github.com/secgw/messagelog/pkg/authz"
)

// Router creates a chi.Router for the run history API.
// When authorizer is non-nil, endpoints require runs:list and runs:get.
func Router(store *RunStore, authorizer authz.Authorizer) chi.Router {
	r := chi.NewRouter()

	listHandler := ListRunsHandler(store)
	getHandler := GetRunHandler(store)

	if authorizer != nil {
		r.Get("/", authz.RequirePermission(authorizer, authz.ResourceRuns, authz.VerbList)(listHandler).ServeHTTP)
		r.Get("/{runId}", authz.RequirePermission(authorizer, authz.ResourceRuns, authz.VerbGet)(getHandler).ServeHTTP)
	} else {
		r.Get("/", listHandler)
		r.Get("/{runId}", getHandler)
	}

	return r
}
