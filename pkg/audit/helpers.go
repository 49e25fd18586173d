package audit

import (
	"net/http"
	"strings"
)

const adminPrefix = "/api/messagelog/v1/"

// action describes what an admin request does.
type action struct {
	name         string
	resourceType string
	resourceID   string
}

// classify names the action of a mutating request. ok is false for
// requests that are not audited.
func classify(method, path string) (a action, ok bool) {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return action{}, false
	}

	sub, found := strings.CutPrefix(strings.TrimRight(path, "/"), adminPrefix)
	if !found {
		return action{name: strings.ToLower(method), resourceType: "unknown"}, true
	}

	switch {
	case sub == "timestamping:start":
		return action{name: "start-timestamping", resourceType: "timestamping"}, true
	case sub == "timestamping/status":
		return action{name: "set-timestamping-status", resourceType: "timestamping"}, true
	case sub == "archiving:start":
		return action{name: "start-archiving", resourceType: "archives"}, true
	case sub == "cleaning:start":
		return action{name: "start-cleaning", resourceType: "archives"}, true
	case strings.HasPrefix(sub, "records/") && strings.HasSuffix(sub, ":timestamp"):
		id := strings.TrimSuffix(strings.TrimPrefix(sub, "records/"), ":timestamp")
		return action{name: "timestamp-record", resourceType: "records", resourceID: id}, true
	}

	resource, _, _ := strings.Cut(sub, "/")
	resource, _, _ = strings.Cut(resource, ":")
	return action{name: strings.ToLower(method), resourceType: resource}, true
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return OutcomeDenied
	default:
		return OutcomeFailure
	}
}
