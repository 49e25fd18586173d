package authz

import (
	"net/http"
	"strings"
)

// ResourceMapping maps an HTTP request to a resource and verb for authorization.
type ResourceMapping struct {
	Resource string
	Verb     string
}

// UnknownMapping is returned when no known pattern matches the request.
// Callers should deny requests with this mapping by default.
var UnknownMapping = ResourceMapping{Resource: "", Verb: ""}

const apiPrefix = "/api/messagelog/v1"

// MapRequest maps an HTTP method and URL path to a ResourceMapping.
func MapRequest(method, path string) ResourceMapping {
	path = strings.TrimRight(path, "/")

	if strings.HasPrefix(path, "/api/audit/") {
		if method == http.MethodGet {
			return ResourceMapping{Resource: ResourceAudit, Verb: VerbList}
		}
		return UnknownMapping
	}

	sub, ok := strings.CutPrefix(path, apiPrefix)
	if !ok {
		return UnknownMapping
	}

	switch method {
	case http.MethodGet:
		switch {
		case sub == "/status":
			return ResourceMapping{Resource: ResourceStatus, Verb: VerbGet}
		case sub == "/records":
			return ResourceMapping{Resource: ResourceRecords, Verb: VerbList}
		case strings.HasPrefix(sub, "/records/"):
			return ResourceMapping{Resource: ResourceRecords, Verb: VerbGet}
		case sub == "/runs":
			return ResourceMapping{Resource: ResourceRuns, Verb: VerbList}
		case strings.HasPrefix(sub, "/runs/"):
			return ResourceMapping{Resource: ResourceRuns, Verb: VerbGet}
		}

	case http.MethodPost:
		switch {
		case sub == "/timestamping:start":
			return ResourceMapping{Resource: ResourceTimestamping, Verb: VerbExecute}
		case strings.HasPrefix(sub, "/records/") && strings.HasSuffix(sub, ":timestamp"):
			return ResourceMapping{Resource: ResourceTimestamping, Verb: VerbExecute}
		case sub == "/archiving:start", sub == "/cleaning:start":
			return ResourceMapping{Resource: ResourceArchives, Verb: VerbExecute}
		}

	case http.MethodPut:
		if sub == "/timestamping/status" {
			return ResourceMapping{Resource: ResourceTimestamping, Verb: VerbUpdate}
		}
	}

	return UnknownMapping
}
