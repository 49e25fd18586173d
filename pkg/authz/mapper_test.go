package authz

import (
	"net/http"
	"testing"
)

func TestMapRequest(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		path         string
		wantResource string
		wantVerb     string
	}{
		{"status", http.MethodGet, "/api/messagelog/v1/status", ResourceStatus, VerbGet},
		{"status trailing slash", http.MethodGet, "/api/messagelog/v1/status/", ResourceStatus, VerbGet},
		{"start timestamping", http.MethodPost, "/api/messagelog/v1/timestamping:start", ResourceTimestamping, VerbExecute},
		{"timestamp one record", http.MethodPost, "/api/messagelog/v1/records/42:timestamp", ResourceTimestamping, VerbExecute},
		{"set timestamping status", http.MethodPut, "/api/messagelog/v1/timestamping/status", ResourceTimestamping, VerbUpdate},
		{"start archiving", http.MethodPost, "/api/messagelog/v1/archiving:start", ResourceArchives, VerbExecute},
		{"start cleaning", http.MethodPost, "/api/messagelog/v1/cleaning:start", ResourceArchives, VerbExecute},
		{"list records", http.MethodGet, "/api/messagelog/v1/records", ResourceRecords, VerbList},
		{"get record", http.MethodGet, "/api/messagelog/v1/records/42", ResourceRecords, VerbGet},
		{"download asic", http.MethodGet, "/api/messagelog/v1/records/42/asic", ResourceRecords, VerbGet},
		{"list runs", http.MethodGet, "/api/messagelog/v1/runs", ResourceRuns, VerbList},
		{"get run", http.MethodGet, "/api/messagelog/v1/runs/abc", ResourceRuns, VerbGet},
		{"audit events", http.MethodGet, "/api/audit/v1/events", ResourceAudit, VerbList},

		{"delete record", http.MethodDelete, "/api/messagelog/v1/records/42", "", ""},
		{"post status", http.MethodPost, "/api/messagelog/v1/status", "", ""},
		{"post audit", http.MethodPost, "/api/audit/v1/events", "", ""},
		{"other api", http.MethodGet, "/api/other/v1/things", "", ""},
		{"root", http.MethodGet, "/", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapRequest(tt.method, tt.path)
			if got.Resource != tt.wantResource {
				t.Errorf("Resource = %q, want %q", got.Resource, tt.wantResource)
			}
			if got.Verb != tt.wantVerb {
				t.Errorf("Verb = %q, want %q", got.Verb, tt.wantVerb)
			}
		})
	}
}
