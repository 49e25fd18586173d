package audit

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		method   string
		path     string
		audited  bool
		action   string
		resource string
		id       string
	}{
		{http.MethodPost, "/api/messagelog/v1/timestamping:start", true, "start-timestamping", "timestamping", ""},
		{http.MethodPut, "/api/messagelog/v1/timestamping/status", true, "set-timestamping-status", "timestamping", ""},
		{http.MethodPost, "/api/messagelog/v1/archiving:start", true, "start-archiving", "archives", ""},
		{http.MethodPost, "/api/messagelog/v1/cleaning:start/", true, "start-cleaning", "archives", ""},
		{http.MethodPost, "/api/messagelog/v1/records/17:timestamp", true, "timestamp-record", "records", "17"},
		{http.MethodDelete, "/api/messagelog/v1/runs/abc", true, "delete", "runs", ""},
		{http.MethodPost, "/elsewhere", true, "post", "unknown", ""},
		{http.MethodGet, "/api/messagelog/v1/records", false, "", "", ""},
		{http.MethodGet, "/healthz", false, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			a, ok := classify(tt.method, tt.path)
			assert.Equal(t, tt.audited, ok)
			assert.Equal(t, tt.action, a.name)
			assert.Equal(t, tt.resource, a.resourceType)
			assert.Equal(t, tt.id, a.resourceID)
		})
	}
}

func TestOutcomeFromStatus(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, outcomeFromStatus(http.StatusAccepted))
	assert.Equal(t, OutcomeDenied, outcomeFromStatus(http.StatusForbidden))
	assert.Equal(t, OutcomeDenied, outcomeFromStatus(http.StatusUnauthorized))
	assert.Equal(t, OutcomeFailure, outcomeFromStatus(http.StatusConflict))
	assert.Equal(t, OutcomeFailure, outcomeFromStatus(http.StatusServiceUnavailable))
}
