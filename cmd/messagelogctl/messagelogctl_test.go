package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/secgw/messagelog/pkg/archive"
)

// useServer points the CLI globals at srv and captures output.
func useServer(t *testing.T, srv *httptest.Server, format string) *bytes.Buffer {
	t.Helper()
	oldURL, oldFmt, oldOut := serverURL, outputFmt, out
	var buf bytes.Buffer
	serverURL, outputFmt, out = srv.URL, format, &buf
	t.Cleanup(func() {
		serverURL, outputFmt, out = oldURL, oldFmt, oldOut
	})
	return &buf
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- extractValue tests ---

func TestExtractValue(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		path string
		want string
	}{
		{"simple string", map[string]any{"status": "failure"}, "status", "failure"},
		{"nested path", map[string]any{"timestamping": map[string]any{"status": "success"}}, "timestamping.status", "success"},
		{"missing key", map[string]any{"status": "x"}, "missing", ""},
		{"deeply nested missing", map[string]any{"a": map[string]any{"b": "c"}}, "a.x.y", ""},
		{"integer value", map[string]any{"pending": float64(42)}, "pending", "42"},
		{"float value", map[string]any{"ratio": float64(0.5)}, "ratio", "0.50"},
		{"boolean", map[string]any{"circuitOpen": true}, "circuitOpen", "true"},
		{"array value", map[string]any{"recordIds": []any{float64(1), float64(2)}}, "recordIds", "1, 2"},
		{"nil value", map[string]any{"x": nil}, "x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractValue(tt.data, tt.path); got != tt.want {
				t.Errorf("extractValue(%v, %q) = %q, want %q", tt.data, tt.path, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

// --- client tests ---

func TestClientSendsIdentity(t *testing.T) {
	var gotUser, gotGroups, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-Remote-User")
		gotGroups = r.Header.Get("X-Remote-Group")
		gotAuth = r.Header.Get("Authorization")
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "alive"})
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, http: srv.Client(), user: "alice", groups: "admins,ops", token: "t0k"}
	var resp map[string]any
	if err := client.getJSON("/healthz", &resp); err != nil {
		t.Fatalf("getJSON failed: %v", err)
	}
	if gotUser != "alice" || gotGroups != "admins,ops" {
		t.Errorf("identity headers = %q, %q", gotUser, gotGroups)
	}
	if gotAuth != "Bearer t0k" {
		t.Errorf("Authorization = %q, want Bearer t0k", gotAuth)
	}
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"coded error", http.StatusConflict, `{"error":"already_running","message":"cycle already running"}`, "already_running", "cycle already running"},
		{"message only", http.StatusNotFound, `{"error":"run \"x\" not found"}`, "", `run "x" not found`},
		{"plain text", http.StatusBadGateway, "upstream down\n", "", "upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := &apiClient{baseURL: srv.URL, http: srv.Client()}
			err := client.postJSON("/api/messagelog/v1/archiving:start", nil, nil)

			var apiErr *apiError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *apiError", err)
			}
			if apiErr.Status != tt.status || apiErr.Code != tt.wantCode || apiErr.Message != tt.wantMsg {
				t.Errorf("apiError = %+v, want status %d code %q message %q", apiErr, tt.status, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

// --- command tests ---

func TestStatusTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messagelog/v1/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"timestamping": map[string]any{
				"status":      "failure",
				"pending":     12,
				"circuitOpen": true,
				"lastError":   "tsa unreachable",
				"tsa": map[string]any{
					"http://tsa-b": map[string]any{"ok": false, "error": "timeout"},
					"http://tsa-a": map[string]any{"ok": true},
				},
			},
			"records":     map[string]any{"total": 40, "untimestamped": 12},
			"lastArchive": map[string]any{"state": "succeeded", "startedAt": "2026-10-01T00:00:00Z", "count": 28},
		})
	}))
	defer srv.Close()
	buf := useServer(t, srv, "table")

	if err := runStatus(statusCmd, nil); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	got := buf.String()
	for _, want := range []string{
		"failure", "12", "tsa unreachable",
		"succeeded at 2026-10-01T00:00:00Z (28 records)",
		"Last clean", "never",
		"TSA http://tsa-a", "failed: timeout",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "tsa-a") > strings.Index(got, "tsa-b") {
		t.Errorf("TSA rows not sorted:\n%s", got)
	}
}

func TestStatusJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]any{"timestamping": map[string]any{"status": "success"}})
	}))
	defer srv.Close()
	buf := useServer(t, srv, "json")

	if err := runStatus(statusCmd, nil); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if extractValue(decoded, "timestamping.status") != "success" {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestTimestampCommands(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/api/messagelog/v1/timestamping:start":
			writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "started"})
		case "/api/messagelog/v1/records/7:timestamp":
			writeJSONResponse(w, http.StatusOK, map[string]any{"id": 3, "recordIds": []int{7}, "tsaUrl": "http://tsa"})
		case "/api/messagelog/v1/timestamping/status":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			writeJSONResponse(w, http.StatusOK, body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	buf := useServer(t, srv, "table")

	if err := runTimestamp(timestampCmd, nil); err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if err := runTimestamp(timestampCmd, []string{"7"}); err != nil {
		t.Fatalf("timestamp 7: %v", err)
	}
	if err := runSetStatus(setStatusCmd, []string{"FAILURE"}); err != nil {
		t.Fatalf("set-status: %v", err)
	}
	if err := runSetStatus(setStatusCmd, []string{"broken"}); err == nil {
		t.Error("set-status broken: expected error")
	}
	if err := runTimestamp(timestampCmd, []string{"x"}); err == nil {
		t.Error("timestamp x: expected error")
	}

	want := []string{
		"POST /api/messagelog/v1/timestamping:start",
		"POST /api/messagelog/v1/records/7:timestamp",
		"PUT /api/messagelog/v1/timestamping/status",
	}
	if strings.Join(calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if !strings.Contains(buf.String(), "timestamping status set to failure") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestArchiveConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusConflict, map[string]string{"error": "not_leader", "message": "not the archiver leader"})
	}))
	defer srv.Close()
	useServer(t, srv, "table")

	err := startCycle("archiving")
	if err == nil || !strings.Contains(err.Error(), "not_leader") {
		t.Errorf("error = %v, want not_leader", err)
	}
}

func TestRecordsPath(t *testing.T) {
	recQueryID, recClient, recResponse = "q 1", "EE/GOV/123", "true"
	t.Cleanup(func() { recQueryID, recClient, recResponse = "", "", "" })

	p := recordsPath()
	u, err := url.Parse(p)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if u.Path != "/api/messagelog/v1/records" || q.Get("queryId") != "q 1" || q.Get("client") != "EE/GOV/123" || q.Get("response") != "true" {
		t.Errorf("recordsPath() = %s", p)
	}
	if q.Has("from") || q.Has("xRequestId") {
		t.Errorf("empty filters must be omitted: %s", p)
	}
}

func TestRecordsTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"records": []map[string]any{
				{"id": 1, "time": "2026-10-01T10:00:00Z", "response": false, "client": map[string]any{"memberCode": "123"}, "archived": false},
				{"id": 2, "time": "2026-10-01T10:00:01Z", "response": true, "client": map[string]any{"memberCode": "123"}, "timestampRecordId": 9, "archived": true},
			},
			"totalSize": 2,
		})
	}))
	defer srv.Close()
	buf := useServer(t, srv, "table")
	recQueryID = "q-1"
	t.Cleanup(func() { recQueryID = "" })

	if err := runRecords(recordsCmd, nil); err != nil {
		t.Fatalf("records: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got:\n%s", buf.String())
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[2], "9") {
		t.Errorf("unexpected table:\n%s", buf.String())
	}
}

func TestAsicDownload(t *testing.T) {
	payload := []byte("PK\x03\x04container")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messagelog/v1/records/5/asic" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.etsi.asic-e+zip")
		w.Header().Set("Content-Disposition", `attachment; filename="q-request-5.asice"`)
		w.Write(payload)
	}))
	defer srv.Close()
	useServer(t, srv, "table")

	dir := t.TempDir()
	asicOutFile = filepath.Join(dir, "out.asice")
	t.Cleanup(func() { asicOutFile = "" })

	if err := runAsic(asicCmd, []string{"5"}); err != nil {
		t.Fatalf("asic: %v", err)
	}
	got, err := os.ReadFile(asicOutFile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("file content = %q", got)
	}

	client := &apiClient{baseURL: srv.URL, http: srv.Client()}
	_, name, err := client.download("/api/messagelog/v1/records/5/asic")
	if err != nil {
		t.Fatal(err)
	}
	if name != "q-request-5.asice" {
		t.Errorf("file name = %q", name)
	}
}

func TestRunsListQuery(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"runs":          []map[string]any{{"id": "r1", "kind": "archive", "state": "failed", "lastError": "disk full"}},
			"nextPageToken": "tok",
			"totalSize":     5,
		})
	}))
	defer srv.Close()
	buf := useServer(t, srv, "table")
	runKind = "archive"
	t.Cleanup(func() { runKind = "" })

	if err := runRuns(runsCmd, nil); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if gotQuery.Get("kind") != "archive" || gotQuery.Has("state") {
		t.Errorf("query = %v", gotQuery)
	}
	if !strings.Contains(buf.String(), "disk full") || !strings.Contains(buf.String(), "--page-token tok") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

// --- offline verification ---

func zipWith(t *testing.T, entries map[string]string, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(entries[name]))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFirstDigest(t *testing.T) {
	data := zipWith(t, map[string]string{
		"a.asice":                "a",
		archive.LinkingInfoEntry: "abc123 a.asice SHA-512\n",
	}, []string{"a.asice", archive.LinkingInfoEntry})

	d, err := firstDigest(data)
	if err != nil {
		t.Fatalf("firstDigest: %v", err)
	}
	if d != "abc123" {
		t.Errorf("digest = %q, want abc123", d)
	}

	first := zipWith(t, map[string]string{
		"a.asice":                "a",
		archive.LinkingInfoEntry: "- a.asice SHA-512\n",
	}, []string{"a.asice", archive.LinkingInfoEntry})
	if d, err := firstDigest(first); err != nil || d != "" {
		t.Errorf("first archive digest = %q, %v; want empty", d, err)
	}

	missing := zipWith(t, map[string]string{"a.asice": "a"}, []string{"a.asice"})
	if _, err := firstDigest(missing); !errors.Is(err, archive.ErrBrokenChain) {
		t.Errorf("error = %v, want ErrBrokenChain", err)
	}
}

func TestVerifyArchiveRejectsTamperedFile(t *testing.T) {
	data := zipWith(t, map[string]string{
		"a.asice":               "a",
		"b.asice":                "b",
		archive.LinkingInfoEntry: "- a.asice SHA-512\n- b.asice SHA-512\n",
	}, []string{"a.asice", "b.asice", archive.LinkingInfoEntry})

	path := filepath.Join(t.TempDir(), "mlog.zip")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	useServer(t, srv, "table")

	err := runVerifyArchive(verifyArchiveCmd, []string{path})
	if !errors.Is(err, archive.ErrBrokenChain) {
		t.Errorf("error = %v, want ErrBrokenChain", err)
	}
}

func TestHealthShowsDownComponents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			writeJSONResponse(w, http.StatusOK, map[string]string{"status": "alive", "uptime": "1m0s"})
		case "/readyz":
			writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"components": map[string]any{
					"database": map[string]string{"status": "down", "error": "connection refused"},
					"queue":    map[string]string{"status": "up"},
				},
			})
		}
	}))
	defer srv.Close()
	buf := useServer(t, srv, "table")

	if err := runHealth(healthCmd, nil); err != nil {
		t.Fatalf("runHealth failed: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"not_ready", "database", "connection refused", "1m0s"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
