package ticketing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/handoff/internal/retry"
)

// newTestClient points a client at a test server with backoff disabled so
// retry paths run instantly.
func newTestClient(t *testing.T, handler http.Handler) *JiraClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewJiraClient(JiraConfig{
		BaseURL:  srv.URL,
		Email:    "agent@example.com",
		APIToken: "secret-token",
	})
	c.retry = &retry.Executor{Backoff: func(int) time.Duration { return 0 }}
	return c
}

func wantAuthHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte("agent@example.com:secret-token"))
}

func TestFetchTicket(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/issue/SUP-1234" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != wantAuthHeader() {
			t.Errorf("Authorization = %q", got)
		}
		fields := r.URL.Query().Get("fields")
		for _, f := range []string{"summary", "status", "reporter", "assignee", "comment"} {
			if !strings.Contains(fields, f) {
				t.Errorf("fields param missing %q: %s", f, fields)
			}
		}
		io.WriteString(w, `{
			"key": "SUP-1234",
			"fields": {
				"summary": "VPN keeps dropping",
				"description": "Drops every 30 minutes",
				"status": {"name": "Open"},
				"reporter": {"displayName": "Dana", "emailAddress": "dana@example.com"},
				"assignee": null,
				"comment": {"comments": [
					{"author": {"displayName": "Sam"}, "body": "Tried reboot", "created": "2026-03-01T10:00:00.000+0000"}
				]}
			}
		}`)
	}))

	ticket, err := c.FetchTicket(context.Background(), "SUP-1234")
	if err != nil {
		t.Fatalf("FetchTicket: %v", err)
	}
	if ticket.Key != "SUP-1234" || ticket.Summary != "VPN keeps dropping" || ticket.Status != "Open" {
		t.Errorf("unexpected ticket: %+v", ticket)
	}
	if ticket.Reporter == nil || ticket.Reporter.DisplayName != "Dana" {
		t.Errorf("Reporter = %+v", ticket.Reporter)
	}
	if ticket.Assignee != nil {
		t.Errorf("Assignee = %+v, want nil", ticket.Assignee)
	}
	if len(ticket.Comments) != 1 || ticket.Comments[0].Author != "Sam" {
		t.Errorf("Comments = %+v", ticket.Comments)
	}
}

func TestFetchTicketStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		retryAfter string
		wantMsg    string
		wantCalls  int
	}{
		{"unauthorized", 401, "", "invalid credentials", 1},
		{"not found", 404, "", "ticket SUP-9 not found", 1},
		{"rate limited with header", 429, "120", "rate limited, retry in 120 seconds", retry.DefaultMaxAttempts},
		{"rate limited default", 429, "", "rate limited, retry in 60 seconds", retry.DefaultMaxAttempts},
		{"server error", 503, "", "jira server error: HTTP 503", retry.DefaultMaxAttempts},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
			}))

			_, err := c.FetchTicket(context.Background(), "SUP-9")
			if err == nil {
				t.Fatal("FetchTicket = nil, want error")
			}
			if err.Error() != tc.wantMsg {
				t.Errorf("error = %q, want %q", err, tc.wantMsg)
			}
			if calls != tc.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tc.wantCalls)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tc.status {
				t.Errorf("error not an APIError with status %d: %v", tc.status, err)
			}
		})
	}
}

// TestPostCommentADF verifies the comment text is wrapped in the minimal ADF
// document: one paragraph, one text node.
func TestPostCommentADF(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/issue/SUP-1234/comment" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	if err := c.PostComment(context.Background(), "SUP-1234", "## Escalation"); err != nil {
		t.Fatalf("PostComment: %v", err)
	}

	doc, ok := body["body"].(map[string]any)
	if !ok {
		t.Fatalf("body envelope missing: %v", body)
	}
	if doc["type"] != "doc" || doc["version"] != float64(1) {
		t.Errorf("doc header = type=%v version=%v", doc["type"], doc["version"])
	}
	content, _ := doc["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("content length = %d, want 1", len(content))
	}
	para, _ := content[0].(map[string]any)
	if para["type"] != "paragraph" {
		t.Errorf("content[0].type = %v, want paragraph", para["type"])
	}
	inner, _ := para["content"].([]any)
	if len(inner) != 1 {
		t.Fatalf("paragraph content length = %d, want 1", len(inner))
	}
	text, _ := inner[0].(map[string]any)
	if text["type"] != "text" || text["text"] != "## Escalation" {
		t.Errorf("text node = %v", text)
	}
}

func TestPostCommentForbiddenNamesTicket(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))

	err := c.PostComment(context.Background(), "SUP-77", "text")
	if err == nil {
		t.Fatal("PostComment = nil, want error")
	}
	want := "no permission to comment on SUP-77, check your API token permissions"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err, want)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (403 is not retryable)", calls)
	}
}

func TestAttachFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vpn.log")
	if err := os.WriteFile(path, []byte("log line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/issue/SUP-1234/attachments" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("X-Atlassian-Token"); got != "no-check" {
			t.Errorf("X-Atlassian-Token = %q, want no-check", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart form: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form field %q: %v", "file", err)
		}
		defer file.Close()
		if header.Filename != "vpn.log" {
			t.Errorf("filename = %q, want vpn.log", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "log line\n" {
			t.Errorf("file content = %q", data)
		}
		w.WriteHeader(http.StatusOK)
	}))

	if err := c.AttachFile(context.Background(), "SUP-1234", path); err != nil {
		t.Fatalf("AttachFile: %v", err)
	}
}

func TestAttachFileMissing(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	err := c.AttachFile(context.Background(), "SUP-1234", "/does/not/exist.log")
	if err == nil || !strings.Contains(err.Error(), "file not found") {
		t.Errorf("error = %v, want file not found", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (missing file never hits the network)", calls)
	}
}

// TestAttachFileSizePrecheck verifies oversized files are rejected locally.
func TestAttachFileSizePrecheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(path, make([]byte, 64), 0o644); err != nil {
		t.Fatal(err)
	}

	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	c.maxAttachmentBytes = 32

	err := c.AttachFile(context.Background(), "SUP-1234", path)
	if err == nil || !strings.Contains(err.Error(), "file too large") {
		t.Errorf("error = %v, want file too large", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (size check precedes upload)", calls)
	}
}

func TestAttachFileRejectedByServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.pcap")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))

	err := c.AttachFile(context.Background(), "SUP-1234", path)
	if err == nil || !strings.Contains(err.Error(), "file rejected by Jira") {
		t.Errorf("error = %v, want rejection message", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (413 is not retryable)", calls)
	}
}

func TestTestConnection(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/myself" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"displayName": "Dana Agent"}`)
	}))

	name, err := c.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if name != "Dana Agent" {
		t.Errorf("name = %q, want Dana Agent", name)
	}
}

func TestAPIErrorRetryable(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{401, false},
		{403, false},
		{404, false},
		{413, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		e := &APIError{StatusCode: tc.status}
		if got := e.Retryable(); got != tc.want {
			t.Errorf("Retryable(%d) = %v, want %v", tc.status, got, tc.want)
		}
	}
}
