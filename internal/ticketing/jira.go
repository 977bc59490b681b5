package ticketing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/handoff/internal/retry"
)

const (
	// Metadata calls (fetch, comment, connection test) finish fast or not at all.
	metadataTimeout = 10 * time.Second
	// Uploads scale with file size and get their own budget.
	uploadTimeout = 300 * time.Second

	// Jira rejects attachments over 100MB; checking locally saves the round trip.
	defaultMaxAttachmentBytes = 100 << 20
)

// JiraConfig holds the credentials and endpoint for a Jira Cloud site.
type JiraConfig struct {
	BaseURL  string
	Email    string
	APIToken string
}

// JiraClient talks to the Jira Cloud REST API (v3). Every network call is
// individually wrapped by the retry executor, so retries happen per HTTP
// call, never per multi-step business operation.
type JiraClient struct {
	baseURL            string
	email              string
	apiToken           string
	defaultClient      *http.Client
	uploadClient       *http.Client
	maxAttachmentBytes int64
	retry              *retry.Executor
}

// NewJiraClient creates a client for the given site and credentials.
func NewJiraClient(cfg JiraConfig) *JiraClient {
	return &JiraClient{
		baseURL:            strings.TrimRight(cfg.BaseURL, "/"),
		email:              cfg.Email,
		apiToken:           cfg.APIToken,
		defaultClient:      &http.Client{Timeout: metadataTimeout},
		uploadClient:       &http.Client{Timeout: uploadTimeout},
		maxAttachmentBytes: defaultMaxAttachmentBytes,
		retry:              &retry.Executor{},
	}
}

func (c *JiraClient) authHeader() string {
	credentials := c.email + ":" + c.apiToken
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

// --- fetch ---

type jiraIssueResponse struct {
	Key    string     `json:"key"`
	Fields jiraFields `json:"fields"`
}

type jiraFields struct {
	Summary     string       `json:"summary"`
	Description string       `json:"description"`
	Status      jiraStatus   `json:"status"`
	Reporter    *jiraUser    `json:"reporter"`
	Assignee    *jiraUser    `json:"assignee"`
	Comment     jiraComments `json:"comment"`
}

type jiraStatus struct {
	Name string `json:"name"`
}

type jiraUser struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

type jiraComments struct {
	Comments []jiraComment `json:"comments"`
}

type jiraComment struct {
	Author  jiraUser `json:"author"`
	Body    string   `json:"body"`
	Created string   `json:"created"`
}

// FetchTicket loads an issue with its status, people, and comments.
func (c *JiraClient) FetchTicket(ctx context.Context, key string) (Ticket, error) {
	var ticket Ticket
	err := c.retry.Do(ctx, "fetch_ticket", func(ctx context.Context) error {
		t, err := c.fetchIssue(ctx, key)
		if err != nil {
			return err
		}
		ticket = t
		return nil
	})
	return ticket, err
}

func (c *JiraClient) fetchIssue(ctx context.Context, key string) (Ticket, error) {
	url := fmt.Sprintf("%s/rest/api/3/issue/%s?fields=summary,description,status,reporter,assignee,comment",
		c.baseURL, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Ticket{}, fmt.Errorf("creating fetch request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.defaultClient.Do(req)
	if err != nil {
		return Ticket{}, fmt.Errorf("fetching ticket %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Ticket{}, apiErr("fetch_ticket", resp.StatusCode, "invalid credentials")
	case resp.StatusCode == http.StatusNotFound:
		return Ticket{}, apiErr("fetch_ticket", resp.StatusCode, "ticket %s not found", key)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		if retryAfter == "" {
			retryAfter = "60"
		}
		return Ticket{}, apiErr("fetch_ticket", resp.StatusCode, "rate limited, retry in %s seconds", retryAfter)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Ticket{}, apiErr("fetch_ticket", resp.StatusCode, "jira server error: HTTP %d", resp.StatusCode)
	}

	var issue jiraIssueResponse
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return Ticket{}, fmt.Errorf("decoding issue response: %w", err)
	}

	t := Ticket{
		Key:         issue.Key,
		Summary:     issue.Fields.Summary,
		Description: issue.Fields.Description,
		Status:      issue.Fields.Status.Name,
	}
	if u := issue.Fields.Reporter; u != nil {
		t.Reporter = &User{DisplayName: u.DisplayName, Email: u.EmailAddress}
	}
	if u := issue.Fields.Assignee; u != nil {
		t.Assignee = &User{DisplayName: u.DisplayName, Email: u.EmailAddress}
	}
	for _, cm := range issue.Fields.Comment.Comments {
		t.Comments = append(t.Comments, Comment{
			Author:  cm.Author.DisplayName,
			Body:    cm.Body,
			Created: cm.Created,
		})
	}
	return t, nil
}

// --- comment ---

// PostComment publishes text as a comment on the issue. The raw text is
// wrapped in the minimal ADF document Jira requires: one paragraph, one text
// node.
func (c *JiraClient) PostComment(ctx context.Context, key, text string) error {
	return c.retry.Do(ctx, "post_comment", func(ctx context.Context) error {
		return c.postComment(ctx, key, text)
	})
}

func (c *JiraClient) postComment(ctx context.Context, key, text string) error {
	url := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.baseURL, key)

	adfBody := map[string]any{
		"body": map[string]any{
			"type":    "doc",
			"version": 1,
			"content": []any{
				map[string]any{
					"type": "paragraph",
					"content": []any{
						map[string]any{"type": "text", "text": text},
					},
				},
			},
		},
	}
	payload, err := json.Marshal(adfBody)
	if err != nil {
		return fmt.Errorf("marshaling comment body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating comment request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.defaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting comment to %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apiErr("post_comment", resp.StatusCode, "invalid credentials")
	case resp.StatusCode == http.StatusForbidden:
		return apiErr("post_comment", resp.StatusCode,
			"no permission to comment on %s, check your API token permissions", key)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return apiErr("post_comment", resp.StatusCode, "failed to post comment: HTTP %d", resp.StatusCode)
	}
	return nil
}

// --- attachments ---

// AttachFile uploads a local file as an attachment on the issue. Files over
// the size ceiling are rejected locally before any network traffic.
func (c *JiraClient) AttachFile(ctx context.Context, key, path string) error {
	return c.retry.Do(ctx, "attach_file", func(ctx context.Context) error {
		return c.attachFile(ctx, key, path)
	})
}

func (c *JiraClient) attachFile(ctx context.Context, key, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %s", path)
	}
	sizeMB := info.Size() / (1 << 20)
	if info.Size() > c.maxAttachmentBytes {
		return fmt.Errorf("file too large (%dMB), Jira limit is %dMB",
			sizeMB, c.maxAttachmentBytes/(1<<20))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("creating multipart form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("writing multipart form: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("closing multipart form: %w", err)
	}

	url := fmt.Sprintf("%s/rest/api/3/issue/%s/attachments", c.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("creating attachment request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", form.FormDataContentType())
	// Jira refuses multipart uploads without this header.
	req.Header.Set("X-Atlassian-Token", "no-check")

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s to %s: %w", filepath.Base(path), key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apiErr("attach_file", resp.StatusCode, "invalid credentials")
	case resp.StatusCode == http.StatusForbidden:
		return apiErr("attach_file", resp.StatusCode,
			"no permission to attach files to %s, check your API token permissions", key)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return apiErr("attach_file", resp.StatusCode,
			"file rejected by Jira (too large: %dMB), try compressing it", sizeMB)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return apiErr("attach_file", resp.StatusCode, "failed to attach file: HTTP %d", resp.StatusCode)
	}
	return nil
}

// --- connection test ---

type jiraMyselfResponse struct {
	DisplayName string `json:"displayName"`
}

// TestConnection verifies the credentials and returns the account's display name.
func (c *JiraClient) TestConnection(ctx context.Context) (string, error) {
	var name string
	err := c.retry.Do(ctx, "test_connection", func(ctx context.Context) error {
		n, err := c.testConnection(ctx)
		if err != nil {
			return err
		}
		name = n
		return nil
	})
	return name, err
}

func (c *JiraClient) testConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/api/3/myself", nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.defaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("testing connection: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", apiErr("test_connection", resp.StatusCode, "invalid credentials")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", apiErr("test_connection", resp.StatusCode, "connection test failed: HTTP %d", resp.StatusCode)
	}

	var myself jiraMyselfResponse
	if err := json.NewDecoder(resp.Body).Decode(&myself); err != nil {
		return "", fmt.Errorf("decoding myself response: %w", err)
	}
	return myself.DisplayName, nil
}
