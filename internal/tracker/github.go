package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubClient talks to the GitHub REST API for one repository.
type GitHubClient struct {
	baseURL     string
	owner       string
	repo        string
	accessToken string
	httpClient  *http.Client
	limiter     *Limiter
}

// NewGitHubClient creates a client for owner/repo. The limiter is
// shared across all clients of the process so the global quota is
// respected regardless of how many integrations are active.
func NewGitHubClient(owner, repo, accessToken string, limiter *Limiter) *GitHubClient {
	return &GitHubClient{
		baseURL:     defaultGitHubAPI,
		owner:       owner,
		repo:        repo,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     limiter,
	}
}

// NewGitHubFactory returns a Factory producing GitHub clients that
// share one rate limiter.
func NewGitHubFactory(limiter *Limiter) Factory {
	return func(owner, repo, accessToken string) Client {
		return NewGitHubClient(owner, repo, accessToken, limiter)
	}
}

// SetBaseURL points the client at a different API root (GitHub
// Enterprise, or a test server).
func (g *GitHubClient) SetBaseURL(baseURL string) {
	g.baseURL = strings.TrimSuffix(baseURL, "/")
}

type githubIssuePayload struct {
	Title     string   `json:"title,omitempty"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

type githubIssueResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

// CreateIssue opens a new issue.
func (g *GitHubClient) CreateIssue(ctx context.Context, req *IssueRequest) (*Issue, error) {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/issues", g.baseURL, g.owner, g.repo)
	payload := &githubIssuePayload{
		Title:     req.Title,
		Body:      req.Body,
		Labels:    req.Labels,
		Assignees: req.Assignees,
	}

	var issue githubIssueResponse
	if err := g.do(ctx, "create issue", http.MethodPost, apiURL, payload, &issue); err != nil {
		return nil, err
	}
	return &Issue{Number: issue.Number, URL: issue.HTMLURL, State: issue.State}, nil
}

// UpdateIssue edits an existing issue's title and body.
func (g *GitHubClient) UpdateIssue(ctx context.Context, number int, req *IssueRequest) (*Issue, error) {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/issues/%d", g.baseURL, g.owner, g.repo, number)
	payload := &githubIssuePayload{
		Title:  req.Title,
		Body:   req.Body,
		Labels: req.Labels,
	}

	var issue githubIssueResponse
	if err := g.do(ctx, "update issue", http.MethodPatch, apiURL, payload, &issue); err != nil {
		return nil, err
	}
	return &Issue{Number: issue.Number, URL: issue.HTMLURL, State: issue.State}, nil
}

type githubHookPayload struct {
	Name   string   `json:"name"`
	Active bool     `json:"active"`
	Events []string `json:"events"`
	Config struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
		Secret      string `json:"secret"`
	} `json:"config"`
}

// CreateHook registers a webhook for issue events pointing at
// callbackURL and returns the tracker-side hook id.
func (g *GitHubClient) CreateHook(ctx context.Context, callbackURL, secret string) (int64, error) {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/hooks", g.baseURL, g.owner, g.repo)

	payload := &githubHookPayload{
		Name:   "web",
		Active: true,
		Events: []string{"issues"},
	}
	payload.Config.URL = callbackURL
	payload.Config.ContentType = "json"
	payload.Config.Secret = secret

	var hook struct {
		ID int64 `json:"id"`
	}
	if err := g.do(ctx, "create hook", http.MethodPost, apiURL, payload, &hook); err != nil {
		return 0, err
	}
	return hook.ID, nil
}

// DeleteHook removes a previously registered webhook.
func (g *GitHubClient) DeleteHook(ctx context.Context, hookID int64) error {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/hooks/%d", g.baseURL, g.owner, g.repo, hookID)
	return g.do(ctx, "delete hook", http.MethodDelete, apiURL, nil, nil)
}

func (g *GitHubClient) do(ctx context.Context, op, method, apiURL string, payload, out interface{}) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return &RetryableError{Op: op, Err: err}
		}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: marshal payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.accessToken != "" {
		req.Header.Set("Authorization", "token "+g.accessToken)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if g.limiter != nil {
		g.limiter.Update(resp.Header.Get("X-RateLimit-Remaining"), resp.Header.Get("X-RateLimit-Reset"))
	}

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%s: decode response: %w", op, err)
			}
		}
		return nil
	}

	return classifyStatus(op, resp.StatusCode, respBody)
}

// classifyStatus splits tracker failures into retryable and terminal.
// 403 is ambiguous on GitHub: secondary rate limits share the status
// with permission errors, so the body is inspected.
func classifyStatus(op string, status int, body []byte) error {
	msg := extractMessage(body)

	switch {
	case status >= 500:
		return &RetryableError{Op: op, Status: status, Err: fmt.Errorf("%s", msg)}
	case status == http.StatusTooManyRequests:
		return &RetryableError{Op: op, Status: status, Err: fmt.Errorf("%s", msg)}
	case status == http.StatusForbidden && isSecondaryRateLimit(msg):
		return &RetryableError{Op: op, Status: status, Err: fmt.Errorf("%s", msg)}
	default:
		return &TerminalError{Op: op, Status: status, Reason: msg}
	}
}

func isSecondaryRateLimit(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "abuse")
}

func extractMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
