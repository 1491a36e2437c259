// Package tracker contains the issue tracker clients. The sync engine
// depends only on the Client interface; adding a tracker means adding
// one implementation here and nothing else.
package tracker

import (
	"context"
	"errors"
	"fmt"
)

// Issue is the engine-facing view of a tracker issue.
type Issue struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	State  string `json:"state"` // open, closed
}

// IssueRequest carries the fields the engine sets when creating or
// updating an issue.
type IssueRequest struct {
	Title     string
	Body      string
	Labels    []string
	Assignees []string
}

// Client is the narrow surface the sync engine needs from a tracker.
type Client interface {
	CreateIssue(ctx context.Context, req *IssueRequest) (*Issue, error)
	UpdateIssue(ctx context.Context, number int, req *IssueRequest) (*Issue, error)
	CreateHook(ctx context.Context, callbackURL, secret string) (int64, error)
	DeleteHook(ctx context.Context, hookID int64) error
}

// Factory builds a Client for one integration's repository and
// credentials. Credentials arrive pre-decrypted from the credential
// layer.
type Factory func(owner, repo, accessToken string) Client

// RetryableError marks a failure worth retrying with backoff: network
// errors, 5xx responses and secondary rate limiting.
type RetryableError struct {
	Op     string
	Status int // 0 for transport-level failures
	Err    error
}

func (e *RetryableError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: tracker returned %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// TerminalError marks a failure that no amount of retrying fixes:
// revoked tokens, missing repositories, permission problems.
type TerminalError struct {
	Op     string
	Status int
	Reason string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s: tracker returned %d: %s", e.Op, e.Status, e.Reason)
}

// IsRetryable reports whether err should consume retry budget instead
// of failing the entry immediately.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsTerminal reports whether err short-circuits the retry budget.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
