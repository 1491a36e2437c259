package services

import (
	"errors"
	"fmt"
)

// ConfigError means a user-fixable prerequisite is missing. It is never
// retried; the caller is expected to surface an actionable prompt.
type ConfigError struct {
	Missing string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Missing)
}

// WebhookRegistrationError means the tracker rejected the webhook
// subscription while enabling automatic mode. The mode switch is
// aborted and no partial state is kept.
type WebhookRegistrationError struct {
	Err error
}

func (e *WebhookRegistrationError) Error() string {
	return fmt.Sprintf("webhook registration failed: %v", e.Err)
}

func (e *WebhookRegistrationError) Unwrap() error { return e.Err }

// ErrDuplicateEvent marks a redelivered webhook event. Absorbed
// silently; the tracker still gets a 2xx.
var ErrDuplicateEvent = errors.New("duplicate webhook event")

// ErrSyncInFlight is returned by the synchronous forward path when a
// non-terminal queue entry already exists for the report.
var ErrSyncInFlight = errors.New("a sync is already in flight for this report")

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsWebhookRegistrationError reports whether err is a WebhookRegistrationError.
func IsWebhookRegistrationError(err error) bool {
	var we *WebhookRegistrationError
	return errors.As(err, &we)
}
