package models

import (
	"time"

	"gorm.io/gorm"
)

// Sync modes for an integration
const (
	SyncModeManual    = "manual"
	SyncModeAutomatic = "automatic"
)

// Report status values (mutated by the human-facing report workflow)
const (
	ReportStatusOpen       = "open"
	ReportStatusInProgress = "in_progress"
	ReportStatusResolved   = "resolved"
	ReportStatusClosed     = "closed"
)

// Report sync status values (mutated by the sync engine only)
const (
	SyncStatusNone    = "none"
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
	SyncStatusError   = "error"
)

// Queue entry states. pending and processing are the non-terminal
// states; at most one non-terminal entry may exist per report.
const (
	EntryStatePending    = "pending"
	EntryStateProcessing = "processing"
	EntryStateDone       = "done"
	EntryStateFailed     = "failed"
	EntryStateCancelled  = "cancelled"
)

// Queue entry actions
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// Integration represents a connection between a project and an external
// issue tracker. The access token arrives pre-decrypted from the
// credential layer; this service never encrypts or decrypts it.
type Integration struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	ProjectID     uint           `gorm:"index;not null" json:"project_id"`
	TrackerType   string         `gorm:"size:50;not null;default:github" json:"tracker_type"`
	Owner         string         `gorm:"size:200;not null" json:"owner"`
	Repo          string         `gorm:"size:200;not null" json:"repo"`
	AccessToken   string         `gorm:"size:500" json:"-"`
	Labels        string         `gorm:"size:1000" json:"labels"`    // bug,from-bugloop,...
	Assignees     string         `gorm:"size:1000" json:"assignees"` // login1,login2,...
	IsActive      bool           `gorm:"default:true" json:"is_active"`
	SyncMode      string         `gorm:"size:20;default:manual" json:"sync_mode"` // manual, automatic
	WebhookID     int64          `json:"webhook_id"`                              // tracker-side hook id, 0 when unregistered
	WebhookSecret string         `gorm:"size:255" json:"-"`
	UsageCount    int64          `gorm:"default:0" json:"usage_count"`
	LastUsedAt    *time.Time     `json:"last_used_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// Report represents a bug report. Two writers touch this row: the
// human-facing report workflow updates Status and StatusChangedAt, the
// sync engine updates the sync_* fields and the external reference.
type Report struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	ProjectID         uint           `gorm:"index;not null" json:"project_id"`
	Title             string         `gorm:"size:500;not null" json:"title"`
	Description       string         `gorm:"type:text" json:"description"`
	Reporter          string         `gorm:"size:200" json:"reporter"`
	Status            string         `gorm:"size:50;default:open" json:"status"`
	StatusChangedAt   *time.Time     `json:"status_changed_at"` // stamped on human status edits
	SyncStatus        string         `gorm:"size:20;default:none;index" json:"sync_status"`
	IssueNumber       int            `gorm:"index" json:"issue_number"` // 0 until synced
	IssueURL          string         `gorm:"size:500" json:"issue_url"`
	SyncIntegrationID uint           `gorm:"index" json:"sync_integration_id"` // integration holding the external reference
	SyncError         string         `gorm:"type:text" json:"sync_error"`
	LastSyncedAt      *time.Time     `json:"last_synced_at"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

// Synced reports true once the report carries an external reference.
func (r *Report) Synced() bool {
	return r.IssueNumber > 0
}

// SyncQueueEntry is one unit of pending or retrying forward work for a
// (report, integration) pair.
type SyncQueueEntry struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ReportID      uint       `gorm:"index;not null" json:"report_id"`
	IntegrationID uint       `gorm:"index;not null" json:"integration_id"`
	Action        string     `gorm:"size:20;not null" json:"action"` // create, update
	BatchID       string     `gorm:"size:40;index" json:"batch_id"`  // set for bulk catch-up entries
	State         string     `gorm:"size:20;default:pending;index" json:"state"`
	AttemptCount  int        `gorm:"default:0" json:"attempt_count"`
	NextAttemptAt time.Time  `gorm:"index" json:"next_attempt_at"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Terminal reports whether the entry has left the active queue.
func (e *SyncQueueEntry) Terminal() bool {
	switch e.State {
	case EntryStateDone, EntryStateFailed, EntryStateCancelled:
		return true
	}
	return false
}

// WebhookEvent records a consumed tracker callback for deduplication.
// Trackers redeliver events; the unique delivery id absorbs replays.
// Rows are swept after the retention window.
type WebhookEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	DeliveryID    string    `gorm:"uniqueIndex;size:100;not null" json:"delivery_id"`
	IntegrationID uint      `gorm:"index" json:"integration_id"`
	IssueNumber   int       `json:"issue_number"`
	Action        string    `gorm:"size:50" json:"action"` // closed, reopened
	ReceivedAt    time.Time `gorm:"index" json:"received_at"`
}

// SystemConfig represents system-wide configuration (stored in database)
type SystemConfig struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"uniqueIndex;size:100;not null" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:20;default:string" json:"type"` // string, int, bool
	Group     string    `gorm:"size:50;index" json:"group"`         // sync, system
	Label     string    `gorm:"size:200" json:"label"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemLog represents a system operation log
type SystemLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"size:20;index" json:"level"` // info, warning, error
	Module    string    `gorm:"size:100;index" json:"module"`
	Action    string    `gorm:"size:200;index" json:"action"`
	Message   string    `gorm:"type:text" json:"message"`
	IP        string    `gorm:"size:50" json:"ip"`
	UserAgent string    `gorm:"size:500" json:"user_agent"`
	Extra     string    `gorm:"type:text" json:"extra"` // JSON extra data
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName overrides
func (Integration) TableName() string    { return "integrations" }
func (Report) TableName() string         { return "reports" }
func (SyncQueueEntry) TableName() string { return "sync_queue_entries" }
func (WebhookEvent) TableName() string   { return "webhook_events" }
func (SystemConfig) TableName() string   { return "system_configs" }
func (SystemLog) TableName() string      { return "system_logs" }
