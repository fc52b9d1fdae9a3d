package models

import "time"

// TaskStatus is the lifecycle state persisted on a task history row.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusPaused    TaskStatus = "paused"
)

// QueueType selects which worker a task runs on.
type QueueType string

const (
	QueueDownload   QueueType = "download"   // provider I/O
	QueueManagement QueueType = "management" // DB-local operations
	QueueFallback   QueueType = "fallback"   // auto-triggers and pre-download
)

// TaskRecord is one row of task history.
type TaskRecord struct {
	TaskID      string     `json:"taskId"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"`
	Description string     `json:"description"`
	QueueType   QueueType  `json:"queueType"`
	UniqueKey   string     `json:"uniqueKey,omitempty"`
	TaskType    string     `json:"taskType,omitempty"`
	// Parameters is the opaque JSON needed to replay a recoverable task.
	Parameters string     `json:"taskParameters,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// RateLimitState is one persisted counter row. Key is "__global__",
// "__fallback_match__", "__fallback_search__", or a provider name.
type RateLimitState struct {
	Key           string    `json:"key"`
	RequestCount  int       `json:"requestCount"`
	LastResetTime time.Time `json:"lastResetTime"`
	Checksum      string    `json:"checksum"`
}

// APIToken authorizes a compat-API consumer.
type APIToken struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Token      string     `json:"token"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	AccessCount int       `json:"accessCount"`
}
