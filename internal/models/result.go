package models

import "time"

// WorkerResult is the transient outcome of processing one queue message.
type WorkerResult struct {
	FindingID          string        `json:"finding_id"`
	Error              string        `json:"error,omitempty"`
	Output             string        `json:"output,omitempty"`
	OutputDir          string        `json:"output_dir,omitempty"`
	ResourcesProcessed int           `json:"resources_processed"`
	ActionsTaken       int           `json:"actions_taken"`
	Elapsed            time.Duration `json:"elapsed_ns"`
	Success            bool          `json:"success"`
}

// NotificationStatus labels a processing outcome published to the notification queue.
type NotificationStatus string

// Notification statuses.
const (
	StatusPolicyDownloadFailed NotificationStatus = "POLICY_DOWNLOAD_FAILED"
	StatusRemediated           NotificationStatus = "REMEDIATED"
	StatusExecutionFailed      NotificationStatus = "EXECUTION_FAILED"
)

// Notification is the structured message published after a finding is processed.
type Notification struct {
	Timestamp time.Time          `json:"timestamp"`
	Finding   *Finding           `json:"finding"`
	Result    *WorkerResult      `json:"result"`
	Status    NotificationStatus `json:"status"`
}

// NewNotification builds a notification stamped with the current UTC time.
func NewNotification(status NotificationStatus, f *Finding, result *WorkerResult) *Notification {
	return &Notification{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Finding:   f,
		Result:    result,
	}
}
