package domain

import "time"

// QueueStatus represents the status of a campaign queue item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCancelled  QueueStatus = "cancelled"
)

// QueueItem is one scheduled attempt to deliver a campaign message to one recipient.
type QueueItem struct {
	ID           string            `json:"id"`
	CampaignID   string            `json:"campaign_id"`
	CompanyID    string            `json:"company_id"`
	RecipientID  string            `json:"recipient_id"`
	AccountID    *string           `json:"account_id"`
	Status       QueueStatus       `json:"status"`
	Priority     int               `json:"priority"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"max_attempts"`
	Metadata     map[string]string `json:"metadata"`
	ErrorMessage string            `json:"error_message,omitempty"`
	StartedAt    *time.Time        `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at"`
	LastErrorAt  *time.Time        `json:"last_error_at"`
	CreatedAt    time.Time         `json:"created_at"`
}

// QueueCounts holds queue item counts of one scope grouped by status.
type QueueCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Drained reports whether a populated queue has no outstanding work.
func (c QueueCounts) Drained() bool {
	return c.Total > 0 && c.Pending+c.Processing == 0
}
