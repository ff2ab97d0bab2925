package domain

import "time"

// RecipientStatus represents delivery status of a campaign recipient.
type RecipientStatus string

// Recipient statuses.
const (
	RecipientStatusPending   RecipientStatus = "pending"
	RecipientStatusSent      RecipientStatus = "sent"
	RecipientStatusDelivered RecipientStatus = "delivered"
	RecipientStatusFailed    RecipientStatus = "failed"
	RecipientStatusCancelled RecipientStatus = "cancelled"
)

// Recipient binds a contact to a campaign with personalization data.
type Recipient struct {
	ID           string            `json:"id"`
	CampaignID   string            `json:"campaign_id"`
	ContactID    string            `json:"contact_id"`
	Name         string            `json:"name"`
	Phone        string            `json:"phone"`
	Email        string            `json:"email"`
	Variables    map[string]string `json:"variables"`
	Status       RecipientStatus   `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	SentAt       *time.Time        `json:"sent_at"`
	FailedAt     *time.Time        `json:"failed_at"`
}
