package domain

import "time"

// CampaignStatus represents the lifecycle status of a campaign.
type CampaignStatus string

// Campaign statuses.
const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// IsTerminal reports whether the campaign can no longer be dispatched.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled || s == CampaignStatusFailed
}

// AntiBanMode selects the rate limit profile of a campaign.
type AntiBanMode string

// Anti-ban modes. An empty mode behaves like simple for account selection
// and like moderate for rate caps.
const (
	AntiBanModeSimple       AntiBanMode = "simple"
	AntiBanModeConservative AntiBanMode = "conservative"
	AntiBanModeModerate     AntiBanMode = "moderate"
	AntiBanModeAggressive   AntiBanMode = "aggressive"
)

// AntiBanSettings mimic human sending patterns to avoid provider throttling.
// Delay values are in seconds, CooldownPeriod in minutes.
type AntiBanSettings struct {
	Enabled           bool        `json:"enabled"`
	Mode              AntiBanMode `json:"mode"`
	AccountRotation   bool        `json:"accountRotation"`
	CooldownPeriod    int         `json:"cooldownPeriod"`
	RandomizeDelay    bool        `json:"randomizeDelay"`
	MinDelay          int         `json:"minDelay"`
	MaxDelay          int         `json:"maxDelay"`
	BusinessHoursOnly bool        `json:"businessHoursOnly"`
	RespectWeekends   bool        `json:"respectWeekends"`
}

// Campaign is a company-owned bulk send with one content template.
type Campaign struct {
	ID                  string          `json:"id"`
	CompanyID           string          `json:"company_id"`
	Name                string          `json:"name"`
	Status              CampaignStatus  `json:"status"`
	Content             string          `json:"content"`
	MediaURLs           []string        `json:"media_urls"`
	ChannelID           *string         `json:"channel_id"`
	ChannelIDs          []string        `json:"channel_ids"`
	AntiBan             AntiBanSettings `json:"anti_ban_settings"`
	TotalRecipients     int             `json:"total_recipients"`
	ProcessedRecipients int             `json:"processed_recipients"`
	SuccessfulSends     int             `json:"successful_sends"`
	FailedSends         int             `json:"failed_sends"`
	StartedAt           *time.Time      `json:"started_at"`
	PausedAt            *time.Time      `json:"paused_at"`
	CompletedAt         *time.Time      `json:"completed_at"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CampaignStats are the aggregate counters of a campaign.
type CampaignStats struct {
	TotalRecipients     int `json:"totalRecipients"`
	ProcessedRecipients int `json:"processedRecipients"`
	SuccessfulSends     int `json:"successfulSends"`
	FailedSends         int `json:"failedSends"`
}

// ProgressPercentage returns processed/total rounded to a whole percent.
func (s CampaignStats) ProgressPercentage() int {
	if s.TotalRecipients <= 0 {
		return 0
	}
	return (s.ProcessedRecipients*200 + s.TotalRecipients) / (s.TotalRecipients * 2)
}
