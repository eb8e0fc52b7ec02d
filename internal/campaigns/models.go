package campaigns

import "time"

// Campaign is the outbound calling campaign a queue runs against.
//
// The orchestration core only reads campaigns; CRUD lives elsewhere.
type Campaign struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Name           string `json:"name" db:"name"`

	Status CampaignStatus `json:"status" db:"status"`

	// ScriptContent is the opening script with {first_name}/{company} style
	// placeholders; personalized per contact before the first turn.
	ScriptContent string `json:"script_content,omitempty" db:"script_content"`

	// VoicePersona selects the TTS voice (professional, casual, empathetic, enthusiastic).
	VoicePersona string `json:"voice_persona,omitempty" db:"voice_persona"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CampaignStatus string

const (
	CampaignStatusDraft    CampaignStatus = "draft"
	CampaignStatusActive   CampaignStatus = "active"
	CampaignStatusPaused   CampaignStatus = "paused"
	CampaignStatusArchived CampaignStatus = "archived"
)

// Contact is one dialable lead inside a campaign.
//
// Invariant: a contact has at most one non-terminal call at any time. The
// queue enforces this through the status transition to in_progress at
// admission, not through a separate lock.
type Contact struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	CampaignID     string `json:"campaign_id" db:"campaign_id"`

	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	Company   string `json:"company,omitempty" db:"company"`
	Title     string `json:"title,omitempty" db:"title"`
	Phone     string `json:"phone" db:"phone"`

	Priority   int           `json:"priority" db:"priority"`
	RetryCount int           `json:"retry_count" db:"retry_count"`
	Status     ContactStatus `json:"status" db:"status"`

	LastContactedAt *time.Time `json:"last_contacted_at,omitempty" db:"last_contacted_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

type ContactStatus string

const (
	ContactStatusNew        ContactStatus = "new"
	ContactStatusPending    ContactStatus = "pending"
	ContactStatusRetry      ContactStatus = "retry"
	ContactStatusInProgress ContactStatus = "in_progress"
	ContactStatusContacted  ContactStatus = "contacted"
	ContactStatusDNC        ContactStatus = "dnc"
	ContactStatusFailed     ContactStatus = "failed"
)

// Dialable reports whether the status makes a contact eligible for selection.
func (s ContactStatus) Dialable() bool {
	switch s {
	case ContactStatusNew, ContactStatusPending, ContactStatusRetry:
		return true
	default:
		return false
	}
}

// PhoneNumber is an outbound caller-id resource with a daily dial cap.
type PhoneNumber struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Number         string `json:"number" db:"number"`
	Active         bool   `json:"active" db:"active"`

	DailyLimit int `json:"daily_limit" db:"daily_limit"`
}
