package emotion

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("emotion: not found")

// Alert types.
const (
	TypeSustainedFrustration = "sustained_frustration"
	TypeHighNegative         = "high_negative"
)

// negativeEmotions is the category that can raise alerts.
var negativeEmotions = map[string]struct{}{
	"anger":       {},
	"frustration": {},
	"sadness":     {},
	"disgust":     {},
}

func Negative(emotion string) bool {
	_, ok := negativeEmotions[emotion]
	return ok
}

// Reading is one point on a call's emotion timeline.
type Reading struct {
	Emotion   string
	Intensity float64
	At        time.Time
}

// Alert records a detected emotional escalation. At most one unresolved
// alert exists per (callId, type).
type Alert struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	CallID         string `json:"call_id" db:"call_id"`

	Type         string  `json:"type" db:"type"`
	Emotion      string  `json:"emotion" db:"emotion"`
	Intensity    float64 `json:"intensity" db:"intensity"`
	DurationSecs int     `json:"duration_secs" db:"duration_secs"`

	Resolved      bool       `json:"resolved" db:"resolved"`
	ResolvedBy    string     `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedNotes string     `json:"resolved_notes,omitempty" db:"resolved_notes"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Task is the supervisor work item created alongside an alert.
type Task struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	AlertID        string     `json:"alert_id" db:"alert_id"`
	CallID         string     `json:"call_id" db:"call_id"`
	AssignedTo     string     `json:"assigned_to" db:"assigned_to"`
	Description    string     `json:"description" db:"description"`
	Done           bool       `json:"done" db:"done"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// AlertRepo persists alerts with the unresolved-uniqueness invariant.
type AlertRepo interface {
	// CreateIfAbsent inserts the alert unless an unresolved alert with the
	// same (callId, type) already exists. Reports whether it inserted.
	CreateIfAbsent(ctx context.Context, a Alert) (bool, error)

	Get(ctx context.Context, alertID string) (Alert, error)

	// Resolve closes the alert. Resolving twice is ErrNotFound on the
	// second call since the unresolved row is gone.
	Resolve(ctx context.Context, alertID, resolvedBy, notes string, at time.Time) error
}

// TaskRepo persists supervisor tasks.
type TaskRepo interface {
	Create(ctx context.Context, t Task) error

	// CloseByAlert marks the alert's task done.
	CloseByAlert(ctx context.Context, alertID string, at time.Time) error
}
