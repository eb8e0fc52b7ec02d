package calls

import "time"

// Call is the authoritative record for one outbound call attempt. Status is
// the single source of truth for the state machine; every mutation is a
// compare-and-set guarded by the current status.
type Call struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	CampaignID     string `json:"campaign_id" db:"campaign_id"`
	ContactID      string `json:"contact_id" db:"contact_id"`

	// CallControlID is the opaque provider handle, set after dialing.
	CallControlID string `json:"call_control_id,omitempty" db:"call_control_id"`

	To   string `json:"to" db:"to_number"`
	From string `json:"from" db:"from_number"`

	Status  Status  `json:"status" db:"status"`
	Outcome Outcome `json:"outcome,omitempty" db:"outcome"`

	// DurationSecs and Cost are computed once at finalization.
	DurationSecs int     `json:"duration_secs" db:"duration_secs"`
	Cost         float64 `json:"cost" db:"cost"`

	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusQueued     Status = "queued"
	StatusDialing    Status = "dialing"
	StatusRinging    Status = "ringing"
	StatusAnswered   Status = "answered"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
	StatusVoicemail  Status = "voicemail"
)

// statusRank orders the forward-only lifecycle. Terminal states share the
// top rank; a status never moves to a lower rank.
var statusRank = map[Status]int{
	StatusQueued:     0,
	StatusDialing:    1,
	StatusRinging:    2,
	StatusAnswered:   3,
	StatusInProgress: 4,
	StatusCompleted:  5,
	StatusFailed:     5,
	StatusNoAnswer:   5,
	StatusVoicemail:  5,
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusVoicemail:
		return true
	default:
		return false
	}
}

// rank panics on unknown statuses on purpose; they cannot occur outside a
// programming error.
func (s Status) rank() int {
	r, ok := statusRank[s]
	if !ok {
		panic("calls: unknown status " + string(s))
	}
	return r
}

type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeVoicemail     Outcome = "voicemail"
	OutcomeNoAnswer      Outcome = "no_answer"
	OutcomeFailed        Outcome = "failed"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeScheduled     Outcome = "scheduled"
	OutcomeInterested    Outcome = "interested"
	OutcomeNotInterested Outcome = "not_interested"
	OutcomeDNCRequest    Outcome = "dnc_request"
	OutcomeTransferred   Outcome = "transferred"
)
