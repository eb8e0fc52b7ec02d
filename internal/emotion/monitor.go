package emotion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"outdial-platform/internal/agents"
	"outdial-platform/internal/calls"
	"outdial-platform/internal/rbac"
)

// Dispatcher fans an alert out to external webhooks. Fire and forget.
type Dispatcher interface {
	Dispatch(a Alert)
}

// AlertMetrics counts raised alerts by type. May be nil.
type AlertMetrics interface {
	AlertRaised(alertType string)
}

// MonitorDeps wires the monitor's collaborators. Dispatcher may be nil when
// no webhook targets are configured.
type MonitorDeps struct {
	Alerts     AlertRepo
	Tasks      TaskRepo
	Agents     agents.Directory
	Bcast      calls.Broadcaster
	Dispatcher Dispatcher
	Metrics    AlertMetrics
	Log        *slog.Logger

	// SustainedMinLevel and SustainedFor define the sustained condition:
	// the same negative emotion at or above the level for at least this
	// much cumulative timeline.
	SustainedMinLevel float64
	SustainedFor      time.Duration

	// SpikeMinLevel triggers a high_negative alert from a single reading.
	SpikeMinLevel float64

	Clock func() time.Time
}

// Monitor watches per-call emotion timelines and raises alerts. Timelines
// are in-process scratch state; alerts and tasks are durable.
type Monitor struct {
	deps MonitorDeps

	mu        sync.Mutex
	timelines map[string][]Reading
}

func NewMonitor(deps MonitorDeps) *Monitor {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Monitor{deps: deps, timelines: make(map[string][]Reading)}
}

// Observe appends one reading and evaluates both alert conditions. Called
// from the conversation turn loop; never returns an error.
func (m *Monitor) Observe(ctx context.Context, call calls.Call, emotion string, intensity float64, at time.Time) {
	if !Negative(emotion) {
		// A positive reading breaks any sustained run.
		m.appendReading(call.ID, Reading{Emotion: emotion, Intensity: intensity, At: at})
		return
	}

	timeline := m.appendReading(call.ID, Reading{Emotion: emotion, Intensity: intensity, At: at})

	if intensity >= m.deps.SpikeMinLevel {
		m.raise(ctx, call, Alert{
			Type:      TypeHighNegative,
			Emotion:   emotion,
			Intensity: intensity,
		})
	}

	if run := sustainedRun(timeline, emotion, m.deps.SustainedMinLevel); run >= m.deps.SustainedFor {
		m.raise(ctx, call, Alert{
			Type:         TypeSustainedFrustration,
			Emotion:      emotion,
			Intensity:    intensity,
			DurationSecs: int(run.Seconds()),
		})
	}
}

// Forget drops the call's timeline once the call ends.
func (m *Monitor) Forget(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timelines, callID)
}

func (m *Monitor) appendReading(callID string, r Reading) []Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timelines[callID] = append(m.timelines[callID], r)
	return m.timelines[callID]
}

// sustainedRun measures the trailing stretch of the timeline where the same
// emotion stays at or above the minimum level, returning its duration.
func sustainedRun(timeline []Reading, emotion string, minLevel float64) time.Duration {
	if len(timeline) == 0 {
		return 0
	}
	start := len(timeline)
	for i := len(timeline) - 1; i >= 0; i-- {
		if timeline[i].Emotion != emotion || timeline[i].Intensity < minLevel {
			break
		}
		start = i
	}
	if start >= len(timeline) {
		return 0
	}
	return timeline[len(timeline)-1].At.Sub(timeline[start].At)
}

// raise creates the alert if no unresolved alert of the same type exists,
// then the supervisor task, broadcast, and webhook fan-out.
func (m *Monitor) raise(ctx context.Context, call calls.Call, a Alert) {
	now := m.deps.Clock()
	a.ID = uuid.NewString()
	a.OrganizationID = call.OrganizationID
	a.CallID = call.ID
	a.CreatedAt = now

	created, err := m.deps.Alerts.CreateIfAbsent(ctx, a)
	if err != nil {
		m.deps.Log.Error("alert creation failed", "call_id", call.ID, "type", a.Type, "error", err)
		return
	}
	if !created {
		// An unresolved alert of this type already covers the call.
		return
	}

	m.deps.Log.Warn("emotional alert raised",
		"call_id", call.ID, "type", a.Type, "emotion", a.Emotion, "intensity", a.Intensity)

	if m.deps.Metrics != nil {
		m.deps.Metrics.AlertRaised(a.Type)
	}
	m.createTask(ctx, call, a, now)
	m.deps.Bcast.Publish(call.OrganizationID, "emotional_alert", a)
	if m.deps.Dispatcher != nil {
		m.deps.Dispatcher.Dispatch(a)
	}
}

func (m *Monitor) createTask(ctx context.Context, call calls.Call, a Alert, now time.Time) {
	supervisor, err := m.deps.Agents.MostRecentlyActive(ctx, call.OrganizationID, rbac.SupervisorRoles())
	if err != nil {
		m.deps.Log.Error("no supervisor for alert task", "call_id", call.ID, "error", err)
		return
	}

	task := Task{
		ID:             uuid.NewString(),
		OrganizationID: call.OrganizationID,
		AlertID:        a.ID,
		CallID:         call.ID,
		AssignedTo:     supervisor.ID,
		Description:    fmt.Sprintf("Review call: %s (%s at %.2f)", a.Type, a.Emotion, a.Intensity),
		CreatedAt:      now,
	}
	if err := m.deps.Tasks.Create(ctx, task); err != nil {
		m.deps.Log.Error("supervisor task creation failed", "call_id", call.ID, "error", err)
	}
}

// Resolve closes an alert and its supervisor task. The organization is
// checked before anything is written; a foreign alert looks identical to a
// missing one.
func (m *Monitor) Resolve(ctx context.Context, organizationID, alertID, resolvedBy, notes string) (Alert, error) {
	existing, err := m.deps.Alerts.Get(ctx, alertID)
	if err != nil {
		return Alert{}, err
	}
	if existing.OrganizationID != organizationID {
		return Alert{}, ErrNotFound
	}

	now := m.deps.Clock()
	if err := m.deps.Alerts.Resolve(ctx, alertID, resolvedBy, notes, now); err != nil {
		return Alert{}, err
	}
	if err := m.deps.Tasks.CloseByAlert(ctx, alertID, now); err != nil {
		m.deps.Log.Warn("closing supervisor task failed", "alert_id", alertID, "error", err)
	}

	a, err := m.deps.Alerts.Get(ctx, alertID)
	if err != nil {
		return Alert{}, err
	}
	m.deps.Bcast.Publish(a.OrganizationID, "alert_resolved", a)
	return a, nil
}
