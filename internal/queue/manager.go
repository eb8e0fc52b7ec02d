package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/dnc"
)

var (
	// ErrCampaignNotEligible covers every start-time validation failure:
	// inactive campaign, inactive phone number, no eligible contacts.
	ErrCampaignNotEligible = errors.New("queue: campaign not eligible")

	// ErrQueueAlreadyRunning enforces the single-owner-per-campaign
	// invariant within this process.
	ErrQueueAlreadyRunning = errors.New("queue: already running for campaign")

	ErrQueueNotRunning = errors.New("queue: not running for campaign")
)

// Dialer is the slice of the call processor the queue needs.
type Dialer interface {
	PlaceCall(ctx context.Context, callID string) error
}

// AdmissionMetrics counts admission attempts by result.
type AdmissionMetrics interface {
	Admission(result string)
}

type nopMetrics struct{}

func (nopMetrics) Admission(string) {}

// Status is the read-only queue snapshot.
type Status struct {
	CampaignID        string `json:"campaign_id"`
	Status            string `json:"status"` // running or stopped
	TotalContacts     int    `json:"total_contacts"`
	ProcessedContacts int    `json:"processed_contacts"`
	SuccessfulCalls   int    `json:"successful_calls"`
	FailedCalls       int    `json:"failed_calls"`
}

// Config carries the admission knobs.
type Config struct {
	PacingDelay        time.Duration
	MaxConcurrentCalls int
	DailyCallLimit     int
	MaxRetries         int
	Cooldown           time.Duration
	AdmissionBackoff   time.Duration
}

// Deps wires the manager's collaborators.
type Deps struct {
	Campaigns campaigns.CampaignRepo
	Contacts  campaigns.ContactRepo
	Phones    campaigns.PhoneNumberRepo
	DNC       dnc.Registry
	Calls     calls.Repo
	Dialer    Dialer
	Limiter   Limiter
	Bcast     calls.Broadcaster
	Metrics   AdmissionMetrics
	Log       *slog.Logger
	Config    Config
	Clock     func() time.Time
}

// Manager owns per-campaign admission: contact selection, pacing, caps,
// retries. One logical owner per campaign; StartQueue on a running campaign
// fails rather than sharing ownership.
type Manager struct {
	deps Deps

	mu      sync.Mutex
	runners map[string]*runner

	// lastStatus keeps the final snapshot of stopped queues.
	lastStatus map[string]Status
}

type runner struct {
	campaignID string
	phone      campaigns.PhoneNumber
	orgID      string
	cancel     context.CancelFunc

	mu     sync.Mutex
	status Status
}

func NewManager(deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	return &Manager{
		deps:       deps,
		runners:    make(map[string]*runner),
		lastStatus: make(map[string]Status),
	}
}

func (m *Manager) criteria(campaignID string) campaigns.SelectionCriteria {
	return campaigns.SelectionCriteria{
		CampaignID: campaignID,
		MaxRetries: m.deps.Config.MaxRetries,
		Cooldown:   m.deps.Config.Cooldown,
		Now:        m.deps.Clock(),
	}
}

// StartQueue validates eligibility and launches the admission loop. The
// passed context only bounds validation; the loop runs until StopQueue,
// exhaustion, or Shutdown.
func (m *Manager) StartQueue(ctx context.Context, campaignID, phoneNumberID string) (Status, error) {
	camp, err := m.deps.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrCampaignNotEligible, err)
	}
	if camp.Status != campaigns.CampaignStatusActive {
		return Status{}, fmt.Errorf("%w: campaign status %s", ErrCampaignNotEligible, camp.Status)
	}

	phone, err := m.deps.Phones.Get(ctx, phoneNumberID)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrCampaignNotEligible, err)
	}
	if !phone.Active || phone.OrganizationID != camp.OrganizationID {
		return Status{}, fmt.Errorf("%w: phone number not usable", ErrCampaignNotEligible)
	}

	dailyLimit := phone.DailyLimit
	if dailyLimit <= 0 {
		dailyLimit = m.deps.Config.DailyCallLimit
	}
	dialed, err := m.deps.Limiter.DailyCount(ctx, phone.Number, m.deps.Clock())
	if err != nil {
		return Status{}, fmt.Errorf("daily count: %w", err)
	}
	if dialed >= dailyLimit {
		return Status{}, fmt.Errorf("%w: daily call limit reached for %s", ErrCampaignNotEligible, phone.Number)
	}

	eligible, err := m.deps.Contacts.CountEligible(ctx, m.criteria(campaignID))
	if err != nil {
		return Status{}, fmt.Errorf("count eligible contacts: %w", err)
	}
	if eligible == 0 {
		return Status{}, fmt.Errorf("%w: no eligible contacts", ErrCampaignNotEligible)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runners[campaignID]; ok {
		return Status{}, ErrQueueAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &runner{
		campaignID: campaignID,
		phone:      phone,
		orgID:      camp.OrganizationID,
		cancel:     cancel,
		status: Status{
			CampaignID:    campaignID,
			Status:        "running",
			TotalContacts: eligible,
		},
	}
	m.runners[campaignID] = r

	m.deps.Log.Info("queue started",
		"campaign_id", campaignID, "phone_number", phone.Number, "eligible_contacts", eligible)
	m.deps.Bcast.Publish(r.orgID, "queue_started", r.snapshot())

	go m.run(runCtx, r)
	return r.snapshot(), nil
}

// StopQueue halts admissions. In-flight calls continue; only their own
// state machines end them.
func (m *Manager) StopQueue(campaignID string) (Status, error) {
	m.mu.Lock()
	r, ok := m.runners[campaignID]
	m.mu.Unlock()
	if !ok {
		return Status{}, ErrQueueNotRunning
	}
	r.cancel()
	st := m.retire(r, "stopped")
	m.deps.Log.Info("queue stopped", "campaign_id", campaignID)
	return st, nil
}

// GetStatus returns the live snapshot for a running queue, or the last
// snapshot of a stopped one.
func (m *Manager) GetStatus(campaignID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runners[campaignID]; ok {
		return r.snapshot(), nil
	}
	if st, ok := m.lastStatus[campaignID]; ok {
		return st, nil
	}
	return Status{}, ErrQueueNotRunning
}

// Shutdown stops all queues, for process teardown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	runners := make([]*runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	for _, r := range runners {
		r.cancel()
		m.retire(r, "stopped")
	}
}

// retire removes the runner and records its final snapshot.
func (m *Manager) retire(r *runner, status string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runners[r.campaignID]; ok {
		delete(m.runners, r.campaignID)
	}
	r.mu.Lock()
	r.status.Status = status
	st := r.status
	r.mu.Unlock()
	m.lastStatus[r.campaignID] = st
	m.deps.Bcast.Publish(r.orgID, "queue_stopped", st)
	return st
}

func (r *runner) snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// run is the admission loop: select, filter, cap-check, dial, pace.
func (m *Manager) run(ctx context.Context, r *runner) {
	cfg := m.deps.Config

	for {
		if ctx.Err() != nil {
			return
		}

		admitted, stop := m.admitNext(ctx, r)
		if stop {
			m.retire(r, "stopped")
			return
		}

		delay := cfg.PacingDelay
		if !admitted {
			delay = cfg.AdmissionBackoff
		}
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// admitNext performs one admission attempt. It reports whether a call was
// placed and whether the queue should stop.
func (m *Manager) admitNext(ctx context.Context, r *runner) (admitted, stop bool) {
	cfg := m.deps.Config
	log := m.deps.Log.With("campaign_id", r.campaignID)

	contact, err := m.deps.Contacts.NextEligible(ctx, m.criteria(r.campaignID))
	if errors.Is(err, campaigns.ErrNotFound) {
		log.Info("campaign exhausted, stopping queue")
		m.deps.Metrics.Admission("exhausted")
		return false, true
	}
	if err != nil {
		// Transient selection errors never kill the queue.
		log.Error("contact selection failed, backing off", "error", err)
		return false, false
	}

	if dnc.Check(ctx, m.deps.DNC, log, contact.OrganizationID, contact.Phone) {
		log.Info("contact suppressed by dnc", "contact_id", contact.ID)
		m.deps.Metrics.Admission("dnc_suppressed")
		if err := m.deps.Contacts.UpdateStatus(ctx, contact.ID, campaigns.ContactStatusDNC, false); err != nil {
			log.Error("mark contact dnc failed", "contact_id", contact.ID, "error", err)
		}
		return true, false
	}

	ok, err := m.deps.Limiter.AcquireSlot(ctx, r.campaignID, cfg.MaxConcurrentCalls)
	if err != nil {
		log.Error("concurrency check failed, backing off", "error", err)
		return false, false
	}
	if !ok {
		log.Debug("at concurrency cap, backing off")
		m.deps.Metrics.Admission("cap_deferred")
		return false, false
	}

	dailyLimit := r.phone.DailyLimit
	if dailyLimit <= 0 {
		dailyLimit = cfg.DailyCallLimit
	}
	ok, err = m.deps.Limiter.IncrDaily(ctx, r.phone.Number, dailyLimit, m.deps.Clock())
	if err != nil {
		log.Error("daily limit check failed, backing off", "error", err)
		m.releaseSlot(r.campaignID)
		return false, false
	}
	if !ok {
		log.Info("daily call limit reached, stopping queue", "phone_number", r.phone.Number)
		m.deps.Metrics.Admission("daily_limit")
		m.releaseSlot(r.campaignID)
		return false, true
	}

	// in_progress blocks re-selection while the call is in flight.
	if err := m.deps.Contacts.UpdateStatus(ctx, contact.ID, campaigns.ContactStatusInProgress, false); err != nil {
		log.Error("claim contact failed", "contact_id", contact.ID, "error", err)
		m.releaseSlot(r.campaignID)
		return false, false
	}

	call := calls.Call{
		ID:             uuid.NewString(),
		OrganizationID: contact.OrganizationID,
		CampaignID:     r.campaignID,
		ContactID:      contact.ID,
		To:             contact.Phone,
		From:           r.phone.Number,
		Status:         calls.StatusQueued,
	}
	if err := m.deps.Calls.Create(ctx, call); err != nil {
		log.Error("create call failed", "contact_id", contact.ID, "error", err)
		m.releaseSlot(r.campaignID)
		if err := m.deps.Contacts.UpdateStatus(ctx, contact.ID, campaigns.ContactStatusRetry, false); err != nil {
			log.Error("unclaim contact failed", "contact_id", contact.ID, "error", err)
		}
		return false, false
	}

	log.Info("contact admitted", "contact_id", contact.ID, "call_id", call.ID)
	m.deps.Metrics.Admission("dialed")
	if err := m.deps.Dialer.PlaceCall(ctx, call.ID); err != nil {
		// The processor has already finalized the call and requeued the
		// contact; CallFinished released the slot.
		log.Warn("call placement failed", "call_id", call.ID, "error", err)
	}
	return true, false
}

func (m *Manager) releaseSlot(campaignID string) {
	if err := m.deps.Limiter.ReleaseSlot(context.Background(), campaignID); err != nil {
		m.deps.Log.Error("release concurrency slot failed", "campaign_id", campaignID, "error", err)
	}
}

// CallFinished implements calls.CompletionListener: free the slot, update
// counters, fan out progress.
func (m *Manager) CallFinished(ctx context.Context, call calls.Call) {
	m.releaseSlot(call.CampaignID)

	m.mu.Lock()
	r, ok := m.runners[call.CampaignID]
	m.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	r.status.ProcessedContacts++
	if call.Status == calls.StatusCompleted {
		r.status.SuccessfulCalls++
	} else {
		r.status.FailedCalls++
	}
	st := r.status
	r.mu.Unlock()

	progress := 0.0
	if st.TotalContacts > 0 {
		progress = float64(st.ProcessedContacts) / float64(st.TotalContacts) * 100
	}
	m.deps.Bcast.Publish(r.orgID, "queue_status", map[string]any{
		"campaign_id":        st.CampaignID,
		"processed_contacts": st.ProcessedContacts,
		"total_contacts":     st.TotalContacts,
		"successful_calls":   st.SuccessfulCalls,
		"failed_calls":       st.FailedCalls,
		"progress_pct":       progress,
	})
}

// sleepCtx waits for d unless the context ends first; reports whether the
// full delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
