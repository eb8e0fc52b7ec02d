package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/dnc"
	"outdial-platform/internal/events"
	"outdial-platform/internal/telephony"
)

// ConversationDriver is the slice of the conversation orchestrator the
// processor needs. The orchestrator owns the turn loop; the processor only
// forwards the media-lifecycle events that drive it.
type ConversationDriver interface {
	Open(ctx context.Context, call Call) error
	HandlePlaybackEnded(ctx context.Context, call Call) error
	HandleRecording(ctx context.Context, call Call, recordingURL string) error

	// Finalize returns the conversation summary and discards the ephemeral
	// state. A call that never opened a conversation yields a zero summary.
	Finalize(ctx context.Context, call Call) (ConversationSummary, error)
}

// ConversationSummary is what the turn loop hands back at call end.
type ConversationSummary struct {
	Turns      int
	Transcript string

	// Outcome refines the terminal outcome (scheduled, dnc_request, ...).
	// Zero means the conversation has no opinion.
	Outcome Outcome
}

// CompletionListener is notified once per call when it reaches a terminal
// state, freeing the contact's admission slot.
type CompletionListener interface {
	CallFinished(ctx context.Context, call Call)
}

// Broadcaster fans events out to live observers. Fire and forget.
type Broadcaster interface {
	Publish(organizationID, event string, payload any)
}

// CostCalculator prices a completed call.
type CostCalculator interface {
	CallCost(d time.Duration) float64
}

// CostRecorder writes the idempotent per-call cost ledger entry.
type CostRecorder interface {
	Record(ctx context.Context, organizationID, callID string, amount float64, at time.Time) error
}

// Finalizer closes the call row and its cost entry as one write. When set it
// replaces the separate Repo.Finalize and Ledger.Record calls.
type Finalizer interface {
	Finalize(ctx context.Context, call Call, fin Finalization) error
}

// ProcessorMetrics is the slice of the metrics registry the processor
// touches. Nil-safe via NopProcessorMetrics.
type ProcessorMetrics interface {
	WebhookProcessed(eventType string, duplicate bool)
	CallStarted()
	CallFinished(outcome string)
	CallDuration(seconds float64)
}

type NopProcessorMetrics struct{}

func (NopProcessorMetrics) WebhookProcessed(string, bool) {}
func (NopProcessorMetrics) CallStarted()                  {}
func (NopProcessorMetrics) CallFinished(string)           {}
func (NopProcessorMetrics) CallDuration(float64)          {}

// ProcessorDeps wires the processor's collaborators.
type ProcessorDeps struct {
	Repo     Repo
	Contacts campaigns.ContactRepo
	DNC      dnc.Registry
	Gateway  telephony.Gateway
	Conv     ConversationDriver
	Dedupe   DedupeStore
	EventLog events.Log
	Coster   CostCalculator
	Ledger   CostRecorder
	Closer   Finalizer
	Listener CompletionListener
	Bcast    Broadcaster
	Metrics  ProcessorMetrics
	Log      *slog.Logger

	// DialTimeoutSecs bounds provider-side ringing.
	DialTimeoutSecs  int
	MachineDetection bool

	Clock func() time.Time
}

// Processor drives call state: it looks up the call, applies the pure
// transition, executes the resulting commands, and persists. All errors are
// absorbed here so the webhook boundary can always acknowledge.
type Processor struct {
	deps ProcessorDeps

	// perCall serializes event processing for a single call while letting
	// distinct calls proceed in parallel.
	mu      sync.Mutex
	perCall map[string]*sync.Mutex
}

func NewProcessor(deps ProcessorDeps) *Processor {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	if deps.Metrics == nil {
		deps.Metrics = NopProcessorMetrics{}
	}
	return &Processor{deps: deps, perCall: make(map[string]*sync.Mutex)}
}

func (p *Processor) lockCall(callID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.perCall[callID]
	if !ok {
		l = &sync.Mutex{}
		p.perCall[callID] = l
	}
	return l
}

func (p *Processor) releaseLock(callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.perCall, callID)
}

// PlaceCall starts dialing a freshly created (queued) call. A dial failure
// is reported so the queue can requeue the contact; the call record is
// finalized as failed either way.
func (p *Processor) PlaceCall(ctx context.Context, callID string) error {
	call, err := p.deps.Repo.Get(ctx, callID)
	if err != nil {
		return err
	}
	p.deps.Bcast.Publish(call.OrganizationID, "call_started", call)
	p.deps.Metrics.CallStarted()

	if err := p.apply(ctx, call, Event{Type: EventPlaceCall}); err != nil {
		return err
	}

	// A dial failure finalizes the call; surface that to the admitting
	// queue as an error.
	updated, err := p.deps.Repo.Get(ctx, callID)
	if err != nil {
		return err
	}
	if updated.Status == StatusFailed {
		return fmt.Errorf("call %s: placement failed", callID)
	}
	return nil
}

// ForceTimeout is the reconciler entry point for stuck calls.
func (p *Processor) ForceTimeout(ctx context.Context, callID string) error {
	call, err := p.deps.Repo.Get(ctx, callID)
	if err != nil {
		return err
	}
	return p.apply(ctx, call, Event{Type: EventReconcileTimeout})
}

// HandleWebhook processes one provider delivery. The returned error is for
// logging only: the HTTP handler acknowledges regardless.
func (p *Processor) HandleWebhook(ctx context.Context, wh telephony.WebhookEvent) error {
	first, err := p.deps.Dedupe.FirstDelivery(ctx, EventIdentity(wh.CallControlID, wh.EventType, wh.ID))
	if err != nil {
		p.deps.Log.Warn("webhook dedupe check failed, processing anyway", "error", err)
	}
	p.deps.Metrics.WebhookProcessed(wh.EventType, !first)
	if !first {
		p.deps.Log.Debug("duplicate webhook dropped",
			"event_type", wh.EventType, "call_control_id", wh.CallControlID)
		return nil
	}

	call, err := p.resolveCall(ctx, wh)
	if err != nil {
		return fmt.Errorf("resolve call for %s webhook: %w", wh.EventType, err)
	}

	ev, ok := mapWebhook(wh)
	if !ok {
		p.deps.Log.Debug("ignoring webhook event", "event_type", wh.EventType, "call_id", call.ID)
		return nil
	}

	if wh.EventType == telephony.EventCallAnswered {
		if err := p.deps.Repo.MarkAnswered(ctx, call.ID, p.deps.Clock()); err != nil {
			p.deps.Log.Warn("mark answered failed", "call_id", call.ID, "error", err)
		}
	}

	return p.apply(ctx, call, ev)
}

func (p *Processor) resolveCall(ctx context.Context, wh telephony.WebhookEvent) (Call, error) {
	if id := wh.ClientState.CallID; id != "" {
		return p.deps.Repo.Get(ctx, id)
	}
	return p.deps.Repo.GetByControlID(ctx, wh.CallControlID)
}

func mapWebhook(wh telephony.WebhookEvent) (Event, bool) {
	switch wh.EventType {
	case telephony.EventCallInitiated:
		return Event{Type: EventInitiated}, true
	case telephony.EventCallAnswered:
		return Event{Type: EventAnswered}, true
	case telephony.EventCallHangup:
		return Event{Type: EventHangup, HangupCause: wh.HangupCause}, true
	case telephony.EventCallTimeout:
		return Event{Type: EventDialTimeout}, true
	case telephony.EventCallFailed:
		return Event{Type: EventProviderFailure}, true
	case telephony.EventMachineDetection:
		return Event{Type: EventMachineDetected, MachineResult: wh.MachineResult}, true
	case telephony.EventPlaybackEnded:
		return Event{Type: EventPlaybackEnded}, true
	case telephony.EventRecordingSaved:
		return Event{Type: EventRecordingSaved, RecordingURL: wh.RecordingURL}, true
	default:
		return Event{}, false
	}
}

// apply runs events through the transition function under the call's lock.
// Command execution may synthesize follow-up events (answer_ack after a
// successful answer, provider_failure after a failed dial); those are
// processed in the same critical section to preserve per-call ordering.
func (p *Processor) apply(ctx context.Context, call Call, first Event) error {
	lock := p.lockCall(call.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read inside the lock; a racing delivery may have moved the call.
	call, err := p.deps.Repo.Get(ctx, call.ID)
	if err != nil {
		return err
	}

	pending := []Event{first}
	for len(pending) > 0 {
		ev := pending[0]
		pending = pending[1:]

		res, err := Transition(call.Status, ev)
		if err != nil {
			p.deps.Log.Error("transition rejected event",
				"call_id", call.ID, "event", ev.Type, "status", call.Status, "error", err)
			continue
		}
		if res.NoOp {
			p.deps.Log.Debug("event absorbed",
				"call_id", call.ID, "event", ev.Type, "status", call.Status)
			continue
		}

		if res.Status != call.Status {
			err := p.deps.Repo.CompareAndSetStatus(ctx, call.ID, call.Status, res.Status)
			if errors.Is(err, ErrStaleTransition) {
				p.deps.Log.Warn("lost status race, dropping event",
					"call_id", call.ID, "event", ev.Type, "expected", call.Status)
				continue
			}
			if err != nil {
				return fmt.Errorf("persist status %s for call %s: %w", res.Status, call.ID, err)
			}
			call.Status = res.Status
			p.logEvent(ctx, call, "status_"+string(res.Status), map[string]string{"event": string(ev.Type)})
			p.deps.Bcast.Publish(call.OrganizationID, "call_status_update", map[string]any{
				"call_id": call.ID,
				"status":  call.Status,
			})
		}

		pending = append(pending, p.execute(ctx, &call, res)...)
	}

	if call.Status.Terminal() {
		p.releaseLock(call.ID)
	}
	return nil
}

// execute runs the transition's commands, returning any synthesized
// follow-up events.
func (p *Processor) execute(ctx context.Context, call *Call, res Result) []Event {
	var followups []Event

	for _, cmd := range res.Commands {
		switch cmd.Type {
		case CmdDial:
			ccid, err := p.deps.Gateway.Dial(ctx, telephony.DialRequest{
				To:   call.To,
				From: call.From,
				ClientState: telephony.ClientState{
					CallID:         call.ID,
					OrganizationID: call.OrganizationID,
					CampaignID:     call.CampaignID,
					ContactID:      call.ContactID,
					Leg:            telephony.LegContact,
				},
				MachineDetection: p.deps.MachineDetection,
				TimeoutSecs:      p.deps.DialTimeoutSecs,
			})
			if err != nil {
				p.deps.Log.Error("dial failed", "call_id", call.ID, "error", err)
				followups = append(followups, Event{Type: EventProviderFailure})
				continue
			}
			call.CallControlID = ccid
			if err := p.deps.Repo.SetControlID(ctx, call.ID, ccid); err != nil {
				p.deps.Log.Error("persist call control id failed", "call_id", call.ID, "error", err)
			}

		case CmdAnswer:
			if err := p.deps.Gateway.Answer(ctx, call.CallControlID); err != nil {
				p.deps.Log.Error("answer failed", "call_id", call.ID, "error", err)
				followups = append(followups, Event{Type: EventHangup, HangupCause: "answer_failed"})
				continue
			}
			followups = append(followups, Event{Type: EventAnswerAck})

		case CmdConversationOpen:
			p.runConversation(ctx, call, &followups, func() error {
				return p.deps.Conv.Open(ctx, *call)
			})

		case CmdConversationListen:
			p.runConversation(ctx, call, &followups, func() error {
				return p.deps.Conv.HandlePlaybackEnded(ctx, *call)
			})

		case CmdConversationRecording:
			url := cmd.RecordingURL
			p.runConversation(ctx, call, &followups, func() error {
				return p.deps.Conv.HandleRecording(ctx, *call, url)
			})

		case CmdHangup:
			if err := p.deps.Gateway.Hangup(ctx, call.CallControlID); err != nil {
				p.deps.Log.Warn("hangup command failed", "call_id", call.ID, "error", err)
			}

		case CmdFinalize:
			p.finalize(ctx, call, res.Outcome)
		}
	}
	return followups
}

// runConversation invokes one orchestrator step. The orchestrator handles
// downstream fallbacks itself; an error here means it could not issue any
// next command, so the call is torn down rather than left hanging.
func (p *Processor) runConversation(ctx context.Context, call *Call, followups *[]Event, step func() error) {
	if err := step(); err != nil {
		p.deps.Log.Error("conversation step failed, ending call", "call_id", call.ID, "error", err)
		if err := p.deps.Gateway.Hangup(ctx, call.CallControlID); err != nil {
			p.deps.Log.Warn("hangup after conversation failure", "call_id", call.ID, "error", err)
		}
		*followups = append(*followups, Event{Type: EventHangup, HangupCause: "orchestrator_error"})
	}
}

// finalize closes the books exactly once: duration, cost, conversation
// summary, contact release, queue notification. Called only from within the
// call's critical section.
func (p *Processor) finalize(ctx context.Context, call *Call, outcome Outcome) {
	now := p.deps.Clock()

	summary, err := p.deps.Conv.Finalize(ctx, *call)
	if err != nil {
		p.deps.Log.Warn("conversation finalize failed", "call_id", call.ID, "error", err)
	}
	if outcome == OutcomeCompleted && summary.Outcome != "" {
		outcome = summary.Outcome
	}
	// A completed warm transfer already settled the verdict.
	if call.Outcome == OutcomeTransferred {
		outcome = OutcomeTransferred
	}

	var duration time.Duration
	if call.AnsweredAt != nil {
		duration = now.Sub(*call.AnsweredAt)
		if duration < 0 {
			duration = 0
		}
	}

	fin := Finalization{
		Outcome:      outcome,
		DurationSecs: int(duration.Round(time.Second).Seconds()),
		EndedAt:      now,
	}
	if call.AnsweredAt != nil {
		fin.Cost = p.deps.Coster.CallCost(duration)
	}
	if p.deps.Closer != nil {
		if err := p.deps.Closer.Finalize(ctx, *call, fin); err != nil {
			p.deps.Log.Error("finalize call failed", "call_id", call.ID, "error", err)
		}
	} else {
		if err := p.deps.Repo.Finalize(ctx, call.ID, fin); err != nil {
			p.deps.Log.Error("finalize call failed", "call_id", call.ID, "error", err)
		}
		if fin.Cost > 0 && p.deps.Ledger != nil {
			if err := p.deps.Ledger.Record(ctx, call.OrganizationID, call.ID, fin.Cost, now); err != nil {
				p.deps.Log.Error("cost ledger record failed", "call_id", call.ID, "error", err)
			}
		}
	}
	call.Outcome = outcome

	p.releaseContact(ctx, *call, outcome, now)

	p.logEvent(ctx, *call, "call_ended", map[string]any{
		"outcome":       outcome,
		"duration_secs": fin.DurationSecs,
		"cost":          fin.Cost,
		"turns":         summary.Turns,
	})
	p.deps.Bcast.Publish(call.OrganizationID, "call_ended", map[string]any{
		"call_id":       call.ID,
		"status":        call.Status,
		"outcome":       outcome,
		"duration_secs": fin.DurationSecs,
	})
	p.deps.Metrics.CallFinished(string(outcome))
	if call.AnsweredAt != nil {
		p.deps.Metrics.CallDuration(duration.Seconds())
	}

	if p.deps.Listener != nil {
		p.deps.Listener.CallFinished(ctx, *call)
	}
}

// releaseContact moves the contact out of in_progress based on how the call
// ended. Retryable outcomes bump the retry counter; selection enforces the
// cap.
func (p *Processor) releaseContact(ctx context.Context, call Call, outcome Outcome, now time.Time) {
	var status campaigns.ContactStatus
	increment := false

	switch outcome {
	case OutcomeDNCRequest:
		status = campaigns.ContactStatusDNC
		if err := p.deps.DNC.Add(ctx, call.OrganizationID, call.To, "caller request"); err != nil {
			p.deps.Log.Error("dnc add failed", "call_id", call.ID, "error", err)
		}
	case OutcomeNoAnswer, OutcomeFailed, OutcomeTimeout:
		status = campaigns.ContactStatusRetry
		increment = true
	default:
		status = campaigns.ContactStatusContacted
	}

	if err := p.deps.Contacts.UpdateStatus(ctx, call.ContactID, status, increment); err != nil {
		p.deps.Log.Error("release contact failed",
			"call_id", call.ID, "contact_id", call.ContactID, "error", err)
	}
	if err := p.deps.Contacts.MarkContacted(ctx, call.ContactID, now); err != nil {
		p.deps.Log.Error("mark contacted failed",
			"call_id", call.ID, "contact_id", call.ContactID, "error", err)
	}
}

func (p *Processor) logEvent(ctx context.Context, call Call, eventType string, detail any) {
	if err := p.deps.EventLog.Append(ctx, call.OrganizationID, call.ID, eventType, detail); err != nil {
		p.deps.Log.Warn("event log append failed", "call_id", call.ID, "type", eventType, "error", err)
	}
}
