package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/dialogue"
	"outdial-platform/internal/events"
	"outdial-platform/internal/speech"
	"outdial-platform/internal/telephony"
)

// Canned lines used when a downstream service cannot produce an utterance.
// A degraded conversation still always issues a next command.
const (
	repromptLine    = "Sorry, I didn't catch that. Could you say it again?"
	fallbackLine    = "I apologize, I'm having a little trouble on my end. Could you repeat that?"
	defaultGreeting = "Hi, this is an automated assistant calling on behalf of our team. Do you have a quick moment?"
	closingLine     = "Thanks so much for your time. Have a great day!"
)

// EmotionObserver receives each customer emotion reading.
type EmotionObserver interface {
	Observe(ctx context.Context, call calls.Call, emotion string, intensity float64, at time.Time)
}

// TransferTrigger is consulted after each turn with the classified intent.
type TransferTrigger interface {
	MaybeTrigger(ctx context.Context, call calls.Call, intent string, confidence float64)
}

// Deps wires the orchestrator's collaborators. EmotionObs and Transfers may
// be nil in tests that do not exercise them.
type Deps struct {
	Gateway     telephony.Gateway
	Engine      dialogue.Engine
	TTS         speech.Synthesizer
	STT         speech.Transcriber
	Store       StateStore
	Campaigns   campaigns.CampaignRepo
	Contacts    campaigns.ContactRepo
	EventLog    events.Log
	Bcast       calls.Broadcaster
	EmotionObs  EmotionObserver
	Transfers   TransferTrigger
	Log         *slog.Logger
	MaxTurns    int
	RecordLimit time.Duration
	HangupGrace time.Duration
	Clock       func() time.Time

	// Schedule defers work, defaulting to time.AfterFunc. Injected so the
	// hangup grace delay is testable without real timers.
	Schedule func(d time.Duration, f func())
}

// Orchestrator runs the speak, listen, transcribe, respond loop for one
// call. It is entirely event-driven: each method reacts to one media event
// and issues exactly one next command.
type Orchestrator struct {
	deps Deps
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	if deps.Schedule == nil {
		deps.Schedule = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return &Orchestrator{deps: deps}
}

// Open starts turn 0: personalize the campaign script, ask the engine for
// the greeting, synthesize and play it.
func (o *Orchestrator) Open(ctx context.Context, call calls.Call) error {
	script, voice := o.opening(ctx, call)

	st := State{
		CallID:         call.ID,
		OrganizationID: call.OrganizationID,
		CampaignID:     call.CampaignID,
		MaxTurns:       o.deps.MaxTurns,
		Voice:          voice,
	}

	resp, err := o.deps.Engine.Respond(ctx, dialogue.Request{
		CallID: call.ID,
		Context: dialogue.Context{
			CampaignID: call.CampaignID,
			Turn:       0,
			Script:     script,
		},
	})
	greeting := resp.Answer
	if err != nil || greeting == "" {
		if err != nil {
			o.deps.Log.Warn("dialogue unavailable for greeting, using script", "call_id", call.ID, "error", err)
		}
		greeting = script
	}
	if greeting == "" {
		greeting = defaultGreeting
	}

	return o.speak(ctx, &st, call, greeting, dialogue.Response{})
}

// HandlePlaybackEnded reacts to our own audio finishing: hang up if we were
// closing, terminate if the turn budget is spent, otherwise listen.
func (o *Orchestrator) HandlePlaybackEnded(ctx context.Context, call calls.Call) error {
	st, ok, err := o.deps.Store.Get(ctx, call.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("conversation state missing for call %s", call.ID)
	}

	if st.Closing {
		// Grace delay lets the closing line's tail land before teardown.
		ccid := call.CallControlID
		o.deps.Schedule(o.deps.HangupGrace, func() {
			if err := o.deps.Gateway.Hangup(context.Background(), ccid); err != nil {
				o.deps.Log.Warn("graceful hangup failed", "call_id", call.ID, "error", err)
			}
		})
		return nil
	}

	if st.TurnNumber >= st.MaxTurns {
		return o.terminate(ctx, &st, call, outcomeFromIntent(st.LastIntent), closingLine)
	}

	return o.deps.Gateway.Record(ctx, call.CallControlID, o.deps.RecordLimit)
}

// HandleRecording transcribes the customer's reply and produces the next
// utterance. An empty transcript re-prompts without consuming a turn.
func (o *Orchestrator) HandleRecording(ctx context.Context, call calls.Call, recordingURL string) error {
	st, ok, err := o.deps.Store.Get(ctx, call.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("conversation state missing for call %s", call.ID)
	}

	transcript, err := o.deps.STT.Transcribe(ctx, recordingURL)
	if err != nil {
		o.deps.Log.Warn("transcription failed, falling back", "call_id", call.ID, "error", err)
		return o.speak(ctx, &st, call, fallbackLine, dialogue.Response{})
	}
	if strings.TrimSpace(transcript) == "" {
		// Silence. Re-prompt; the turn counter and history are untouched.
		return o.play(ctx, st, call, repromptLine)
	}

	st.TurnNumber++
	st.History = append(st.History, Exchange{
		Speaker:   SpeakerCustomer,
		Text:      transcript,
		Timestamp: o.deps.Clock(),
	})

	resp, err := o.deps.Engine.Respond(ctx, dialogue.Request{
		CallID:    call.ID,
		UserInput: transcript,
		Context: dialogue.Context{
			CampaignID: st.CampaignID,
			Turn:       st.TurnNumber,
			History:    historyTurns(st.History),
		},
	})
	if err != nil || resp.ShouldFallback {
		if err != nil {
			o.deps.Log.Warn("dialogue failed, falling back", "call_id", call.ID, "error", err)
		}
		return o.speak(ctx, &st, call, fallbackLine, dialogue.Response{})
	}

	if resp.Emotion != "" {
		if i := len(st.History) - 1; i >= 0 {
			st.History[i].Emotion = resp.Emotion
			st.History[i].Confidence = resp.Confidence
		}
		if o.deps.EmotionObs != nil {
			o.deps.EmotionObs.Observe(ctx, call, resp.Emotion, resp.EmotionIntensity, o.deps.Clock())
		}
	}
	if resp.Intent != "" {
		st.LastIntent = resp.Intent
		if o.deps.Transfers != nil {
			o.deps.Transfers.MaybeTrigger(ctx, call, resp.Intent, resp.IntentConfidence)
		}
	}

	if outcome, closing := terminalOutcome(resp, st); closing {
		line := resp.Answer
		if line == "" {
			line = closingLine
		}
		return o.terminate(ctx, &st, call, outcome, line)
	}

	return o.speak(ctx, &st, call, resp.Answer, resp)
}

// Finalize assembles the summary and discards the ephemeral state.
func (o *Orchestrator) Finalize(ctx context.Context, call calls.Call) (calls.ConversationSummary, error) {
	st, ok, err := o.deps.Store.Get(ctx, call.ID)
	if err != nil {
		return calls.ConversationSummary{}, err
	}
	if !ok {
		return calls.ConversationSummary{}, nil
	}
	if err := o.deps.Store.Delete(ctx, call.ID); err != nil {
		o.deps.Log.Warn("conversation state delete failed", "call_id", call.ID, "error", err)
	}

	return calls.ConversationSummary{
		Turns:      st.TurnNumber,
		Transcript: transcript(st.History),
		Outcome:    st.Outcome,
	}, nil
}

// speak persists the AI utterance, records the turn durably, broadcasts it,
// then synthesizes and plays the audio. Persist-before-play: the durable
// record must exist before the next command is issued.
func (o *Orchestrator) speak(ctx context.Context, st *State, call calls.Call, text string, resp dialogue.Response) error {
	st.History = append(st.History, Exchange{
		Speaker:   SpeakerAI,
		Text:      text,
		Timestamp: o.deps.Clock(),
	})
	st.UpdatedAt = o.deps.Clock()
	if err := o.deps.Store.Put(ctx, *st); err != nil {
		return fmt.Errorf("persist conversation state: %w", err)
	}

	turn := map[string]any{
		"turn":    st.TurnNumber,
		"ai_text": text,
	}
	if n := len(st.History); n >= 2 && st.History[n-2].Speaker == SpeakerCustomer {
		turn["customer_text"] = st.History[n-2].Text
		turn["emotion"] = st.History[n-2].Emotion
	}
	if resp.Intent != "" {
		turn["intent"] = resp.Intent
		turn["intent_confidence"] = resp.IntentConfidence
	}
	if err := o.deps.EventLog.Append(ctx, st.OrganizationID, call.ID, "conversation_turn", turn); err != nil {
		o.deps.Log.Warn("turn log append failed", "call_id", call.ID, "error", err)
	}
	o.deps.Bcast.Publish(st.OrganizationID, "conversation_turn", turn)

	return o.play(ctx, *st, call, text)
}

// play synthesizes and plays one line without touching state or history.
func (o *Orchestrator) play(ctx context.Context, st State, call calls.Call, text string) error {
	audioURL, err := o.deps.TTS.Synthesize(ctx, text, st.Voice)
	if err != nil {
		// With no audio there is no next event; let the processor tear the
		// call down rather than leave it hanging.
		return fmt.Errorf("synthesize utterance: %w", err)
	}
	return o.deps.Gateway.Play(ctx, call.CallControlID, audioURL)
}

// terminate plays the closing line and marks the state so the following
// playback end hangs up.
func (o *Orchestrator) terminate(ctx context.Context, st *State, call calls.Call, outcome calls.Outcome, line string) error {
	st.Closing = true
	st.Outcome = outcome
	return o.speak(ctx, st, call, line, dialogue.Response{})
}

// opening resolves the personalized script and voice for the call's
// campaign. Missing campaign or contact rows degrade to defaults.
func (o *Orchestrator) opening(ctx context.Context, call calls.Call) (script, voice string) {
	voice = speech.VoiceForPersona("")

	camp, err := o.deps.Campaigns.Get(ctx, call.CampaignID)
	if err != nil {
		o.deps.Log.Warn("campaign lookup failed for greeting", "call_id", call.ID, "error", err)
		return defaultGreeting, voice
	}
	voice = speech.VoiceForPersona(camp.VoicePersona)

	script = camp.ScriptContent
	if script == "" {
		return defaultGreeting, voice
	}

	contact, err := o.deps.Contacts.Get(ctx, call.ContactID)
	if err != nil {
		o.deps.Log.Warn("contact lookup failed for greeting", "call_id", call.ID, "error", err)
		return script, voice
	}
	return personalize(script, contact), voice
}

// personalize substitutes contact fields into the campaign script.
func personalize(script string, c campaigns.Contact) string {
	return strings.NewReplacer(
		"{first_name}", c.FirstName,
		"{last_name}", c.LastName,
		"{company}", c.Company,
		"{title}", c.Title,
	).Replace(script)
}

// terminalOutcome decides whether the engine's response ends the call.
func terminalOutcome(resp dialogue.Response, st State) (calls.Outcome, bool) {
	for _, a := range resp.SuggestedActions {
		switch a {
		case dialogue.ActionDNCRequest:
			return calls.OutcomeDNCRequest, true
		case dialogue.ActionScheduleMeeting:
			return calls.OutcomeScheduled, true
		case dialogue.ActionEndCall:
			return outcomeFromIntent(st.LastIntent), true
		}
	}
	if st.TurnNumber >= st.MaxTurns {
		return outcomeFromIntent(st.LastIntent), true
	}
	return "", false
}

// outcomeFromIntent refines a plain completion with the last classified
// intent of the conversation.
func outcomeFromIntent(intent string) calls.Outcome {
	switch intent {
	case dialogue.IntentInterested:
		return calls.OutcomeInterested
	case dialogue.IntentNotInterested:
		return calls.OutcomeNotInterested
	default:
		return calls.OutcomeCompleted
	}
}

func historyTurns(h []Exchange) []dialogue.Turn {
	out := make([]dialogue.Turn, len(h))
	for i, e := range h {
		out[i] = dialogue.Turn{Speaker: e.Speaker, Text: e.Text}
	}
	return out
}

func transcript(h []Exchange) string {
	var b strings.Builder
	for _, e := range h {
		b.WriteString(e.Speaker)
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}
