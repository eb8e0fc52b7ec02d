package conversation

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/dialogue"
	"outdial-platform/internal/events"
	"outdial-platform/internal/telephony"
)

type scriptedEngine struct {
	resp dialogue.Response
	err  error
	got  []dialogue.Request
}

func (e *scriptedEngine) Respond(ctx context.Context, req dialogue.Request) (dialogue.Response, error) {
	e.got = append(e.got, req)
	return e.resp, e.err
}

type fakeTTS struct {
	err   error
	texts []string
}

func (t *fakeTTS) Synthesize(ctx context.Context, text, voice string) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	t.texts = append(t.texts, text)
	return "https://tts/audio.wav", nil
}

type fakeSTT struct {
	text string
	err  error
}

func (s *fakeSTT) Transcribe(ctx context.Context, audioURL string) (string, error) {
	return s.text, s.err
}

type recordingGateway struct {
	played     []string
	recordings int
	hangups    int
}

func (g *recordingGateway) Dial(ctx context.Context, req telephony.DialRequest) (string, error) {
	return "v3:ctrl", nil
}
func (g *recordingGateway) Answer(ctx context.Context, id string) error { return nil }
func (g *recordingGateway) Play(ctx context.Context, id, url string) error {
	g.played = append(g.played, url)
	return nil
}
func (g *recordingGateway) Record(ctx context.Context, id string, max time.Duration) error {
	g.recordings++
	return nil
}
func (g *recordingGateway) Bridge(ctx context.Context, id, other string) error { return nil }
func (g *recordingGateway) Hangup(ctx context.Context, id string) error {
	g.hangups++
	return nil
}

type convFixture struct {
	orch    *Orchestrator
	store   *MemoryStore
	engine  *scriptedEngine
	tts     *fakeTTS
	stt     *fakeSTT
	gateway *recordingGateway
	call    calls.Call
	pending []func()
}

func newConvFixture(t *testing.T) *convFixture {
	t.Helper()

	repo := campaigns.NewMemoryRepo()
	repo.PutCampaign(campaigns.Campaign{
		ID: "camp-1", OrganizationID: "org-1",
		ScriptContent: "Hi {first_name}, this is Alex calling about {company}.",
		VoicePersona:  "empathetic",
	})
	repo.PutContact(campaigns.Contact{
		ID: "contact-1", OrganizationID: "org-1", CampaignID: "camp-1",
		FirstName: "Sam", Company: "Acme", Phone: "+15550100",
	})

	f := &convFixture{
		store:   NewMemoryStore(),
		engine:  &scriptedEngine{},
		tts:     &fakeTTS{},
		stt:     &fakeSTT{},
		gateway: &recordingGateway{},
		call: calls.Call{
			ID: "call-1", OrganizationID: "org-1", CampaignID: "camp-1",
			ContactID: "contact-1", CallControlID: "v3:ctrl",
		},
	}

	f.orch = NewOrchestrator(Deps{
		Gateway:     f.gateway,
		Engine:      f.engine,
		TTS:         f.tts,
		STT:         f.stt,
		Store:       f.store,
		Campaigns:   repo,
		Contacts:    repo.Contacts(),
		EventLog:    events.NewMemoryLog(),
		Bcast:       nopBroadcaster{},
		Log:         slog.Default(),
		MaxTurns:    3,
		RecordLimit: 10 * time.Second,
		HangupGrace: 3 * time.Second,
		Schedule:    func(d time.Duration, fn func()) { f.pending = append(f.pending, fn) },
	})
	return f
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(string, string, any) {}

func (f *convFixture) state(t *testing.T) State {
	t.Helper()
	st, ok, err := f.store.Get(context.Background(), "call-1")
	if err != nil || !ok {
		t.Fatalf("state missing: ok=%v err=%v", ok, err)
	}
	return st
}

func TestOpen_PersonalizesScriptWhenEngineUnavailable(t *testing.T) {
	f := newConvFixture(t)
	f.engine.err = errors.New("engine down")

	if err := f.orch.Open(context.Background(), f.call); err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := "Hi Sam, this is Alex calling about Acme."
	if len(f.tts.texts) != 1 || f.tts.texts[0] != want {
		t.Fatalf("expected personalized script, got %v", f.tts.texts)
	}
	if len(f.gateway.played) != 1 {
		t.Fatalf("expected one play command, got %d", len(f.gateway.played))
	}

	st := f.state(t)
	if st.TurnNumber != 0 || len(st.History) != 1 || st.History[0].Speaker != SpeakerAI {
		t.Fatalf("unexpected state after open: %+v", st)
	}
	if st.Voice != "en-US-warm-1" {
		t.Fatalf("persona not mapped to voice: %q", st.Voice)
	}
}

func TestHandleRecording_EmptyTranscriptReprompts(t *testing.T) {
	f := newConvFixture(t)
	if err := f.orch.Open(context.Background(), f.call); err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.stt.text = "   "

	if err := f.orch.HandleRecording(context.Background(), f.call, "https://rec/1.wav"); err != nil {
		t.Fatalf("HandleRecording: %v", err)
	}

	st := f.state(t)
	if st.TurnNumber != 0 {
		t.Fatalf("re-prompt must not consume a turn, got %d", st.TurnNumber)
	}
	if len(st.History) != 1 {
		t.Fatalf("re-prompt must not append history, got %d entries", len(st.History))
	}
	if got := f.tts.texts[len(f.tts.texts)-1]; got != repromptLine {
		t.Fatalf("expected re-prompt line, got %q", got)
	}
}

func TestHandleRecording_NormalTurn(t *testing.T) {
	f := newConvFixture(t)
	if err := f.orch.Open(context.Background(), f.call); err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.stt.text = "tell me more"
	f.engine.resp = dialogue.Response{
		Answer:     "Happy to. We help teams like yours.",
		Confidence: 0.9,
		Emotion:    "curious",
	}

	if err := f.orch.HandleRecording(context.Background(), f.call, "https://rec/1.wav"); err != nil {
		t.Fatalf("HandleRecording: %v", err)
	}

	st := f.state(t)
	if st.TurnNumber != 1 {
		t.Fatalf("expected turn 1, got %d", st.TurnNumber)
	}
	if len(st.History) != 3 {
		t.Fatalf("expected greeting + customer + ai, got %d", len(st.History))
	}
	if st.History[1].Speaker != SpeakerCustomer || st.History[1].Text != "tell me more" {
		t.Fatalf("customer turn not recorded: %+v", st.History[1])
	}
	if st.Closing {
		t.Fatal("mid-conversation turn must not close the call")
	}
}

func TestHandleRecording_DNCRequestTerminates(t *testing.T) {
	f := newConvFixture(t)
	if err := f.orch.Open(context.Background(), f.call); err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.stt.text = "take me off your list"
	f.engine.resp = dialogue.Response{
		Answer:           "Understood, we won't call again. Goodbye.",
		SuggestedActions: []string{dialogue.ActionDNCRequest},
	}

	if err := f.orch.HandleRecording(context.Background(), f.call, "https://rec/1.wav"); err != nil {
		t.Fatalf("HandleRecording: %v", err)
	}

	st := f.state(t)
	if !st.Closing || st.Outcome != calls.OutcomeDNCRequest {
		t.Fatalf("expected closing with dnc_request, got %+v", st)
	}

	// The closing line finished playing: hangup is scheduled, not recorded.
	if err := f.orch.HandlePlaybackEnded(context.Background(), f.call); err != nil {
		t.Fatalf("HandlePlaybackEnded: %v", err)
	}
	if f.gateway.recordings != 0 {
		t.Fatal("closing call must not start recording")
	}
	if len(f.pending) != 1 {
		t.Fatalf("expected one scheduled hangup, got %d", len(f.pending))
	}
	f.pending[0]()
	if f.gateway.hangups != 1 {
		t.Fatalf("expected hangup after grace, got %d", f.gateway.hangups)
	}
}

func TestHandlePlaybackEnded_RecordsWithinBudget(t *testing.T) {
	f := newConvFixture(t)
	if err := f.orch.Open(context.Background(), f.call); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := f.orch.HandlePlaybackEnded(context.Background(), f.call); err != nil {
		t.Fatalf("HandlePlaybackEnded: %v", err)
	}
	if f.gateway.recordings != 1 {
		t.Fatalf("expected recording started, got %d", f.gateway.recordings)
	}
}

func TestHandlePlaybackEnded_MaxTurnsTerminates(t *testing.T) {
	f := newConvFixture(t)
	if err := f.orch.Open(context.Background(), f.call); err != nil {
		t.Fatalf("Open: %v", err)
	}

	st := f.state(t)
	st.TurnNumber = st.MaxTurns
	if err := f.store.Put(context.Background(), st); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := f.orch.HandlePlaybackEnded(context.Background(), f.call); err != nil {
		t.Fatalf("HandlePlaybackEnded: %v", err)
	}

	st = f.state(t)
	if !st.Closing {
		t.Fatal("expected closing at max turns")
	}
	if got := f.tts.texts[len(f.tts.texts)-1]; got != closingLine {
		t.Fatalf("expected closing line, got %q", got)
	}
}

func TestHandleRecording_LastIntentRefinesOutcome(t *testing.T) {
	cases := []struct {
		name   string
		intent string
		want   calls.Outcome
	}{
		{"not interested", dialogue.IntentNotInterested, calls.OutcomeNotInterested},
		{"interested", dialogue.IntentInterested, calls.OutcomeInterested},
		{"no intent", "", calls.OutcomeCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newConvFixture(t)
			if err := f.orch.Open(context.Background(), f.call); err != nil {
				t.Fatalf("Open: %v", err)
			}
			f.stt.text = "thanks, goodbye"
			f.engine.resp = dialogue.Response{
				Answer:           "Understood. Have a good day!",
				Intent:           tc.intent,
				IntentConfidence: 0.9,
				SuggestedActions: []string{dialogue.ActionEndCall},
			}

			if err := f.orch.HandleRecording(context.Background(), f.call, "https://rec/1.wav"); err != nil {
				t.Fatalf("HandleRecording: %v", err)
			}

			st := f.state(t)
			if !st.Closing || st.Outcome != tc.want {
				t.Fatalf("expected closing with %s, got %+v", tc.want, st)
			}
		})
	}
}

func TestHandlePlaybackEnded_MaxTurnsKeepsLastIntent(t *testing.T) {
	f := newConvFixture(t)
	if err := f.orch.Open(context.Background(), f.call); err != nil {
		t.Fatalf("Open: %v", err)
	}

	st := f.state(t)
	st.TurnNumber = st.MaxTurns
	st.LastIntent = dialogue.IntentNotInterested
	if err := f.store.Put(context.Background(), st); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := f.orch.HandlePlaybackEnded(context.Background(), f.call); err != nil {
		t.Fatalf("HandlePlaybackEnded: %v", err)
	}
	if st = f.state(t); st.Outcome != calls.OutcomeNotInterested {
		t.Fatalf("expected not_interested at max turns, got %s", st.Outcome)
	}
}

func TestHandleRecording_STTFailureFallsBack(t *testing.T) {
	f := newConvFixture(t)
	if err := f.orch.Open(context.Background(), f.call); err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.stt.err = errors.New("stt down")

	if err := f.orch.HandleRecording(context.Background(), f.call, "https://rec/1.wav"); err != nil {
		t.Fatalf("a downstream outage must not fail the call: %v", err)
	}
	if got := f.tts.texts[len(f.tts.texts)-1]; got != fallbackLine {
		t.Fatalf("expected fallback line, got %q", got)
	}
	if st := f.state(t); st.TurnNumber != 0 {
		t.Fatalf("fallback must not consume a turn, got %d", st.TurnNumber)
	}
}

func TestFinalize_ReturnsSummaryAndClearsState(t *testing.T) {
	f := newConvFixture(t)
	if err := f.orch.Open(context.Background(), f.call); err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.stt.text = "book a demo"
	f.engine.resp = dialogue.Response{
		Answer:           "Great, we'll set that up. Goodbye!",
		SuggestedActions: []string{dialogue.ActionScheduleMeeting},
	}
	if err := f.orch.HandleRecording(context.Background(), f.call, "https://rec/1.wav"); err != nil {
		t.Fatalf("HandleRecording: %v", err)
	}

	sum, err := f.orch.Finalize(context.Background(), f.call)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if sum.Outcome != calls.OutcomeScheduled || sum.Turns != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Transcript == "" {
		t.Fatal("expected assembled transcript")
	}

	if _, ok, _ := f.store.Get(context.Background(), "call-1"); ok {
		t.Fatal("state must be discarded after finalize")
	}

	// A second finalize (redelivered hangup) yields a zero summary.
	sum, err = f.orch.Finalize(context.Background(), f.call)
	if err != nil || sum.Turns != 0 {
		t.Fatalf("expected zero summary on redelivery, got %+v, %v", sum, err)
	}
}
