package calls

import "testing"

func mustTransition(t *testing.T, current Status, ev Event) Result {
	t.Helper()
	res, err := Transition(current, ev)
	if err != nil {
		t.Fatalf("Transition(%s, %s): %v", current, ev.Type, err)
	}
	return res
}

func commandTypes(res Result) []CommandType {
	out := make([]CommandType, len(res.Commands))
	for i, c := range res.Commands {
		out[i] = c.Type
	}
	return out
}

func TestTransition_HappyPath(t *testing.T) {
	steps := []struct {
		from Status
		ev   Event
		want Status
		cmds []CommandType
	}{
		{StatusQueued, Event{Type: EventPlaceCall}, StatusDialing, []CommandType{CmdDial}},
		{StatusDialing, Event{Type: EventInitiated}, StatusRinging, nil},
		{StatusRinging, Event{Type: EventAnswered}, StatusAnswered, []CommandType{CmdAnswer}},
		{StatusAnswered, Event{Type: EventAnswerAck}, StatusInProgress, []CommandType{CmdConversationOpen}},
		{StatusInProgress, Event{Type: EventPlaybackEnded}, StatusInProgress, []CommandType{CmdConversationListen}},
		{StatusInProgress, Event{Type: EventRecordingSaved, RecordingURL: "https://r/1.wav"}, StatusInProgress, []CommandType{CmdConversationRecording}},
		{StatusInProgress, Event{Type: EventHangup, HangupCause: "normal_clearing"}, StatusCompleted, []CommandType{CmdFinalize}},
	}

	for _, s := range steps {
		res := mustTransition(t, s.from, s.ev)
		if res.NoOp {
			t.Fatalf("%s + %s: unexpected no-op", s.from, s.ev.Type)
		}
		if res.Status != s.want {
			t.Fatalf("%s + %s: got status %s, want %s", s.from, s.ev.Type, res.Status, s.want)
		}
		got := commandTypes(res)
		if len(got) != len(s.cmds) {
			t.Fatalf("%s + %s: got commands %v, want %v", s.from, s.ev.Type, got, s.cmds)
		}
		for i := range got {
			if got[i] != s.cmds[i] {
				t.Fatalf("%s + %s: got commands %v, want %v", s.from, s.ev.Type, got, s.cmds)
			}
		}
	}
}

func TestTransition_AnswerBeforeAudio(t *testing.T) {
	res := mustTransition(t, StatusRinging, Event{Type: EventAnswered})
	if len(res.Commands) != 1 || res.Commands[0].Type != CmdAnswer {
		t.Fatalf("answered must emit only the answer command, got %v", commandTypes(res))
	}

	// Audio work starts only after the answer command is acknowledged.
	res = mustTransition(t, res.Status, Event{Type: EventAnswerAck})
	if res.Status != StatusInProgress || res.Commands[0].Type != CmdConversationOpen {
		t.Fatalf("answer_ack should open the conversation, got %s %v", res.Status, commandTypes(res))
	}
}

func TestTransition_RedeliveryIsNoOp(t *testing.T) {
	cases := []struct {
		current Status
		ev      Event
	}{
		{StatusRinging, Event{Type: EventInitiated}},
		{StatusInProgress, Event{Type: EventAnswered}},
		{StatusInProgress, Event{Type: EventAnswerAck}},
		{StatusCompleted, Event{Type: EventHangup, HangupCause: "normal_clearing"}},
		{StatusCompleted, Event{Type: EventRecordingSaved}},
		{StatusNoAnswer, Event{Type: EventDialTimeout}},
		{StatusVoicemail, Event{Type: EventMachineDetected, MachineResult: "machine"}},
	}

	for _, c := range cases {
		res := mustTransition(t, c.current, c.ev)
		if !res.NoOp {
			t.Fatalf("%s + %s: expected no-op, got status %s commands %v",
				c.current, c.ev.Type, res.Status, commandTypes(res))
		}
		if res.Status != c.current {
			t.Fatalf("%s + %s: no-op must not move status, got %s", c.current, c.ev.Type, res.Status)
		}
		if len(res.Commands) != 0 {
			t.Fatalf("%s + %s: no-op must not emit commands", c.current, c.ev.Type)
		}
	}
}

func TestTransition_StatusNeverRegresses(t *testing.T) {
	statuses := []Status{
		StatusQueued, StatusDialing, StatusRinging, StatusAnswered, StatusInProgress,
		StatusCompleted, StatusFailed, StatusNoAnswer, StatusVoicemail,
	}
	events := []Event{
		{Type: EventPlaceCall},
		{Type: EventInitiated},
		{Type: EventAnswered},
		{Type: EventAnswerAck},
		{Type: EventMachineDetected, MachineResult: "machine"},
		{Type: EventMachineDetected, MachineResult: MachineResultHuman},
		{Type: EventPlaybackEnded},
		{Type: EventRecordingSaved},
		{Type: EventHangup, HangupCause: "timeout"},
		{Type: EventHangup, HangupCause: "normal_clearing"},
		{Type: EventDialTimeout},
		{Type: EventProviderFailure},
		{Type: EventReconcileTimeout},
	}

	for _, s := range statuses {
		for _, ev := range events {
			res, err := Transition(s, ev)
			if err != nil {
				continue
			}
			if res.Status.rank() < s.rank() {
				t.Fatalf("%s + %s regressed to %s", s, ev.Type, res.Status)
			}
			if s.Terminal() && !res.NoOp {
				t.Fatalf("%s + %s moved a terminal call", s, ev.Type)
			}
		}
	}
}

func TestTransition_MachineDetection(t *testing.T) {
	res := mustTransition(t, StatusAnswered, Event{Type: EventMachineDetected, MachineResult: "machine"})
	if res.Status != StatusVoicemail || res.Outcome != OutcomeVoicemail {
		t.Fatalf("machine detection should end as voicemail, got %s/%s", res.Status, res.Outcome)
	}
	got := commandTypes(res)
	if len(got) != 2 || got[0] != CmdHangup || got[1] != CmdFinalize {
		t.Fatalf("expected hangup then finalize, got %v", got)
	}

	res = mustTransition(t, StatusAnswered, Event{Type: EventMachineDetected, MachineResult: MachineResultHuman})
	if !res.NoOp {
		t.Fatalf("human detection should be a no-op, got %s", res.Status)
	}
}

func TestTransition_PreAnswerHangupCauses(t *testing.T) {
	cases := []struct {
		cause string
		want  Status
	}{
		{"timeout", StatusNoAnswer},
		{"no_answer", StatusNoAnswer},
		{"user_busy", StatusNoAnswer},
		{"call_rejected", StatusNoAnswer},
		{"unspecified", StatusFailed},
	}
	for _, c := range cases {
		res := mustTransition(t, StatusRinging, Event{Type: EventHangup, HangupCause: c.cause})
		if res.Status != c.want {
			t.Fatalf("hangup cause %q: got %s, want %s", c.cause, res.Status, c.want)
		}
	}
}

func TestTransition_ReconcileTimeout(t *testing.T) {
	res := mustTransition(t, StatusInProgress, Event{Type: EventReconcileTimeout})
	if res.Status != StatusFailed || res.Outcome != OutcomeTimeout {
		t.Fatalf("expected failed/timeout, got %s/%s", res.Status, res.Outcome)
	}

	res = mustTransition(t, StatusCompleted, Event{Type: EventReconcileTimeout})
	if !res.NoOp {
		t.Fatal("reconcile on terminal call must be a no-op")
	}
}
