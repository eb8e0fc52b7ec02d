package calls

import "fmt"

// Event is one stimulus applied to a call's state machine, derived from a
// provider webhook or synthesized internally (place_call, answer_ack,
// reconcile_timeout).
type Event struct {
	Type EventType

	// MachineResult is set on machine detection events.
	MachineResult string

	// HangupCause is the provider hangup cause, used to pick the terminal
	// status for pre-answer hangups.
	HangupCause string

	// RecordingURL is set on recording_saved events.
	RecordingURL string
}

type EventType string

const (
	EventPlaceCall        EventType = "place_call"
	EventInitiated        EventType = "initiated"
	EventAnswered         EventType = "answered"
	EventAnswerAck        EventType = "answer_ack"
	EventMachineDetected  EventType = "machine_detected"
	EventPlaybackEnded    EventType = "playback_ended"
	EventRecordingSaved   EventType = "recording_saved"
	EventHangup           EventType = "hangup"
	EventDialTimeout      EventType = "dial_timeout"
	EventProviderFailure  EventType = "provider_failure"
	EventReconcileTimeout EventType = "reconcile_timeout"
)

const (
	MachineResultHuman = "human"
)

// Command is a side effect the transition asks the processor to execute.
// The transition function itself performs no I/O.
type Command struct {
	Type CommandType

	// RecordingURL accompanies CmdConversationRecording.
	RecordingURL string
}

type CommandType string

const (
	// CmdDial places the outbound call.
	CmdDial CommandType = "dial"

	// CmdAnswer establishes the media path. It must complete before any
	// audio command; the processor feeds answer_ack back in on success.
	CmdAnswer CommandType = "answer"

	// CmdConversationOpen asks the orchestrator for turn 0.
	CmdConversationOpen CommandType = "conversation_open"

	// CmdConversationListen asks the orchestrator to handle playback end
	// (record the caller or terminate on max turns).
	CmdConversationListen CommandType = "conversation_listen"

	// CmdConversationRecording hands a saved recording to the orchestrator.
	CmdConversationRecording CommandType = "conversation_recording"

	// CmdHangup tears the call down.
	CmdHangup CommandType = "hangup"

	// CmdFinalize closes the books: duration, cost, contact release,
	// queue notification.
	CmdFinalize CommandType = "finalize"
)

// Result is the outcome of one transition.
type Result struct {
	Status   Status
	Outcome  Outcome
	Commands []Command

	// NoOp is true when the event's precondition no longer holds, which is
	// how redelivered webhooks are absorbed.
	NoOp bool
}

func noop(current Status) Result { return Result{Status: current, NoOp: true} }

// Transition is the pure state machine: (status, event) to (status,
// commands). It never touches storage or the network, so redelivery and
// ordering properties can be tested exhaustively.
//
// Idempotency rule: an event arriving after the call has already reached or
// passed the event's target state is a no-op, never an error. An event that
// is impossible from the current state (a true ordering violation) returns
// an error so the processor can log it, but the call state is unchanged.
func Transition(current Status, ev Event) (Result, error) {
	if current.Terminal() {
		// Nothing moves a call out of a terminal state.
		return noop(current), nil
	}

	switch ev.Type {
	case EventPlaceCall:
		if current != StatusQueued {
			return noop(current), nil
		}
		return Result{Status: StatusDialing, Commands: []Command{{Type: CmdDial}}}, nil

	case EventInitiated:
		if current != StatusDialing {
			return noop(current), nil
		}
		return Result{Status: StatusRinging}, nil

	case EventAnswered:
		// Providers sometimes skip the initiated event; answered is valid
		// from dialing too.
		if current != StatusDialing && current != StatusRinging {
			return noop(current), nil
		}
		return Result{Status: StatusAnswered, Commands: []Command{{Type: CmdAnswer}}}, nil

	case EventAnswerAck:
		if current != StatusAnswered {
			return noop(current), nil
		}
		return Result{Status: StatusInProgress, Commands: []Command{{Type: CmdConversationOpen}}}, nil

	case EventMachineDetected:
		if ev.MachineResult == MachineResultHuman {
			// Human: the answered flow already handles the call.
			return noop(current), nil
		}
		switch current {
		case StatusRinging, StatusAnswered, StatusInProgress:
			return Result{
				Status:   StatusVoicemail,
				Outcome:  OutcomeVoicemail,
				Commands: []Command{{Type: CmdHangup}, {Type: CmdFinalize}},
			}, nil
		default:
			return noop(current), nil
		}

	case EventPlaybackEnded:
		if current != StatusInProgress {
			return noop(current), nil
		}
		return Result{Status: StatusInProgress, Commands: []Command{{Type: CmdConversationListen}}}, nil

	case EventRecordingSaved:
		if current != StatusInProgress {
			return noop(current), nil
		}
		return Result{
			Status:   StatusInProgress,
			Commands: []Command{{Type: CmdConversationRecording, RecordingURL: ev.RecordingURL}},
		}, nil

	case EventDialTimeout:
		if current != StatusDialing && current != StatusRinging {
			return noop(current), nil
		}
		return Result{
			Status:   StatusNoAnswer,
			Outcome:  OutcomeNoAnswer,
			Commands: []Command{{Type: CmdFinalize}},
		}, nil

	case EventProviderFailure:
		if current != StatusDialing && current != StatusRinging {
			return noop(current), nil
		}
		return Result{
			Status:   StatusFailed,
			Outcome:  OutcomeFailed,
			Commands: []Command{{Type: CmdFinalize}},
		}, nil

	case EventHangup:
		return hangupResult(current, ev), nil

	case EventReconcileTimeout:
		// The sweep only targets non-terminal calls; the terminal guard
		// above already absorbed the rest.
		return Result{
			Status:   StatusFailed,
			Outcome:  OutcomeTimeout,
			Commands: []Command{{Type: CmdFinalize}},
		}, nil

	default:
		return noop(current), fmt.Errorf("calls: unknown event type %q in status %q", ev.Type, current)
	}
}

// preAnswerNoAnswerCauses are hangup causes that mean the far end never
// picked up, as opposed to a provider-side failure.
var preAnswerNoAnswerCauses = map[string]struct{}{
	"timeout":           {},
	"no_answer":         {},
	"originator_cancel": {},
	"user_busy":         {},
	"call_rejected":     {},
}

func hangupResult(current Status, ev Event) Result {
	fin := []Command{{Type: CmdFinalize}}

	switch current {
	case StatusQueued:
		return noop(current)
	case StatusDialing, StatusRinging:
		if _, ok := preAnswerNoAnswerCauses[ev.HangupCause]; ok {
			return Result{Status: StatusNoAnswer, Outcome: OutcomeNoAnswer, Commands: fin}
		}
		return Result{Status: StatusFailed, Outcome: OutcomeFailed, Commands: fin}
	default:
		// Answered or in progress: the conversation ran, the call
		// completed. Finalization may refine the outcome from the last
		// turn.
		return Result{Status: StatusCompleted, Outcome: OutcomeCompleted, Commands: fin}
	}
}
