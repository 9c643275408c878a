// Package realtime defines the bidirectional transport contract between a
// camera's voice session and a remote conversational agent.
//
// A SessionHandle multiplexes two flows over one connection: outbound audio
// append/commit events plus response and tool-output requests, and an ordered
// inbound event stream (synthesised audio, response completions, text deltas,
// tool-call requests). The inbound stream is delivered on a single channel so
// consumers process events strictly in arrival order — the voice session
// state machine depends on that ordering to correlate tool calls with their
// outputs.
package realtime

import "context"

// EventType discriminates inbound events from the remote agent.
type EventType string

const (
	// EventAudioDelta carries a chunk of synthesised output audio.
	EventAudioDelta EventType = "audio-delta"

	// EventTextDelta carries a fragment of the spoken response's transcript.
	EventTextDelta EventType = "text-delta"

	// EventResponseDone signals that the agent finished a response turn.
	EventResponseDone EventType = "response-completed"

	// EventToolCall asks the local side to execute a tool and reply with
	// SendToolOutput using the same CallID.
	EventToolCall EventType = "tool-call"

	// EventError reports a non-fatal protocol error from the remote side.
	EventError EventType = "error"
)

// Event is one inbound message from the agent. Only the fields relevant to
// Type are populated.
type Event struct {
	Type EventType

	// Audio holds decoded PCM16 bytes for EventAudioDelta.
	Audio []byte

	// Text holds the transcript fragment for EventTextDelta.
	Text string

	// CallID, Name and Arguments describe an EventToolCall request.
	// Arguments is the raw JSON argument object.
	CallID    string
	Name      string
	Arguments string

	// Err describes an EventError.
	Err error
}

// ToolDefinition declares one callable tool offered to the agent at session
// configuration time.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SessionConfig is sent as the session-configuration message immediately
// after the transport connection opens.
type SessionConfig struct {
	// Voice selects the agent's synthesised voice. Empty uses the provider
	// default.
	Voice string

	// Instructions is the system prompt, typically embedding the camera's
	// identity.
	Instructions string

	// Tools is the fixed camera-scoped tool catalogue.
	Tools []ToolDefinition
}

// SessionHandle is one live conversational connection. All methods are safe
// for concurrent use. The Events channel closes when the connection ends for
// any reason; Err reports the fatal cause, if any.
type SessionHandle interface {
	// AppendAudio forwards a chunk of raw PCM16 input audio.
	AppendAudio(chunk []byte) error

	// CommitInput signals end-of-utterance for the buffered input audio.
	CommitInput() error

	// CreateResponse asks the agent to begin (or continue) speaking.
	CreateResponse() error

	// SendToolOutput returns a tool result correlated by callID and requests
	// the follow-up response.
	SendToolOutput(callID, output string) error

	// Events returns the ordered inbound event stream. Closed on disconnect.
	Events() <-chan Event

	// Err returns the first fatal error that terminated the session, or nil
	// after a clean close.
	Err() error

	// Close terminates the session and releases the connection. Idempotent.
	Close() error
}

// Provider dials new agent sessions.
type Provider interface {
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
