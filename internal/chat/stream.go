package chat

import (
	"sync"

	"github.com/docuflow/doc-chat-api/internal/models"
)

// Event is one server-push frame on the chat stream. Exactly one of the
// three shapes is populated: a token fragment, a completion with sources,
// or an opaque error.
type Event struct {
	Token    string          `json:"token,omitempty"`
	Complete bool            `json:"complete,omitempty"`
	Sources  []models.Source `json:"sources,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Sink writes events to the transport. A returned error means the client
// is unreachable and the stream should stop.
type Sink interface {
	Send(event Event) error
}

// State of an event stream. Transitions are Open -> TerminalSent -> Closed;
// Open -> Closed happens when the transport dies before a terminal event.
type State int

const (
	StateOpen State = iota
	StateTerminalSent
	StateClosed
)

// EventStream serializes writes from the orchestration task to one client
// connection. It guarantees at most one terminal event and makes writes
// after close a no-op rather than an error, so racing callbacks cannot
// corrupt the wire protocol.
type EventStream struct {
	mu    sync.Mutex
	state State
	sink  Sink
}

func NewEventStream(sink Sink) *EventStream {
	return &EventStream{sink: sink}
}

// SendToken pushes one generated fragment. Returns the transport error, if
// any, so the producer can abort generation on a dead connection.
func (s *EventStream) SendToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return nil
	}

	return s.sink.Send(Event{Token: token})
}

// Complete emits the terminal success event with the accumulated sources.
func (s *EventStream) Complete(sources []models.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return
	}

	if sources == nil {
		sources = []models.Source{}
	}

	_ = s.sink.Send(Event{Complete: true, Sources: sources})
	s.state = StateTerminalSent
}

// Fail emits the terminal error event. The message must already be safe
// for clients; internal detail never travels here.
func (s *EventStream) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return
	}

	_ = s.sink.Send(Event{Error: message})
	s.state = StateTerminalSent
}

// Close marks the stream finished. Any later write is a no-op.
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

func (s *EventStream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
