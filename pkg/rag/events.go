package rag

// Event is one item of the streaming surface. Concrete types marshal
// to the wire JSON shapes; order within a stream is fixed:
// phase(searching), sources, phase(generating), token*, done. An error
// event terminates the stream with no done following it.
type Event interface {
	eventType() string
}

// PhaseEvent marks a pipeline phase transition.
type PhaseEvent struct {
	Type  string `json:"type"`
	Phase string `json:"phase"`
}

func (PhaseEvent) eventType() string { return "phase" }

// SourcesEvent carries the deduplicated source list, exactly once per
// stream, before any token.
type SourcesEvent struct {
	Type    string   `json:"type"`
	Sources []Source `json:"sources"`
}

func (SourcesEvent) eventType() string { return "sources" }

// TokenEvent carries one generated text fragment.
type TokenEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (TokenEvent) eventType() string { return "token" }

// DoneEvent terminates a successful stream.
type DoneEvent struct {
	Type             string `json:"type"`
	MessageID        string `json:"message_id"`
	WasGrounded      bool   `json:"was_grounded"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

func (DoneEvent) eventType() string { return "done" }

// ErrorEvent terminates a failed stream.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (ErrorEvent) eventType() string { return "error" }

func phaseEvent(phase string) PhaseEvent {
	return PhaseEvent{Type: "phase", Phase: phase}
}

func sourcesEvent(sources []Source) SourcesEvent {
	if sources == nil {
		sources = []Source{}
	}
	return SourcesEvent{Type: "sources", Sources: sources}
}

func tokenEvent(content string) TokenEvent {
	return TokenEvent{Type: "token", Content: content}
}

func doneEvent(messageID string, wasGrounded bool, elapsedMs int64) DoneEvent {
	return DoneEvent{
		Type:             "done",
		MessageID:        messageID,
		WasGrounded:      wasGrounded,
		ProcessingTimeMs: elapsedMs,
	}
}

func errorEvent(message, code string) ErrorEvent {
	return ErrorEvent{Type: "error", Message: message, Code: code}
}
