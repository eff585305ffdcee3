package voice

// Event names on the client wire. Every outbound frame is a JSON object
// whose "event" field carries one of these.
const (
	EventConnected          = "connected"
	EventListeningStarted   = "listening_started"
	EventListeningStopped   = "listening_stopped"
	EventChunkReceived      = "chunk_received"
	EventTranscription      = "transcription"
	EventAssistantResponse  = "assistant_response"
	EventAudioReady         = "audio_ready"
	EventProcessingComplete = "processing_complete"
	EventInterrupted        = "interrupted"
	EventPong               = "pong"
	EventError              = "error"
)

// Processing outcome statuses.
const (
	StatusSuccess        = "success"
	StatusError          = "error"
	StatusNoSpeech       = "no_speech"
	StatusTooLittleAudio = "too_little_audio"
	StatusIgnored        = "ignored"
)

// Emitter delivers outbound events to a connected client. Implementations
// must be safe for use from pipeline worker goroutines.
type Emitter interface {
	Emit(event any) error
}

// Connected acknowledges a new session.
type Connected struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
}

// NewConnected builds a connected event.
func NewConnected(sessionID string) Connected {
	return Connected{Event: EventConnected, SessionID: sessionID}
}

// ListeningStarted acknowledges start_listening.
type ListeningStarted struct {
	Event string `json:"event"`
}

// NewListeningStarted builds a listening_started event.
func NewListeningStarted() ListeningStarted {
	return ListeningStarted{Event: EventListeningStarted}
}

// ListeningStopped acknowledges stop_listening.
type ListeningStopped struct {
	Event string `json:"event"`
}

// NewListeningStopped builds a listening_stopped event.
func NewListeningStopped() ListeningStopped {
	return ListeningStopped{Event: EventListeningStopped}
}

// ChunkReceived acknowledges an accepted audio chunk. Count is the
// number of chunks accepted since listening started.
type ChunkReceived struct {
	Event string `json:"event"`
	Count int    `json:"count"`
}

// NewChunkReceived builds a chunk_received event.
func NewChunkReceived(count int) ChunkReceived {
	return ChunkReceived{Event: EventChunkReceived, Count: count}
}

// Transcription carries the recognized user utterance.
type Transcription struct {
	Event string `json:"event"`
	Text  string `json:"text"`
}

// NewTranscription builds a transcription event.
func NewTranscription(text string) Transcription {
	return Transcription{Event: EventTranscription, Text: text}
}

// AssistantResponse carries the assistant reply text. IsInterruption and
// Intent are advisory classification results; clients may use them to
// adjust playback but the server takes no action on them.
type AssistantResponse struct {
	Event          string `json:"event"`
	Text           string `json:"text"`
	IsInterruption bool   `json:"is_interruption"`
	Intent         string `json:"intent,omitempty"`
}

// NewAssistantResponse builds an assistant_response event.
func NewAssistantResponse(text string, isInterruption bool, intent string) AssistantResponse {
	return AssistantResponse{
		Event:          EventAssistantResponse,
		Text:           text,
		IsInterruption: isInterruption,
		Intent:         intent,
	}
}

// AudioReady tells the client where to fetch the synthesized reply.
type AudioReady struct {
	Event    string `json:"event"`
	AudioURL string `json:"audio_url"`
}

// NewAudioReady builds an audio_ready event.
func NewAudioReady(url string) AudioReady {
	return AudioReady{Event: EventAudioReady, AudioURL: url}
}

// ProcessingComplete terminates every pipeline run, success or not.
type ProcessingComplete struct {
	Event  string `json:"event"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewProcessingComplete builds a success completion.
func NewProcessingComplete(status string) ProcessingComplete {
	return ProcessingComplete{Event: EventProcessingComplete, Status: status}
}

// NewProcessingError builds an error completion with a cause.
func NewProcessingError(cause string) ProcessingComplete {
	return ProcessingComplete{Event: EventProcessingComplete, Status: StatusError, Error: cause}
}

// Interrupted acknowledges an interrupt request. The next delivered
// response will carry the interruption flag.
type Interrupted struct {
	Event string `json:"event"`
}

// NewInterrupted builds an interrupted event.
func NewInterrupted() Interrupted {
	return Interrupted{Event: EventInterrupted}
}

// Pong answers a client ping.
type Pong struct {
	Event string `json:"event"`
}

// NewPong builds a pong event.
func NewPong() Pong {
	return Pong{Event: EventPong}
}

// ErrorEvent reports a recoverable protocol-level problem; the
// connection stays open.
type ErrorEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// NewError builds an error event.
func NewError(message string) ErrorEvent {
	return ErrorEvent{Event: EventError, Message: message}
}
