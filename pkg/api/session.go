package api

// Status is the connection status of a voice session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ConversationState is a snapshot of a voice session. IsListening and
// IsSpeaking are only ever set while Status is StatusConnected.
type ConversationState struct {
	Status      Status `json:"status"`
	IsListening bool   `json:"is_listening"`
	IsSpeaking  bool   `json:"is_speaking"`
	Error       string `json:"error,omitempty"`
}

// Session is the surface a host uses to drive any kind of conversation.
type Session interface {
	// ID returns the unique identifier of the session.
	ID() string
	// Mode returns the name of the mode the session was built for (e.g. "text-chat").
	Mode() string
	// Transcript returns a copy of every entry appended so far, in order.
	Transcript() []TranscriptEntry
	// Destroy tears the session down. It is idempotent.
	Destroy()
}

// SessionObserver receives render updates from a session. Implementations
// must not block; they are called from the session's goroutines.
type SessionObserver interface {
	OnEntry(sessionID string, entry TranscriptEntry)
	OnState(sessionID string, state ConversationState)
	OnCaption(sessionID string, caption string)
	OnProgress(sessionID string, percent int)
}

// ObserverFuncs adapts plain functions to SessionObserver. Nil fields are skipped.
type ObserverFuncs struct {
	Entry    func(sessionID string, entry TranscriptEntry)
	State    func(sessionID string, state ConversationState)
	Caption  func(sessionID string, caption string)
	Progress func(sessionID string, percent int)
}

func (o ObserverFuncs) OnEntry(id string, e TranscriptEntry) {
	if o.Entry != nil {
		o.Entry(id, e)
	}
}

func (o ObserverFuncs) OnState(id string, s ConversationState) {
	if o.State != nil {
		o.State(id, s)
	}
}

func (o ObserverFuncs) OnCaption(id string, c string) {
	if o.Caption != nil {
		o.Caption(id, c)
	}
}

func (o ObserverFuncs) OnProgress(id string, p int) {
	if o.Progress != nil {
		o.Progress(id, p)
	}
}

// MultiObserver fans every update out to all observers in order.
type MultiObserver []SessionObserver

func (m MultiObserver) OnEntry(id string, e TranscriptEntry) {
	for _, o := range m {
		o.OnEntry(id, e)
	}
}

func (m MultiObserver) OnState(id string, s ConversationState) {
	for _, o := range m {
		o.OnState(id, s)
	}
}

func (m MultiObserver) OnCaption(id string, c string) {
	for _, o := range m {
		o.OnCaption(id, c)
	}
}

func (m MultiObserver) OnProgress(id string, p int) {
	for _, o := range m {
		o.OnProgress(id, p)
	}
}
