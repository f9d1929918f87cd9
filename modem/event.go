package modem

// EventKind identifies the notification an Event reports.
type EventKind int

const (
	EventIncomingCall EventKind = iota
	EventNewMessage
)

func (k EventKind) String() string {
	switch k {
	case EventIncomingCall:
		return "incoming call"
	case EventNewMessage:
		return "new message"
	default:
		return "unknown"
	}
}

// Event is a notification recognized by the default handlers and handed to
// Config.OnEvent.
type Event struct {
	Kind EventKind
	// Line is the notification as received, line ending removed.
	Line string
	// Storage and Index locate a new message (EventNewMessage only).
	Storage string
	Index   int
}

func (m *Modem) emit(ev Event) {
	if m.config.OnEvent != nil {
		m.config.OnEvent(ev)
	}
}
