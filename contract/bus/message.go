package bus

// Kind discriminates the two message variants.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCommand
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Message is the common shape of commands and events.
// MessageName is stable and human readable; it keys the handler registry
// and names the external channel an event is published on.
type Message interface {
	MessageName() string
}

// Command is an intent to change state. A command has exactly one handler.
// Implement it by embedding CommandMessage.
type Command interface {
	Message
	isCommand()
}

// Event is a fact that already happened. An event has zero or more handlers.
// Implement it by embedding EventMessage.
type Event interface {
	Message
	isEvent()
}

// CommandMessage marks the embedding struct as a Command.
type CommandMessage struct{}

func (CommandMessage) isCommand() {}

// EventMessage marks the embedding struct as an Event.
type EventMessage struct{}

func (EventMessage) isEvent() {}

// KindOf reports which variant m is.
func KindOf(m Message) Kind {
	switch m.(type) {
	case Command:
		return KindCommand
	case Event:
		return KindEvent
	default:
		return KindUnknown
	}
}
