package errors

// Error codes for the bus contracts. Keep stable; used across adapters, bridge and bus.
const (
	ErrCodeConfiguration       = "servicebus.configuration"
	ErrCodeRegistrySealed      = "servicebus.registry_sealed"
	ErrCodeHandlerNotFound     = "servicebus.handler_not_found"
	ErrCodeCommandHandler      = "servicebus.command_handler_failed"
	ErrCodeEventHandler        = "servicebus.event_handler_failed"
	ErrCodePublishFailed       = "servicebus.publish_failed"
	ErrCodeSerializationFailed = "servicebus.serialization_failed"
	ErrCodeDeserialization     = "servicebus.deserialization_failed"
	ErrCodeNoMessage           = "servicebus.no_message"
	ErrCodeTransport           = "servicebus.transport_failed"
	ErrCodeSubscribeFailed     = "servicebus.subscribe_failed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	// ErrConfiguration marks a bad handler registration; fatal at startup.
	ErrConfiguration   = Code(ErrCodeConfiguration)
	ErrRegistrySealed  = Code(ErrCodeRegistrySealed)
	ErrHandlerNotFound = Code(ErrCodeHandlerNotFound)
	// ErrCommandHandler is surfaced to the caller of Handle.
	ErrCommandHandler = Code(ErrCodeCommandHandler)
	// ErrEventHandler is logged and never surfaced.
	ErrEventHandler        = Code(ErrCodeEventHandler)
	ErrPublishFailed       = Code(ErrCodePublishFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
	// ErrDeserialization marks a malformed inbound payload; the message is dropped.
	ErrDeserialization = Code(ErrCodeDeserialization)
	// ErrNoMessage is returned by Subscription.NextMessage when the wait timed out.
	ErrNoMessage       = Code(ErrCodeNoMessage)
	ErrTransport       = Code(ErrCodeTransport)
	ErrSubscribeFailed = Code(ErrCodeSubscribeFailed)
)
