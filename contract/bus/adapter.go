package bus

// Channel is the combined contract every external pub/sub adapter satisfies
// (Redis, NATS, RabbitMQ, Kafka, in-memory).
//
// The bridge package depends only on this interface, keeping the bus decoupled from
// concrete transports.
type Channel interface {
	ChannelPublisher
	ChannelSubscriber
	Close() error
}
