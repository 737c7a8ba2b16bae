/*
Package rabbitmq provides a RabbitMQ channel adapter.
Channels map to routing keys on a durable topic exchange; each subscription gets an exclusive,
auto-deleted queue bound to its channels. The connection-backed constructor reconnects with backoff.
*/
package rabbitmq
