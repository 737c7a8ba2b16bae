package bus

import "context"

// Scope is the per-call transactional context handed to every handler of one dispatch.
// It owns the outbox: messages recorded by domain operations are returned, and forgotten,
// by CollectNewMessages.
//
// A Scope belongs to a single Handle call and must not be shared across goroutines.
type Scope interface {
	CollectNewMessages() []Message
}

// HandlerFunc handles one message within a scope.
type HandlerFunc[S Scope] func(ctx context.Context, m Message, s S) error
