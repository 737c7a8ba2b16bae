package bus

import "context"

// Dispatcher is the contract consumers depend on to hand a root message to the bus.
// The concrete implementation lives in the servicebus package.
type Dispatcher[S Scope] interface {
	Handle(ctx context.Context, m Message, s S) error
}

// DispatchFunc dispatches a single command with a freshly created scope.
// Entry points (HTTP, channel listeners) receive one of these instead of the bus itself
// so that scope construction stays with the composition root.
type DispatchFunc func(ctx context.Context, cmd Command) error
