package servicebus_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
	"github.com/next-trace/scg-allocation/servicebus"
)

// fakes

type testScope struct {
	outbox []cbus.Message
	log    *[]string
}

func newScope() *testScope { return &testScope{log: &[]string{}} }

func (s *testScope) Emit(m ...cbus.Message) { s.outbox = append(s.outbox, m...) }

func (s *testScope) CollectNewMessages() []cbus.Message {
	out := s.outbox
	s.outbox = nil

	return out
}

func (s *testScope) record(v string) { *s.log = append(*s.log, v) }

type testCmd struct {
	cbus.CommandMessage
	ID string
}

func (testCmd) MessageName() string { return "test_cmd" }

type otherCmd struct {
	cbus.CommandMessage
	ID string
}

func (otherCmd) MessageName() string { return "other_cmd" }

type testEvt struct {
	cbus.EventMessage
	ID string
}

func (testEvt) MessageName() string { return "test_evt" }

type tick struct {
	cbus.EventMessage
	N int
}

func (tick) MessageName() string { return "tick" }

// clash shares its name with testCmd but is an event.
type clash struct{ cbus.EventMessage }

func (clash) MessageName() string { return "test_cmd" }

type plain struct{}

func (plain) MessageName() string { return "plain" }

func newBus(t *testing.T, setup func(r *servicebus.Registry[*testScope])) *servicebus.Bus[*testScope] {
	t.Helper()

	r := servicebus.NewRegistry[*testScope]()
	setup(r)

	b, err := servicebus.New(r, nil)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}

	return b
}

func Test_Registry_ConfigurationErrors(t *testing.T) {
	r := servicebus.NewRegistry[*testScope]()
	noop := func(ctx context.Context, c testCmd, s *testScope) error { return nil }

	if err := servicebus.BindCommand(r, "first", noop); err != nil {
		t.Fatalf("bind cmd: %v", err)
	}

	if err := servicebus.BindCommand(r, "second", noop); !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration for duplicate command, got %v", err)
	}

	err := servicebus.BindEvent(r, "clash", func(ctx context.Context, e clash, s *testScope) error { return nil })
	if !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration for kind clash, got %v", err)
	}

	err = r.Register(plain{}, "plain", func(ctx context.Context, m cbus.Message, s *testScope) error { return nil })
	if !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration for untagged message, got %v", err)
	}

	if err := r.Require(testCmd{}, otherCmd{}); err != nil {
		t.Fatalf("require: %v", err)
	}

	if err := r.Seal(); !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration for missing other_cmd handler, got %v", err)
	}

	if r.Sealed() {
		t.Fatalf("registry must stay open after failed validation")
	}

	if _, err := servicebus.New(r, nil); !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want New to surface ErrConfiguration, got %v", err)
	}

	_ = servicebus.BindCommand(r, "other", func(ctx context.Context, c otherCmd, s *testScope) error { return nil })

	if err := r.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}

	err = servicebus.BindEvent(r, "late", func(ctx context.Context, e testEvt, s *testScope) error { return nil })
	if !errors.Is(err, berr.ErrRegistrySealed) {
		t.Fatalf("want ErrRegistrySealed, got %v", err)
	}
}

func Test_Registry_HandlersFor(t *testing.T) {
	r := servicebus.NewRegistry[*testScope]()

	hs, err := r.HandlersFor(testEvt{})
	if err != nil || len(hs) != 0 {
		t.Fatalf("unknown event: hs=%v err=%v", hs, err)
	}

	_, err = r.HandlersFor(testCmd{})
	if !errors.Is(err, berr.ErrConfiguration) || !errors.Is(err, berr.ErrHandlerNotFound) {
		t.Fatalf("want ErrConfiguration+ErrHandlerNotFound, got %v", err)
	}

	for _, name := range []string{"a", "b", ""} {
		_ = servicebus.BindEvent(r, name, func(ctx context.Context, e testEvt, s *testScope) error { return nil })
	}

	hs, err = r.HandlersFor(testEvt{})
	if err != nil {
		t.Fatalf("handlers: %v", err)
	}

	got := fmt.Sprint(hs[0].Name, ",", hs[1].Name, ",", hs[2].Name)
	if got != "a,b,test_evt#2" {
		t.Fatalf("names=%s", got)
	}
}

func Test_Handle_CommandRunsExactlyOnce(t *testing.T) {
	calls := 0
	b := newBus(t, func(r *servicebus.Registry[*testScope]) {
		_ = servicebus.BindCommand(r, "cmd", func(ctx context.Context, c testCmd, s *testScope) error {
			calls++
			s.record(c.ID)

			return nil
		})
	})

	s := newScope()
	if err := b.Handle(testContext(t), testCmd{ID: "c1"}, s); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if calls != 1 || (*s.log)[0] != "c1" {
		t.Fatalf("calls=%d log=%v", calls, *s.log)
	}
}

func Test_Handle_EventHandlersInRegistrationOrder(t *testing.T) {
	b := newBus(t, func(r *servicebus.Registry[*testScope]) {
		for _, name := range []string{"h1", "h2", "h3"} {
			name := name
			_ = servicebus.BindEvent(r, name, func(ctx context.Context, e testEvt, s *testScope) error {
				s.record(name)
				return nil
			})
		}
	})

	s := newScope()
	if err := b.Handle(testContext(t), testEvt{ID: "e"}, s); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := fmt.Sprint(*s.log); got != "[h1 h2 h3]" {
		t.Fatalf("order=%s", got)
	}
}

func Test_Handle_EventWithoutHandlersIsNoop(t *testing.T) {
	b := newBus(t, func(r *servicebus.Registry[*testScope]) {})

	if err := b.Handle(testContext(t), testEvt{}, newScope()); err != nil {
		t.Fatalf("handle: %v", err)
	}
}

func Test_Handle_EventHandlerFailureIsIsolated(t *testing.T) {
	b := newBus(t, func(r *servicebus.Registry[*testScope]) {
		_ = servicebus.BindCommand(r, "cmd", func(ctx context.Context, c testCmd, s *testScope) error {
			s.record("cmd")
			s.Emit(testEvt{ID: "1"}, otherCmd{ID: "2"})

			return nil
		})
		_ = servicebus.BindEvent(r, "fails", func(ctx context.Context, e testEvt, s *testScope) error {
			s.record("fails")
			s.Emit(tick{N: 0}) // dropped with the failure

			return errors.New("boom")
		})
		_ = servicebus.BindEvent(r, "panics", func(ctx context.Context, e testEvt, s *testScope) error {
			s.record("panics")
			panic("kaboom")
		})
		_ = servicebus.BindEvent(r, "after", func(ctx context.Context, e testEvt, s *testScope) error {
			s.record("after")
			return nil
		})
		_ = servicebus.BindEvent(r, "tick", func(ctx context.Context, e tick, s *testScope) error {
			s.record("tick")
			return nil
		})
		_ = servicebus.BindCommand(r, "other", func(ctx context.Context, c otherCmd, s *testScope) error {
			s.record("other")
			return nil
		})
	})

	s := newScope()
	if err := b.Handle(testContext(t), testCmd{}, s); err != nil {
		t.Fatalf("event failures must not surface, got %v", err)
	}

	if got := fmt.Sprint(*s.log); got != "[cmd fails panics after other]" {
		t.Fatalf("log=%s", got)
	}
}

func Test_Handle_CommandErrorPropagates(t *testing.T) {
	cause := errors.New("insufficient stock")

	b := newBus(t, func(r *servicebus.Registry[*testScope]) {
		_ = servicebus.BindCommand(r, "root", func(ctx context.Context, c testCmd, s *testScope) error {
			s.Emit(otherCmd{ID: "child"}, testEvt{ID: "sibling"})
			return nil
		})
		_ = servicebus.BindCommand(r, "child", func(ctx context.Context, c otherCmd, s *testScope) error {
			s.Emit(tick{N: 0})
			return cause
		})
		_ = servicebus.BindEvent(r, "sibling", func(ctx context.Context, e testEvt, s *testScope) error {
			s.record("sibling")
			return nil
		})
		_ = servicebus.BindEvent(r, "tick", func(ctx context.Context, e tick, s *testScope) error {
			s.record("tick")
			return nil
		})
	})

	s := newScope()
	err := b.Handle(testContext(t), testCmd{}, s)

	if !errors.Is(err, berr.ErrCommandHandler) || !errors.Is(err, cause) {
		t.Fatalf("want ErrCommandHandler wrapping cause, got %v", err)
	}

	var herr *servicebus.HandlerError
	if !errors.As(err, &herr) || herr.Message != "other_cmd" || herr.Handler != "child" {
		t.Fatalf("handler error=%+v", herr)
	}

	// already-queued event still runs, the failed command's continuation does not
	if got := fmt.Sprint(*s.log); got != "[sibling]" {
		t.Fatalf("log=%s", got)
	}
}

func Test_Handle_RootCommandFailureIsSynchronous(t *testing.T) {
	b := newBus(t, func(r *servicebus.Registry[*testScope]) {
		_ = servicebus.BindCommand(r, "cmd", func(ctx context.Context, c testCmd, s *testScope) error {
			return errors.New("nope")
		})
	})

	if err := b.Handle(testContext(t), testCmd{}, newScope()); !errors.Is(err, berr.ErrCommandHandler) {
		t.Fatalf("want ErrCommandHandler, got %v", err)
	}
}

func Test_Handle_UnroutableCommand(t *testing.T) {
	b := newBus(t, func(r *servicebus.Registry[*testScope]) {})

	if err := b.Handle(testContext(t), testCmd{}, newScope()); !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration, got %v", err)
	}

	if err := b.Handle(testContext(t), plain{}, newScope()); !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration for untagged message, got %v", err)
	}
}

func Test_Handle_BreadthFirst(t *testing.T) {
	b := newBus(t, func(r *servicebus.Registry[*testScope]) {
		_ = servicebus.BindCommand(r, "cmd", func(ctx context.Context, c testCmd, s *testScope) error {
			s.record("cmd")
			s.Emit(testEvt{ID: "e1"}, testEvt{ID: "e2"})

			return nil
		})
		_ = servicebus.BindEvent(r, "evt", func(ctx context.Context, e testEvt, s *testScope) error {
			s.record(e.ID)
			if e.ID == "e1" {
				s.Emit(tick{N: 0})
			}

			return nil
		})
		_ = servicebus.BindEvent(r, "tick", func(ctx context.Context, e tick, s *testScope) error {
			s.record("tick")
			return nil
		})
	})

	s := newScope()
	if err := b.Handle(testContext(t), testCmd{}, s); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := fmt.Sprint(*s.log); got != "[cmd e1 e2 tick]" {
		t.Fatalf("order=%s", got)
	}
}

func Test_Handle_BoundedCascadeTerminates(t *testing.T) {
	calls := 0
	b := newBus(t, func(r *servicebus.Registry[*testScope]) {
		_ = servicebus.BindEvent(r, "countdown", func(ctx context.Context, e tick, s *testScope) error {
			calls++
			if e.N > 0 {
				s.Emit(tick{N: e.N - 1})
			}

			return nil
		})
	})

	for run := 0; run < 3; run++ {
		calls = 0
		if err := b.Handle(testContext(t), tick{N: 10}, newScope()); err != nil {
			t.Fatalf("handle: %v", err)
		}

		if calls != 11 {
			t.Fatalf("run %d: want 11 calls, got %d", run, calls)
		}
	}
}

func Test_Middleware_OrderAndWrapping(t *testing.T) {
	r := servicebus.NewRegistry[*testScope]()
	_ = servicebus.BindCommand(r, "cmd", func(ctx context.Context, c testCmd, s *testScope) error {
		s.record("handler")
		return nil
	})

	mw := func(name string) servicebus.Middleware[*testScope] {
		return func(next cbus.HandlerFunc[*testScope]) cbus.HandlerFunc[*testScope] {
			return func(ctx context.Context, m cbus.Message, s *testScope) error {
				s.record(name + ":before")
				err := next(ctx, m, s)
				s.record(name + ":after")

				return err
			}
		}
	}

	b, err := servicebus.New(r, nil, servicebus.WithMiddleware(mw("a"), mw("b")))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	s := newScope()
	if err := b.Handle(testContext(t), testCmd{}, s); err != nil {
		t.Fatalf("handle: %v", err)
	}

	want := "[a:before b:before handler b:after a:after]"
	if got := fmt.Sprint(*s.log); got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func Test_Handle_ConcurrentCallsOwnTheirScope(t *testing.T) {
	b := newBus(t, func(r *servicebus.Registry[*testScope]) {
		_ = servicebus.BindCommand(r, "cmd", func(ctx context.Context, c testCmd, s *testScope) error {
			s.Emit(testEvt{ID: c.ID})
			return nil
		})
		_ = servicebus.BindEvent(r, "evt", func(ctx context.Context, e testEvt, s *testScope) error {
			s.record(e.ID)
			return nil
		})
	})

	var wg sync.WaitGroup

	scopes := make([]*testScope, 50)
	for i := range scopes {
		scopes[i] = newScope()
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_ = b.Handle(testContext(t), testCmd{ID: fmt.Sprint(i)}, scopes[i])
		}(i)
	}

	wg.Wait()

	for i, s := range scopes {
		if len(*s.log) != 1 || (*s.log)[0] != fmt.Sprint(i) {
			t.Fatalf("scope %d log=%v", i, *s.log)
		}
	}
}
