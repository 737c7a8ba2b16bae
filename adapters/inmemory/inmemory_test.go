package inmemory_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-allocation/adapters/inmemory"
	berr "github.com/next-trace/scg-allocation/contract/errors"
)

func TestInmemory_PublishRecordsAndFansOut(t *testing.T) {
	b := inmemory.New()

	s1, err := b.Subscribe(testContext(t), "a", "b")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	s2, err := b.Subscribe(testContext(t), "a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for _, ch := range []string{"a", "b", "c"} {
		if err := b.Publish(testContext(t), ch, []byte(ch)); err != nil {
			t.Fatalf("publish %s: %v", ch, err)
		}
	}

	if n := len(b.Published()); n != 3 {
		t.Fatalf("want 3 recorded, got %d", n)
	}

	for _, want := range []string{"a", "b"} {
		msg, err := s1.NextMessage(testContext(t), time.Second)
		if err != nil {
			t.Fatalf("s1 next: %v", err)
		}

		if msg.Channel != want || string(msg.Payload) != want {
			t.Fatalf("s1 want %s, got %+v", want, msg)
		}
	}

	msg, err := s2.NextMessage(testContext(t), time.Second)
	if err != nil || msg.Channel != "a" {
		t.Fatalf("s2 want a, got %+v %v", msg, err)
	}

	if _, err := s2.NextMessage(testContext(t), 10*time.Millisecond); !errors.Is(err, berr.ErrNoMessage) {
		t.Fatalf("want ErrNoMessage, got %v", err)
	}
}

func TestInmemory_OnlyLaterMessagesDelivered(t *testing.T) {
	b := inmemory.New()
	_ = b.Publish(testContext(t), "a", []byte("early"))

	s, _ := b.Subscribe(testContext(t), "a")
	if _, err := s.NextMessage(testContext(t), 10*time.Millisecond); !errors.Is(err, berr.ErrNoMessage) {
		t.Fatalf("want ErrNoMessage, got %v", err)
	}
}

func TestInmemory_CloseEndsSubscriptions(t *testing.T) {
	b := inmemory.New()

	s, err := b.Subscribe(testContext(t), "a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := b.Subscribe(testContext(t)); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("want ErrSubscribeFailed, got %v", err)
	}

	_ = b.Close()

	if _, err := s.NextMessage(testContext(t), time.Second); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}

	if err := b.Publish(testContext(t), "a", nil); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}

func TestInmemory_ConcurrentSafety(t *testing.T) {
	b := inmemory.New()

	s, err := b.Subscribe(testContext(t), "c")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_ = b.Publish(testContext(t), "c", []byte(fmt.Sprint(i)))
		}(i)
	}

	wg.Wait()

	for i := 0; i < 50; i++ {
		if _, err := s.NextMessage(testContext(t), time.Second); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}

	if n := len(b.Published()); n != 50 {
		t.Fatalf("want 50 recorded, got %d", n)
	}
}
