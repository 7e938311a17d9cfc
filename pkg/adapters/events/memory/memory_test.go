package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aescanero/maestro/pkg/ports"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewInMemoryEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var order []string
	for _, name := range []string{"first", "second"} {
		if err := bus.Subscribe(ctx, ports.TopicJobs, func(_ context.Context, e ports.Event) error {
			order = append(order, name+":"+e.Job)
			return nil
		}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	if err := bus.Publish(ctx, ports.TopicJobs, ports.Event{Type: ports.EventJobStarted, Job: "a"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := bus.Publish(ctx, ports.TopicRuns, ports.Event{Type: ports.EventRunStarted}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(order) != 2 || order[0] != "first:a" || order[1] != "second:a" {
		t.Errorf("unexpected delivery %v", order)
	}
}

func TestPublishJoinsHandlerErrors(t *testing.T) {
	bus := NewInMemoryEventBus()
	ctx := context.Background()
	errA := errors.New("a")
	errB := errors.New("b")

	bus.Subscribe(ctx, "t", func(context.Context, ports.Event) error { return errA })
	bus.Subscribe(ctx, "t", func(context.Context, ports.Event) error { return errB })

	err := bus.Publish(ctx, "t", ports.Event{})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("expected both handler errors, got %v", err)
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := NewInMemoryEventBus()
	ctx, cancel := context.WithCancel(context.Background())

	if err := bus.Subscribe(ctx, "t", func(context.Context, ports.Event) error { return nil }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if bus.Subscribers("t") != 1 {
		t.Fatalf("expected one subscriber")
	}

	cancel()
	deadline := time.Now().Add(5 * time.Second)
	for bus.Subscribers("t") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not removed after cancel")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestUnsubscribeAndClose(t *testing.T) {
	bus := NewInMemoryEventBus()
	ctx := context.Background()
	handler := func(context.Context, ports.Event) error { return nil }

	bus.Subscribe(ctx, "a", handler)
	bus.Subscribe(ctx, "b", handler)

	if err := bus.Unsubscribe(ctx, "a"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if bus.Subscribers("a") != 0 || bus.Subscribers("b") != 1 {
		t.Errorf("unexpected subscribers a=%d b=%d", bus.Subscribers("a"), bus.Subscribers("b"))
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bus.Subscribers("b") != 0 {
		t.Error("expected Close to drop every subscription")
	}
}
