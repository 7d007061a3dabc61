package events_test

import (
	"testing"
	"time"

	"github.com/ubertone/peacock-go/internal/events"
	"github.com/ubertone/peacock-go/internal/models"
)

func TestBusSubscribePublish(t *testing.T) {
	bus := events.NewBus()

	ch := bus.Subscribe("test1")

	bus.Publish(models.Measurement{Seq: 7, Slot: 1})

	select {
	case got := <-ch:
		if got.Measurement.Seq != 7 || got.Measurement.Slot != 1 {
			t.Errorf("got seq %d slot %d, want 7 1", got.Measurement.Seq, got.Measurement.Slot)
		}
		if got.Missed != 0 {
			t.Errorf("missed = %d, want 0", got.Missed)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test-unsub")

	bus.Unsubscribe("test-unsub")

	// Channel should be closed
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}

	// a second unsubscribe is harmless
	bus.Unsubscribe("test-unsub")
}

func TestBusResubscribeClosesPrevious(t *testing.T) {
	bus := events.NewBus()
	first := bus.Subscribe("dup")
	second := bus.Subscribe("dup")

	if _, ok := <-first; ok {
		t.Error("replaced subscription still open")
	}
	bus.Publish(models.Measurement{Seq: 1})
	if got := <-second; got.Measurement.Seq != 1 {
		t.Errorf("seq = %d, want 1", got.Measurement.Seq)
	}
	if n := bus.SubscriberCount(); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
}

func TestBusDropsEventsWhenFull(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("slow-reader")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			bus.Publish(models.Measurement{Seq: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Publish blocked for too long (should drop events)")
	}

	// the oldest measurements are kept
	if got := <-ch; got.Measurement.Seq != 0 {
		t.Errorf("first buffered seq = %d, want 0", got.Measurement.Seq)
	}
	if n, ok := bus.SubscriberDropped("slow-reader"); !ok || n != 12 {
		t.Errorf("SubscriberDropped = %d, %v, want 12, true", n, ok)
	}
	bus.Unsubscribe("slow-reader")
	if n := bus.Dropped(); n != 12 {
		t.Errorf("Dropped = %d, want 12 after unsubscribe", n)
	}
}

func TestBusReportsMissedOnNextDelivery(t *testing.T) {
	bus := events.NewBus()
	slow := bus.Subscribe("slow")
	fast := bus.Subscribe("fast")

	for i := 1; i <= 11; i++ {
		bus.Publish(models.Measurement{Seq: uint64(i)})
		<-fast
	}
	// slow holds seq 1..8 and lost 9..11
	for i := 1; i <= 8; i++ {
		if got := <-slow; got.Missed != 0 || got.Measurement.Seq != uint64(i) {
			t.Fatalf("delivery %d = seq %d missed %d", i, got.Measurement.Seq, got.Missed)
		}
	}
	bus.Publish(models.Measurement{Seq: 12})
	got := <-slow
	if got.Measurement.Seq != 12 || got.Missed != 3 {
		t.Errorf("got seq %d missed %d, want 12 missed 3", got.Measurement.Seq, got.Missed)
	}
	if got := <-fast; got.Missed != 0 {
		t.Errorf("fast subscriber missed %d", got.Missed)
	}

	// the gap is reported once
	bus.Publish(models.Measurement{Seq: 13})
	if got := <-slow; got.Missed != 0 {
		t.Errorf("missed = %d on the following delivery, want 0", got.Missed)
	}
	if n, _ := bus.SubscriberDropped("fast"); n != 0 {
		t.Errorf("fast subscriber dropped %d", n)
	}
	if n := bus.Dropped(); n != 3 {
		t.Errorf("Dropped = %d, want 3", n)
	}
}

func TestBusSubscriberCount(t *testing.T) {
	bus := events.NewBus()
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
	bus.Subscribe("s1")
	bus.Subscribe("s2")
	if n := bus.SubscriberCount(); n != 2 {
		t.Errorf("expected 2 subscribers, got %d", n)
	}
	bus.Unsubscribe("s1")
	if n := bus.SubscriberCount(); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
	if _, ok := bus.SubscriberDropped("s1"); ok {
		t.Error("unsubscribed id still reported")
	}
}
