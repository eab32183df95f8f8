package bus

import (
	"fmt"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(10)
	sub := b.Subscribe("dev-1")
	defer sub.Close()

	b.Publish("dev-1", Event{Kind: KindMessageReceived, ID: "m1", Timestamp: time.Now()})

	select {
	case evt := <-sub.C:
		if evt.Kind != KindMessageReceived || evt.ID != "m1" {
			t.Errorf("got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestChannelIsolation(t *testing.T) {
	b := New(10)
	sub := b.Subscribe("dev-1")
	defer sub.Close()

	b.Publish("dev-2", Event{Kind: KindMessageReceived, ID: "m1"})

	select {
	case evt := <-sub.C:
		t.Errorf("received event for another device: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: channels are scoped per device.
	}
}

func TestClose(t *testing.T) {
	b := New(10)
	sub := b.Subscribe("dev-1")
	sub.Close()
	sub.Close() // idempotent

	if n := b.Subscribers("dev-1"); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}

	b.Publish("dev-1", Event{Kind: KindMessageReceived, ID: "m1"})
	select {
	case evt := <-sub.C:
		t.Errorf("received event after close: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOldestOnFullBuffer(t *testing.T) {
	b := New(2)
	sub := b.Subscribe("dev-1")
	defer sub.Close()

	for i := 1; i <= 4; i++ {
		b.Publish("dev-1", Event{Kind: KindMessageReceived, ID: fmt.Sprintf("m%d", i)})
	}

	// Buffer holds the two newest events; the oldest were dropped.
	first := <-sub.C
	second := <-sub.C
	if first.ID != "m3" || second.ID != "m4" {
		t.Errorf("got %s, %s, want m3, m4", first.ID, second.ID)
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New(1)
	slow := b.Subscribe("dev-1")
	defer slow.Close()
	fast := b.Subscribe("dev-1")
	defer fast.Close()

	done := make(chan struct{})
	go func() {
		// Far more events than the slow subscriber's buffer.
		for i := 0; i < 100; i++ {
			b.Publish("dev-1", Event{Kind: KindMessageReceived, ID: fmt.Sprintf("m%d", i)})
		}
		close(done)
	}()

	select {
	case <-done:
		// Publisher never blocked.
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked by a slow subscriber")
	}

	// The fast subscriber can still drain events.
	drained := 0
	for {
		select {
		case <-fast.C:
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 {
		t.Error("fast subscriber received nothing")
	}
}

func TestConcurrentPublishers(t *testing.T) {
	b := New(256)
	sub := b.Subscribe("dev-1")
	defer sub.Close()

	const publishers = 8
	const perPublisher = 16
	done := make(chan struct{}, publishers)
	for p := 0; p < publishers; p++ {
		go func(p int) {
			for i := 0; i < perPublisher; i++ {
				b.Publish("dev-1", Event{Kind: KindMessageReceived, ID: fmt.Sprintf("p%d-m%d", p, i)})
			}
			done <- struct{}{}
		}(p)
	}
	for p := 0; p < publishers; p++ {
		<-done
	}

	got := 0
	for {
		select {
		case <-sub.C:
			got++
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	if got != publishers*perPublisher {
		t.Errorf("received %d events, want %d", got, publishers*perPublisher)
	}
}
