package events

import (
	"io"
	"log/slog"
	"testing"
)

func TestBusPublishOrder(t *testing.T) {
	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "first") })
	bus.Subscribe(func(e Event) {
		if ev, ok := e.(CampaignTransitioned); ok {
			got = append(got, ev.To)
		}
	})

	bus.Publish(CampaignTransitioned{CampaignID: "c1", From: "draft", To: "pending_approval"})

	if len(got) != 2 || got[0] != "first" || got[1] != "pending_approval" {
		t.Errorf("unexpected delivery %v", got)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	n := 0
	unsubscribe := bus.Subscribe(func(e Event) { n++ })
	bus.Publish(MessageAttempted{Channel: "email", OK: true})
	unsubscribe()
	bus.Publish(MessageAttempted{Channel: "email", OK: true})

	if n != 1 {
		t.Errorf("expected 1 delivery, got %d", n)
	}
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))

	reached := false
	bus.Subscribe(func(e Event) { panic("boom") })
	bus.Subscribe(func(e Event) { reached = true })

	bus.Publish(SchedulerTicked{})

	if !reached {
		t.Error("handlers after a panicking handler must still run")
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(ReminderRecorded{})
}
