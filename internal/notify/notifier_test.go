package notify

import (
	"testing"

	"rttgcs/internal/bus"
	"rttgcs/internal/config"
	"rttgcs/internal/lifecycle"
)

type stubSender struct {
	sent []Payload
}

func (s *stubSender) Send(p Payload) {
	s.sent = append(s.sent, p)
}

func allOn() config.NotificationConfig {
	return config.NotificationConfig{Enabled: true, ScanEvents: true, ConnectionEvents: true}
}

func newTestNotifier(cfg config.NotificationConfig) (*Notifier, *stubSender) {
	sender := &stubSender{}

	return NewNotifier(nil, bus.New(nil), sender, cfg), sender
}

func TestNotifiesOnConnect(t *testing.T) {
	n, sender := newTestNotifier(allOn())

	n.handle(lifecycle.State{Phase: lifecycle.PhaseRadioConfigWaiting, Connected: false})
	n.handle(lifecycle.State{Phase: lifecycle.PhasePingFinderConfigInput, Connected: true})

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1: %v", len(sender.sent), sender.sent)
	}
	if sender.sent[0].Title != "Radio connected" {
		t.Errorf("title = %q", sender.sent[0].Title)
	}
}

func TestNotifiesOnDisconnectWithStatusText(t *testing.T) {
	n, sender := newTestNotifier(allOn())

	n.handle(lifecycle.State{Phase: lifecycle.PhaseStopInput, Connected: true})
	n.handle(lifecycle.State{
		Phase: lifecycle.PhaseRadioConfigInput,
		Status: lifecycle.StatusMessage{
			Text:    "Connection lost",
			Visible: true,
			Kind:    lifecycle.StatusError,
		},
		Connected: false,
	})

	var got []string
	for _, p := range sender.sent {
		got = append(got, p.Title)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("titles = %v, want connect then disconnect", got)
	}
	if sender.sent[1].Title != "Radio disconnected" {
		t.Errorf("title = %q", sender.sent[1].Title)
	}
	if sender.sent[1].Content != "Connection lost" {
		t.Errorf("content = %q", sender.sent[1].Content)
	}
}

func TestScanStartAndStop(t *testing.T) {
	n, sender := newTestNotifier(config.NotificationConfig{Enabled: true, ScanEvents: true})

	n.handle(lifecycle.State{Phase: lifecycle.PhaseStartWaiting, Connected: true})
	n.handle(lifecycle.State{Phase: lifecycle.PhaseStopInput, Connected: true})
	n.handle(lifecycle.State{Phase: lifecycle.PhaseStopWaiting, Connected: true})
	n.handle(lifecycle.State{Phase: lifecycle.PhaseRadioConfigInput, Connected: true})

	if len(sender.sent) != 2 {
		t.Fatalf("sent %d notifications, want 2: %v", len(sender.sent), sender.sent)
	}
	if sender.sent[0].Title != "Scan started" {
		t.Errorf("first = %q", sender.sent[0].Title)
	}
	if sender.sent[1].Title != "Scan stopped" {
		t.Errorf("second = %q", sender.sent[1].Title)
	}
}

func TestDisconnectDuringStopIsNotAScanStop(t *testing.T) {
	n, sender := newTestNotifier(config.NotificationConfig{Enabled: true, ScanEvents: true})

	n.handle(lifecycle.State{Phase: lifecycle.PhaseStopWaiting, Connected: true})
	n.handle(lifecycle.State{Phase: lifecycle.PhaseRadioConfigInput, Connected: false})

	for _, p := range sender.sent {
		if p.Title == "Scan stopped" {
			t.Errorf("scan stop notified on disconnect: %v", sender.sent)
		}
	}
}

func TestFailureStatusNotifies(t *testing.T) {
	n, sender := newTestNotifier(config.NotificationConfig{Enabled: true, ScanEvents: true})

	n.handle(lifecycle.State{Phase: lifecycle.PhaseStartWaiting, Connected: true})
	n.handle(lifecycle.State{
		Phase: lifecycle.PhaseStartInput,
		Status: lifecycle.StatusMessage{
			Text:    "Start rejected: sdr not ready",
			Visible: true,
			Kind:    lifecycle.StatusError,
		},
		Connected: true,
	})

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1: %v", len(sender.sent), sender.sent)
	}
	if sender.sent[0].Title != "Operation failed" {
		t.Errorf("title = %q", sender.sent[0].Title)
	}
}

func TestRepeatedStateIsQuiet(t *testing.T) {
	n, sender := newTestNotifier(allOn())

	st := lifecycle.State{Phase: lifecycle.PhasePingFinderConfigInput, Connected: true}
	n.handle(st)
	n.handle(st)
	n.handle(st)

	if len(sender.sent) != 1 {
		t.Errorf("sent %d notifications, want 1", len(sender.sent))
	}
}
