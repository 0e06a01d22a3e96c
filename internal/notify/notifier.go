// Package notify raises desktop notifications for connection changes and
// scan outcomes so the operator notices them away from the screen.
package notify

import (
	"context"
	"log/slog"

	"github.com/gen2brain/beeep"

	"rttgcs/internal/bus"
	"rttgcs/internal/config"
	"rttgcs/internal/lifecycle"
)

// Payload is a generic user-facing notification payload.
type Payload struct {
	Title   string
	Content string
}

// Sender sends notifications using a platform-specific backend.
type Sender interface {
	Send(payload Payload)
}

// BeeepSender delivers notifications through the OS notification daemon.
type BeeepSender struct {
	logger *slog.Logger
}

func NewBeeepSender(logger *slog.Logger) *BeeepSender {
	return &BeeepSender{logger: logger}
}

func (s *BeeepSender) Send(payload Payload) {
	if err := beeep.Notify(payload.Title, payload.Content, ""); err != nil && s.logger != nil {
		s.logger.Warn("desktop notification failed", "error", err)
	}
}

// Notifier watches lifecycle state transitions and notifies on the ones an
// operator cares about: connection established or lost, scan started or
// stopped, and stage failures.
type Notifier struct {
	logger *slog.Logger
	bus    bus.MessageBus
	sender Sender
	cfg    config.NotificationConfig

	lastPhase     lifecycle.Phase
	lastConnected bool
	seenAny       bool
}

func NewNotifier(logger *slog.Logger, messageBus bus.MessageBus, sender Sender, cfg config.NotificationConfig) *Notifier {
	if logger == nil {
		logger = slog.Default().With("component", "notify")
	}

	return &Notifier{
		logger: logger,
		bus:    messageBus,
		sender: sender,
		cfg:    cfg,
	}
}

// Run consumes state snapshots until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	if !n.cfg.Enabled {
		return
	}

	sub := n.bus.Subscribe(lifecycle.TopicState)
	defer n.bus.Unsubscribe(sub, lifecycle.TopicState)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			if st, ok := msg.(lifecycle.State); ok {
				n.handle(st)
			}
		}
	}
}

func (n *Notifier) handle(st lifecycle.State) {
	defer func() {
		n.lastPhase = st.Phase
		n.lastConnected = st.Connected
		n.seenAny = true
	}()

	if n.seenAny && st.Phase == n.lastPhase && st.Connected == n.lastConnected {
		return
	}

	if n.cfg.ConnectionEvents && (!n.seenAny || st.Connected != n.lastConnected) {
		if st.Connected {
			n.send("Radio connected", "Communication with the drone payload is up.")
		} else if n.seenAny && n.lastConnected {
			content := "Communication with the drone payload was lost."
			if st.Status.Visible && st.Status.Text != "" {
				content = st.Status.Text
			}
			n.send("Radio disconnected", content)
		}
	}

	if !n.cfg.ScanEvents || !n.seenAny || st.Phase == n.lastPhase {
		return
	}

	switch {
	case st.Phase == lifecycle.PhaseStopInput && n.lastPhase.Stage() == lifecycle.StageStart:
		n.send("Scan started", "The ping finder is now running.")
	// Disconnects also land on the first phase; only a still-connected
	// session got there through a successful stop.
	case st.Connected && st.Phase == lifecycle.PhaseRadioConfigInput && n.lastPhase.Stage() == lifecycle.StageStop:
		n.send("Scan stopped", "The ping finder has stopped.")
	// Disconnect failures are already covered by the connection notification.
	case st.Status.Visible && st.Status.Kind == lifecycle.StatusError && st.Connected == n.lastConnected:
		n.send("Operation failed", st.Status.Text)
	}
}

func (n *Notifier) send(title, content string) {
	n.logger.Debug("notification", "title", title)
	n.sender.Send(Payload{Title: title, Content: content})
}
