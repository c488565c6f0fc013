package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"vishwatch/internal/model"
)

type messageSender interface {
	Send(message string, params *stypes.Params) []error
}

// NotifySink pushes raised alerts to chat services through shoutrrr URLs.
// Notifications within the cooldown are suppressed and counted in the next
// message that goes out.
type NotifySink struct {
	sender   messageSender
	throttle *Throttle
}

func NewNotifySink(urls []string, cooldown time.Duration) (*NotifySink, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one notification url is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("notification urls: %w", err)
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return newNotifySink(sender, cooldown), nil
}

func newNotifySink(sender messageSender, cooldown time.Duration) *NotifySink {
	return &NotifySink{sender: sender, throttle: NewThrottle(cooldown)}
}

func (n *NotifySink) Name() string { return "notify" }

func (n *NotifySink) Deliver(_ context.Context, ev model.Event) error {
	if ev.Type != model.EventAlertRaised {
		return nil
	}
	ok, more := n.throttle.Pass(string(ev.Type))
	if !ok {
		return nil
	}

	params := stypes.Params{}
	params.SetTitle("Scam call detected")
	for _, err := range n.sender.Send(notifyMessage(ev, more), &params) {
		if err != nil {
			return err
		}
	}
	return nil
}

func (n *NotifySink) Close() error { return nil }

func notifyMessage(ev model.Event, more int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scam call detected: %s (id %s)", ev.Filename, ev.AlertID)
	if more > 0 {
		fmt.Fprintf(&b, "\n%d more alert(s) raised since the last notification", more)
	}
	return b.String()
}
