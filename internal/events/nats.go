package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"vishwatch/internal/model"
)

// NATSSink publishes events on <prefix>.<event type>, e.g. vishwatch.alert.raised.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSSink(url, prefix string, logger *slog.Logger) (*NATSSink, error) {
	if prefix == "" {
		prefix = "vishwatch"
	}
	nc, err := nats.Connect(url,
		nats.Name("vishwatch"),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && logger != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if logger != nil {
				logger.Info("nats reconnected")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSSink{nc: nc, prefix: prefix}, nil
}

func (n *NATSSink) Name() string { return "nats" }

func (n *NATSSink) Subject(t model.EventType) string {
	return n.prefix + "." + string(t)
}

func (n *NATSSink) Deliver(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := n.nc.Publish(n.Subject(ev.Type), data); err != nil {
		return err
	}
	return n.nc.FlushWithContext(ctx)
}

func (n *NATSSink) Close() error {
	if n.nc == nil {
		return nil
	}
	n.nc.Close()
	return nil
}
