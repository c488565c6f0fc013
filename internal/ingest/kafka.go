package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"vishwatch/internal/config"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaTrigger consumes a "calls classified" topic. Every message triggers a
// poll; the payload is only inspected for a call id to log.
type KafkaTrigger struct {
	reader  messageReader
	target  Triggerer
	logger  *slog.Logger
	backoff time.Duration
}

func NewKafkaTrigger(cfg config.KafkaTrigger, target Triggerer, logger *slog.Logger) *KafkaTrigger {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
		MaxWait:  time.Second,
	})
	if logger != nil {
		logger = logger.With("component", "trigger")
		logger.Info("kafka refresh trigger enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	return newKafkaTrigger(reader, target, logger)
}

func newKafkaTrigger(reader messageReader, target Triggerer, logger *slog.Logger) *KafkaTrigger {
	return &KafkaTrigger{reader: reader, target: target, logger: logger}
}

// Run reads until ctx is cancelled. Read errors back off exponentially.
func (k *KafkaTrigger) Run(ctx context.Context) error {
	defer k.reader.Close()
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.backoff = nextBackoff(k.backoff)
			if k.logger != nil {
				k.logger.Warn("kafka read error", "err", err, "retry_in", k.backoff.String())
			}
			if !BackoffSleep(ctx, k.backoff) {
				return nil
			}
			continue
		}
		k.backoff = 0
		if k.logger != nil {
			k.logger.Debug("refresh requested", "call_id", callID(m.Value), "offset", m.Offset)
		}
		k.target.Trigger()
	}
}

func callID(value []byte) string {
	var payload struct {
		ID     string `json:"id"`
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		return ""
	}
	if payload.ID != "" {
		return payload.ID
	}
	return payload.CallID
}
