// Package notify publishes finalized cross-chain messages to NATS
// JetStream, adapted from the indexer's original raw-event publisher.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/blockscout/interchain-indexer/internal/message"
)

const (
	streamName           = "INTERCHAIN_MESSAGES"
	streamSubjectPattern = "INTERCHAIN.*"
	streamCreateTimeout  = 10 * time.Second
	duplicateWindow      = 20 * time.Minute
)

// FinalizedMessage is the wire shape published once per finalized record.
type FinalizedMessage struct {
	MessageID int64                     `json:"message_id"`
	BridgeID  int16                     `json:"bridge_id"`
	Status    string                    `json:"status"`
	Message   message.FinalMessageRow   `json:"message"`
	Transfers []message.FinalTransferRow `json:"transfers"`
}

// Publisher publishes FinalizedMessage events to NATS JetStream with
// deduplication keyed by (bridge_id, message_id).
type Publisher struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	logger zerolog.Logger
	prefix string
}

// NewPublisher connects to natsURL and ensures the finalized-message stream
// exists.
func NewPublisher(natsURL string, persistDuration time.Duration, subjectPrefix string, logger zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("interchain-indexer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamCreateTimeout)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{streamSubjectPattern},
		MaxAge:     persistDuration,
		Storage:    jetstream.FileStorage,
		Duplicates: duplicateWindow,
		Retention:  jetstream.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info().
		Str("stream", streamName).
		Str("subjects", streamSubjectPattern).
		Dur("max_age", persistDuration).
		Msg("notify publisher initialized")

	return &Publisher{js: js, nc: nc, logger: logger, prefix: subjectPrefix}, nil
}

// OnFinalized implements buffer.FinalizedObserver.
func (p *Publisher) OnFinalized(ctx context.Context, key message.Key, record message.ConsolidatedRecord) {
	if err := p.publish(ctx, key, record); err != nil {
		p.logger.Error().Err(err).Interface("key", key).Msg("failed to publish finalized message")
	}
}

func (p *Publisher) publish(ctx context.Context, key message.Key, record message.ConsolidatedRecord) error {
	subject := fmt.Sprintf("%s.%s", p.prefix, record.Message.Status)

	payload := FinalizedMessage{
		MessageID: key.MessageID,
		BridgeID:  key.BridgeID,
		Status:    record.Message.Status,
		Message:   record.Message,
		Transfers: record.Transfers,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal finalized message: %w", err)
	}

	msgID := fmt.Sprintf("%d-%d", key.BridgeID, key.MessageID)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debug().
		Str("subject", subject).
		Int64("message_id", key.MessageID).
		Msg("finalized message published")
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info().Msg("notify publisher closed")
	}
}

// Healthy reports whether the underlying connection is up.
func (p *Publisher) Healthy() bool {
	return p.nc != nil && p.nc.IsConnected()
}
