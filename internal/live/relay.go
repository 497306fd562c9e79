package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const relayExchange = "live.invalidation"

// Relay rebroadcasts invalidation keys across nodes through a RabbitMQ
// fanout exchange. Each node publishes its local write-sets and folds
// remote keys back into its local bus, so a subscription on node A is
// invalidated by a mutation on node B. Lossy delivery here only delays a
// recompute until the next local write; it never corrupts state.
type Relay struct {
	bus     *Bus
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

type relayEnvelope struct {
	Keys []Key `json:"keys"`
}

// NewRelay connects to RabbitMQ and binds a private queue to the fanout
// exchange.
func NewRelay(url string, bus *Bus) (*Relay, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(relayExchange, "fanout", false, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, "", relayExchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	return &Relay{bus: bus, conn: conn, channel: channel, queue: queue.Name}, nil
}

// Publish sends a write-set to peer nodes. Best-effort: failures are logged
// and dropped.
func (r *Relay) Publish(keys ...Key) {
	if len(keys) == 0 {
		return
	}
	body, err := json.Marshal(relayEnvelope{Keys: keys})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.channel.PublishWithContext(ctx, relayExchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		slog.Warn("relay publish failed", "err", err)
	}
}

// Consume folds remote invalidations into the local bus until ctx is done.
func (r *Relay) Consume(ctx context.Context) error {
	deliveries, err := r.channel.Consume(r.queue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			var envelope relayEnvelope
			if err := json.Unmarshal(delivery.Body, &envelope); err != nil {
				slog.Warn("relay decode failed", "err", err)
				continue
			}
			r.bus.Publish(envelope.Keys...)
		}
	}
}

// Close tears down the AMQP connection.
func (r *Relay) Close() error {
	return r.conn.Close()
}
