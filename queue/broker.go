package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/urban-engineer/sved/log"
)

// Publisher is the coordinator-side half of the broker adapter:
// publish persistent JSON envelopes to one durable queue.
type Publisher interface {
	Publish(e Envelope) error
}

// Delivery wraps one consumed message with its own ack/nack, so the
// worker agent can hold it open across the whole claim/stage/
// download/run/upload/cleanup sequence and only ack at the very end.
type Delivery struct {
	Envelope Envelope
	raw      amqp.Delivery
}

func (d Delivery) Ack() error {
	return d.raw.Ack(false)
}

// NackDiscard rejects the message without requeueing it; used only for
// the poison queue case (unknown envelope type) where retrying would
// never succeed differently, so requeue=false - the message is dropped
// after being logged.
func (d Delivery) NackDiscard() error {
	return d.raw.Nack(false, false)
}

// Requeue puts the message back on the queue for redelivery, e.g.
// after a transient processing failure the worker wants to abandon
// cleanly rather than crash out of.
func (d Delivery) Requeue() error {
	return d.raw.Nack(false, true)
}

// Broker is a single-connection, single-channel adapter around one
// durable queue. Connection failures are not retried internally;
// callers (main.go) decide whether a broker-unreachable startup
// failure is fatal, per spec §6's exit-code note.
type Broker struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func Dial(amqpURL, queueName string) (*Broker, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", queueName, err)
	}
	return &Broker{conn: conn, ch: ch, queue: queueName}, nil
}

func (b *Broker) Close() error {
	_ = b.ch.Close()
	return b.conn.Close()
}

func (b *Broker) Publish(e Envelope) error {
	body, err := e.Marshal()
	if err != nil {
		return err
	}
	return b.ch.Publish("", b.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume sets prefetch=1 and returns a channel of Deliveries; the
// caller must ack/nack every one. Malformed JSON bodies are logged
// and discarded here (they can never be a valid envelope of any
// type), leaving type-level poison handling to the caller.
func (b *Broker) Consume(consumerTag string) (<-chan Delivery, error) {
	if err := b.ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("setting prefetch: %w", err)
	}
	raw, err := b.ch.Consume(b.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consuming queue %s: %w", b.queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for d := range raw {
			env, err := ParseEnvelope(d.Body)
			if err != nil {
				log.LogNoTaskID("discarding malformed queue message", "err", err, "body", string(d.Body))
				_ = d.Nack(false, false)
				continue
			}
			out <- Delivery{Envelope: env, raw: d}
		}
	}()
	return out, nil
}
