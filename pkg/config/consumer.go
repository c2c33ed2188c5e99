package config

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// ErrRejectMessage marks a message the handler can never process. It is
// dropped instead of requeued.
var ErrRejectMessage = errors.New("message rejected")

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

type Consumer struct {
	channel  *amqp.Channel
	queue    string
	prefetch int
}

func NewConsumer(conn *amqp.Connection, queueName string, prefetch int) (*Consumer, error) {
	if conn == nil {
		return nil, ErrNoConnection
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	q, err := declareQueue(ch, queueName)
	if err != nil {
		ch.Close()
		return nil, err
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, err
	}
	return &Consumer{channel: ch, queue: q.Name, prefetch: prefetch}, nil
}

// Consume runs handler for each delivery until ctx is cancelled or the
// channel closes.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	msgs, err := c.channel.ConsumeWithContext(ctx,
		c.queue,
		"",    // consumer
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return err
	}
	log.WithField("queue", c.queue).Info("consumer is running")
	return HandleDeliveries(ctx, msgs, handler)
}

// HandleDeliveries acks messages the handler accepts. A failed message is
// requeued once; a redelivered failure or ErrRejectMessage drops it.
func HandleDeliveries(ctx context.Context, msgs <-chan amqp.Delivery, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			err := handler(ctx, msg.Body)
			if err == nil {
				if ackErr := msg.Ack(false); ackErr != nil {
					log.WithError(ackErr).Warn("ack failed")
				}
				continue
			}
			requeue := !msg.Redelivered && !errors.Is(err, ErrRejectMessage)
			log.WithFields(log.Fields{
				"delivery_tag": msg.DeliveryTag,
				"requeue":      requeue,
			}).WithError(err).Error("handle message failed")
			if nackErr := msg.Nack(false, requeue); nackErr != nil {
				log.WithError(nackErr).Warn("nack failed")
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}
