package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

const (
	rabbitMaxRetries = 10
	rabbitRetryDelay = 3 * time.Second
)

var ErrNoConnection = errors.New("rabbitmq connection not initialized")

// DialRabbitMQ connects to the broker, retrying while it starts up.
func DialRabbitMQ(ctx context.Context, s RabbitMQSettings) (*amqp.Connection, error) {
	var err error
	for i := 0; i < rabbitMaxRetries; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(s.URL())
		if err == nil {
			log.WithField("host", s.Host).Info("connected to rabbitmq")
			return conn, nil
		}
		if i == rabbitMaxRetries-1 {
			break
		}
		log.WithFields(log.Fields{
			"attempt": i + 1,
			"max":     rabbitMaxRetries,
			"retry":   rabbitRetryDelay,
		}).WithError(err).Warn("failed to connect to rabbitmq")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(rabbitRetryDelay):
		}
	}
	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", rabbitMaxRetries, err)
}

// DeleteQueue deletes a queue by name.
func DeleteQueue(conn *amqp.Connection, queueName string) error {
	if conn == nil {
		return ErrNoConnection
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	n, err := ch.QueueDelete(queueName, false, false, false)
	if err != nil {
		return fmt.Errorf("delete queue %s: %w", queueName, err)
	}
	log.WithFields(log.Fields{"queue": queueName, "messages": n}).Info("queue deleted")
	return nil
}

// PurgeQueue drops every pending message in a queue.
func PurgeQueue(conn *amqp.Connection, queueName string) error {
	if conn == nil {
		return ErrNoConnection
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	n, err := ch.QueuePurge(queueName, false)
	if err != nil {
		return fmt.Errorf("purge queue %s: %w", queueName, err)
	}
	log.WithFields(log.Fields{"queue": queueName, "messages": n}).Info("queue purged")
	return nil
}
