package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// ExchangeEvents — topic-exchange всех событий ядра.
const ExchangeEvents Exchange = "rpaflow.events"

// Queues — очереди для внешних потребителей.
const (
	// QueueTaskEvents — события жизненного цикла task-ов (task.*).
	QueueTaskEvents Queue = "events.tasks"

	// QueueProxyEvents — переходы здоровья прокси (proxy.*).
	QueueProxyEvents Queue = "events.proxies"
)

// SetupTopology объявляет exchange, очереди и привязки.
// Идемпотентно: повторное объявление существующей топологии безопасно.
func SetupTopology(conn *Connection) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeEvents),
			"topic",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
		}

		bindings := []struct {
			queue   Queue
			pattern string
		}{
			{QueueTaskEvents, "task.*"},
			{QueueProxyEvents, "proxy.*"},
		}

		for _, b := range bindings {
			_, err := ch.QueueDeclare(
				string(b.queue),
				true,  // durable
				false, // delete when unused
				false, // exclusive
				false, // no-wait
				nil,
			)
			if err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}

			err = ch.QueueBind(
				string(b.queue),
				b.pattern,
				string(ExchangeEvents),
				false,
				nil,
			)
			if err != nil {
				return fmt.Errorf("bind queue %s: %w", b.queue, err)
			}
		}

		return nil
	})
}
