package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/rpaflow/internal/domain"
)

// Publisher публикует события ядра в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — конверт события.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Kind — тип события (совпадает с routing key).
	Kind string `json:"kind"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// TaskEventPayload — payload событий жизненного цикла task.
type TaskEventPayload struct {
	TaskID       uuid.UUID         `json:"task_id"`
	Name         string            `json:"name"`
	TargetURL    string            `json:"target_url"`
	Status       domain.TaskStatus `json:"status"`
	RetryCount   int               `json:"retry_count"`
	WorkerID     string            `json:"worker_id,omitempty"`
	ItemsScraped int               `json:"items_scraped,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// ProxyEventPayload — payload переходов здоровья прокси.
type ProxyEventPayload struct {
	Proxy     string `json:"proxy"`
	IsHealthy bool   `json:"is_healthy"`
}

// publish сериализует и отправляет событие в exchange событий.
func (p *Publisher) publish(ctx context.Context, routingKey string, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(ExchangeEvents),
			routingKey,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish %s: %w", routingKey, err)
		}

		p.logger.Debug("published event",
			"routing_key", routingKey,
			"message_id", msg.ID,
		)
		return nil
	})
}

// TaskEvent публикует событие жизненного цикла task.
//
// Реализует worker.EventSink: fire-and-forget, ошибка публикации
// логируется и не возвращается вызывающему.
func (p *Publisher) TaskEvent(ctx context.Context, kind string, task domain.Task) {
	msg := &Message{
		ID:   uuid.New().String(),
		Kind: kind,
		Payload: TaskEventPayload{
			TaskID:       task.ID,
			Name:         task.Name,
			TargetURL:    task.TargetURL,
			Status:       task.Status,
			RetryCount:   task.RetryCount,
			WorkerID:     task.WorkerID,
			ItemsScraped: task.ItemsScraped,
			Error:        task.ErrorMessage,
		},
		Timestamp: time.Now(),
	}

	if err := p.publish(ctx, kind, msg); err != nil {
		p.logger.Error("task event publish failed",
			"task_id", task.ID, "kind", kind, "error", err)
	}
}

// ProxyEvent публикует переход здоровья прокси.
func (p *Publisher) ProxyEvent(ctx context.Context, px domain.Proxy) {
	kind := "proxy.unhealthy"
	if px.IsHealthy {
		kind = "proxy.healthy"
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   ProxyEventPayload{Proxy: px.Key(), IsHealthy: px.IsHealthy},
		Timestamp: time.Now(),
	}

	if err := p.publish(ctx, kind, msg); err != nil {
		p.logger.Error("proxy event publish failed",
			"proxy", px.Key(), "error", err)
	}
}
