package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"groupmilestones/pkg/metrics"
	"groupmilestones/pkg/trace"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	channel     *amqp091.Channel
	queue       amqp091.Queue
	routingKey  string
	consumerTag string
	handler     MessageHandler
	deadLetter  *Publisher
	conn        *amqp091.Connection
	logger      *zap.Logger
}

// NewConsumer creates a consumer for a specific routing key.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	// 一次只取一条，避免同一成员的快照在本进程内堆积
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:        conn,
		channel:     ch,
		queue:       q,
		routingKey:  routingKey,
		consumerTag: queueName + ".worker",
		logger:      logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// SetDeadLetter routes permanently failed messages to the DLQ through p.
func (c *Consumer) SetDeadLetter(p *Publisher) {
	c.deadLetter = p
}

// IsConnected reports whether the underlying connection is still open.
func (c *Consumer) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

// Stop cancels the delivery stream; StartConsuming returns once it drains.
func (c *Consumer) Stop() {
	if c.channel != nil {
		if err := c.channel.Cancel(c.consumerTag, false); err != nil {
			c.logger.Warn("Failed to cancel consumer", zap.String("queue", c.queue.Name), zap.Error(err))
		}
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks and should be called in a goroutine.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.consumerTag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for msg := range deliveries {
		c.handle(msg)
	}

	return nil
}

// handle 保证每条消息都会被 ack 或 nack
func (c *Consumer) handle(msg amqp091.Delivery) {
	start := time.Now()
	ctx := context.Background()
	if traceID, ok := msg.Headers[trace.HeaderName].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx, traceID := trace.Ensure(ctx)
	log := c.logger.With(
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.String("trace_id", traceID),
	)

	defer func() {
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, time.Since(start))
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			c.reject(log, msg, fmt.Sprintf("panic: %v", r))
		}
	}()

	log.Debug("Received message", zap.Int("message_size", len(msg.Body)))

	err := c.handler(ctx, msg.Body)
	switch {
	case err == nil:
		if err := msg.Ack(false); err != nil {
			log.Error("Failed to ack message", zap.Error(err))
			return
		}
		log.Debug("Message processed successfully")
	case IsPermanent(err):
		log.Error("Handler failed permanently", zap.Error(err))
		c.reject(log, msg, err.Error())
	default:
		// 业务失败 → 拒绝消息并重新入队，让 MQ 重试
		log.Warn("Handler error, requeueing", zap.Error(err))
		if err := msg.Nack(false, true); err != nil {
			log.Error("Failed to nack message", zap.Error(err))
		}
	}
}

// reject dead-letters msg when a DLQ publisher is configured, otherwise drops it.
func (c *Consumer) reject(log *zap.Logger, msg amqp091.Delivery, reason string) {
	if c.deadLetter != nil {
		if err := c.deadLetter.PublishToDLQ(c.routingKey, msg.Body, reason); err != nil {
			log.Error("Failed to publish to DLQ, requeueing", zap.Error(err))
			if err := msg.Nack(false, true); err != nil {
				log.Error("Failed to nack message", zap.Error(err))
			}
			return
		}
	}
	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack rejected message", zap.Error(err))
	}
}
