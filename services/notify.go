package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"qrpay/utils"
)

// Routing key for operator alerts. Generate failures block the payer,
// so they go to the operator; transient poll failures never do.
const generateFailedKey = "payment.qr.generate_failed"

// ConsoleNotifier logs operator alerts. It is the default when no
// message broker is configured.
type ConsoleNotifier struct{}

func (ConsoleNotifier) GenerateFailed(ctx context.Context, requestID, message string) {
	utils.Error("notify", "ADMIN ALERT: QR generation failed", "request_id", requestID, "detail", message)
}

// AMQPNotifier publishes operator alerts to a RabbitMQ topic exchange.
type AMQPNotifier struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

type generateFailedAlert struct {
	RequestID string    `json:"request_id"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// NewAMQPNotifier dials the broker and declares the durable topic
// exchange the alerts are published to.
func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, exchange: exchange}, nil
}

func (n *AMQPNotifier) GenerateFailed(ctx context.Context, requestID, message string) {
	body, err := json.Marshal(generateFailedAlert{
		RequestID: requestID,
		Message:   message,
		At:        time.Now(),
	})
	if err != nil {
		utils.Error("notify", "Error marshaling alert", "request_id", requestID, "error", err)
		return
	}

	err = n.ch.PublishWithContext(ctx, n.exchange, generateFailedKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		// Alerting is best effort: the controller already surfaced the
		// failure to the caller.
		utils.Error("notify", "Error publishing alert", "request_id", requestID, "error", err)
		return
	}
	utils.Info("notify", "Admin alert published", "request_id", requestID, "routing_key", generateFailedKey)
}

// Close releases the channel and connection.
func (n *AMQPNotifier) Close() {
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		_ = n.conn.Close()
	}
}
