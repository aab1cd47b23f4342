// Package delivery hands outbound messages (one-time codes, contact form
// submissions) to the notification transport.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	KindOTP     = "otp"
	KindContact = "contact"
)

// Message is the payload published for the email and SMS workers.
type Message struct {
	Kind       string            `json:"kind"`
	Channel    string            `json:"channel"`
	To         string            `json:"to"`
	Purpose    string            `json:"purpose,omitempty"`
	Code       string            `json:"code,omitempty"`
	TTLSeconds int               `json:"ttlSeconds,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body,omitempty"`
	ReplyTo    string            `json:"replyTo,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// RoutingKey is "<kind>.<channel>", e.g. "otp.email".
func (m Message) RoutingKey() string {
	return fmt.Sprintf("%s.%s", m.Kind, m.Channel)
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// AMQPSender publishes messages as JSON on a topic exchange.
type AMQPSender struct {
	lock     sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPSender(url, exchange string) (*AMQPSender, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPSender{conn: conn, ch: ch, exchange: exchange}, nil
}

func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	return s.ch.PublishWithContext(ctx, s.exchange, msg.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.CreatedAt,
		Body:         b,
	})
}

func (s *AMQPSender) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them. It is only
// meant for local development.
type LogSender struct {
	Log *logrus.Entry
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Log.WithFields(logrus.Fields{
		"kind":    msg.Kind,
		"channel": msg.Channel,
		"to":      msg.To,
		"purpose": msg.Purpose,
		"code":    msg.Code,
		"subject": msg.Subject,
	}).Info("delivery transport not configured, logging message")
	return nil
}
