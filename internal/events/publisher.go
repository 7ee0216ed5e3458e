// Package events publishes appointment lifecycle messages to RabbitMQ so
// that chat and video collaborators can react to confirmations.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hackgods/lawyer-scheduling/internal/appointment"
)

const ConfirmedQueueName = "appointment_confirmed"

var ErrNotConfirmed = errors.New("message not confirmed by broker")

// ConfirmedMessage is the payload stored in RabbitMQ for each confirmation.
type ConfirmedMessage struct {
	AppointmentID string    `json:"appointment_id"`
	LawyerID      string    `json:"lawyer_id"`
	ClientID      string    `json:"client_id"`
	LawyerName    string    `json:"lawyer_name,omitempty"`
	ClientName    string    `json:"client_name,omitempty"`
	Type          string    `json:"type"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	ChatChannelID string    `json:"chat_channel_id"`
	VideoRoom     bool      `json:"video_room"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// ChatChannelID is the channel shared by a lawyer and a client across all
// of their appointments.
func ChatChannelID(lawyerID, clientID string) string {
	return "lawyer-" + lawyerID + "-client-" + clientID
}

func NewConfirmedMessage(a appointment.Appointment) ConfirmedMessage {
	return ConfirmedMessage{
		AppointmentID: a.ID.String(),
		LawyerID:      a.LawyerID,
		ClientID:      a.ClientID,
		LawyerName:    a.LawyerName,
		ClientName:    a.ClientName,
		Type:          string(a.Type),
		StartsAt:      a.Date.UTC(),
		EndsAt:        a.End().UTC(),
		ChatChannelID: ChatChannelID(a.LawyerID, a.ClientID),
		VideoRoom:     a.Type == appointment.TypeVideo,
		ConfirmedAt:   a.UpdatedAt.UTC(),
	}
}

// confirmation is the broker's answer to one publishing.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// publisher sends one message and hands back its own confirmation, so a
// late ack can never be matched to a later message.
type publisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) (confirmation, error)
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (c amqpChannel) Publish(ctx context.Context, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, "", key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("channel is not in confirm mode")
	}
	return dc, nil
}

// Publisher sends confirmation messages and waits for broker confirms.
type Publisher struct {
	ch  publisher
	log *zap.Logger
}

// Dial connects to the broker at url.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return conn, nil
}

// NewPublisher opens a channel, declares the durable queue and enables
// publisher confirms.
func NewPublisher(conn *amqp.Connection, log *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	_, err = ch.QueueDeclare(
		ConfirmedQueueName, // name
		true,               // durable
		false,              // autoDelete
		false,              // exclusive
		false,              // noWait
		nil,                // args
	)
	if err != nil {
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		return nil, err
	}

	return &Publisher{
		ch:  amqpChannel{ch: ch},
		log: log.Named("events"),
	}, nil
}

func (p *Publisher) Name() string { return "rabbitmq" }

// OnConfirmed publishes a persistent ConfirmedMessage.
func (p *Publisher) OnConfirmed(ctx context.Context, a appointment.Appointment) error {
	body, err := json.Marshal(NewConfirmedMessage(a))
	if err != nil {
		return fmt.Errorf("marshal confirmed message: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    a.ID.String(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}

	conf, err := p.ch.Publish(ctx, ConfirmedQueueName, msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", ConfirmedQueueName, err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", ConfirmedQueueName, err)
	}
	if !acked {
		return fmt.Errorf("publish to %s: %w", ConfirmedQueueName, ErrNotConfirmed)
	}

	p.log.Info("confirmation published",
		zap.String("appointment_id", a.ID.String()),
		zap.String("chat_channel_id", ChatChannelID(a.LawyerID, a.ClientID)),
	)
	return nil
}
