package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/lawyer-scheduling/internal/appointment"
)

// fakeConfirm resolves after delay with ack.
type fakeConfirm struct {
	ack   bool
	delay time.Duration
}

func (c fakeConfirm) WaitContext(ctx context.Context) (bool, error) {
	select {
	case <-time.After(c.delay):
		return c.ack, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
	// answers are handed out in publish order; the last one repeats
	answers []fakeConfirm
}

func (c *fakeChannel) Publish(_ context.Context, key string, msg amqp.Publishing) (confirmation, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.published = append(c.published, msg)
	c.keys = append(c.keys, key)

	i := len(c.published) - 1
	if i >= len(c.answers) {
		i = len(c.answers) - 1
	}
	return c.answers[i], nil
}

func newTestPublisher(answers ...fakeConfirm) (*Publisher, *fakeChannel) {
	ch := &fakeChannel{answers: answers}
	return &Publisher{ch: ch, log: zap.NewNop()}, ch
}

func sampleAppointment() appointment.Appointment {
	start := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	return appointment.Appointment{
		ID:         uuid.MustParse("5b0f4f3e-6f57-4a43-9a55-0d4f1c8a2f10"),
		LawyerID:   "law-7",
		ClientID:   "cli-3",
		LawyerName: "Maître Durand",
		Date:       start,
		Duration:   45,
		Type:       appointment.TypeVideo,
		Status:     appointment.StatusConfirmed,
		UpdatedAt:  start.Add(-48 * time.Hour),
	}
}

func TestChatChannelID(t *testing.T) {
	assert.Equal(t, "lawyer-law-7-client-cli-3", ChatChannelID("law-7", "cli-3"))
}

func TestNewConfirmedMessage(t *testing.T) {
	a := sampleAppointment()
	msg := NewConfirmedMessage(a)

	assert.Equal(t, a.ID.String(), msg.AppointmentID)
	assert.Equal(t, "lawyer-law-7-client-cli-3", msg.ChatChannelID)
	assert.True(t, msg.VideoRoom)
	assert.Equal(t, a.Date.Add(45*time.Minute), msg.EndsAt)

	a.Type = appointment.TypeInPerson
	assert.False(t, NewConfirmedMessage(a).VideoRoom)
}

func TestOnConfirmedPublishesPersistentJSON(t *testing.T) {
	p, ch := newTestPublisher(fakeConfirm{ack: true})
	a := sampleAppointment()

	require.NoError(t, p.OnConfirmed(context.Background(), a))

	require.Len(t, ch.published, 1)
	assert.Equal(t, ConfirmedQueueName, ch.keys[0])

	msg := ch.published[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, a.ID.String(), msg.MessageId)

	var decoded ConfirmedMessage
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "law-7", decoded.LawyerID)
	assert.Equal(t, "lawyer-law-7-client-cli-3", decoded.ChatChannelID)
}

func TestOnConfirmedNack(t *testing.T) {
	p, _ := newTestPublisher(fakeConfirm{ack: false})

	err := p.OnConfirmed(context.Background(), sampleAppointment())
	require.ErrorIs(t, err, ErrNotConfirmed)
}

func TestOnConfirmedPublishError(t *testing.T) {
	p, ch := newTestPublisher(fakeConfirm{ack: true})
	ch.err = errors.New("channel closed")

	err := p.OnConfirmed(context.Background(), sampleAppointment())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestOnConfirmedLateAckIsNotReused(t *testing.T) {
	p, ch := newTestPublisher(
		fakeConfirm{ack: true, delay: 50 * time.Millisecond},
		fakeConfirm{ack: false},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.OnConfirmed(ctx, sampleAppointment())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the first ack lands while nobody is waiting for it
	time.Sleep(60 * time.Millisecond)

	err = p.OnConfirmed(context.Background(), sampleAppointment())
	require.ErrorIs(t, err, ErrNotConfirmed)
	assert.Len(t, ch.published, 2)
}
