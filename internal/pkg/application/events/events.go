package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/logging"
)

// Message is an outbound notification about something that happened to an alert.
type Message interface {
	ContentType() string
	TopicName() string
	Body() []byte
}

type Sender interface {
	Send(ctx context.Context, message Message) error
}

type SubscriberConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type Notification struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

const eventSource string = "github.com/diwise/vitals-monitor"

type cloudEventSender struct {
	subscribers map[string][]SubscriberConfig
	client      cloudevents.Client
}

// NewCloudEventSender returns a sender that posts every message as a CloudEvent
// to the subscribers configured for its topic.
func NewCloudEventSender(notifications []Notification) (Sender, error) {
	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, err
	}

	e := &cloudEventSender{
		subscribers: make(map[string][]SubscriberConfig),
		client:      c,
	}

	for _, n := range notifications {
		e.subscribers[n.Type] = append(e.subscribers[n.Type], n.Subscribers...)
	}

	return e, nil
}

func (e *cloudEventSender) Send(ctx context.Context, message Message) error {
	subscribers, ok := e.subscribers[message.TopicName()]
	if !ok || len(subscribers) == 0 {
		return nil
	}

	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetTime(time.Now().UTC())
	event.SetSource(eventSource)
	event.SetType(message.TopicName())

	err := event.SetData(message.ContentType(), message.Body())
	if err != nil {
		return err
	}

	logger := logging.GetLoggerFromContext(ctx)

	var errs []error

	for _, s := range subscribers {
		ctxWithTarget := cloudevents.ContextWithTarget(ctx, s.Endpoint)

		result := e.client.Send(ctxWithTarget, event)
		if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) {
			logger.Error().Err(result).Msgf("failed to send event to %s", s.Endpoint)
			errs = append(errs, fmt.Errorf("%s: %w", s.Endpoint, result))
		}
	}

	return errors.Join(errs...)
}

type brokerSender struct {
	messenger messaging.MsgContext
}

// NewBrokerSender publishes every message on the topic exchange, routed by
// its topic name.
func NewBrokerSender(messenger messaging.MsgContext) Sender {
	return &brokerSender{messenger: messenger}
}

func (b *brokerSender) Send(ctx context.Context, message Message) error {
	err := b.messenger.PublishOnTopic(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", message.TopicName(), err)
	}
	return nil
}

type fanout struct {
	senders []Sender
}

// NewFanout returns a sender that hands every message to all the given senders
// and joins their errors.
func NewFanout(senders ...Sender) Sender {
	return &fanout{senders: senders}
}

func (f *fanout) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, s := range f.senders {
		if err := s.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
