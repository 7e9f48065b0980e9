package events

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/matryer/is"

	"github.com/diwise/vitals-monitor/pkg/types"
)

func TestThatEventIsPostedToSubscriber(t *testing.T) {
	is, ctx := setupTest(t)

	var mu sync.Mutex
	var eventType, body string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		b, _ := io.ReadAll(r.Body)
		body = string(b)
		eventType = r.Header.Get("ce-type")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender, err := NewCloudEventSender([]Notification{
		{ID: "nurses", Type: "alerts.thresholdAlertCreated", Subscribers: []SubscriberConfig{{Endpoint: server.URL}}},
	})
	is.NoErr(err)

	msg := &types.ThresholdAlertCreated{
		Alert:     types.ThresholdAlert{ID: "a1", PatientID: "p1", Kind: types.AlertKindRed, Score: 8.5},
		Timestamp: time.Now().UTC(),
	}
	is.NoErr(sender.Send(ctx, msg))

	mu.Lock()
	defer mu.Unlock()

	is.Equal("alerts.thresholdAlertCreated", eventType)
	is.Equal(string(msg.Body()), body)
}

func TestThatTopicsWithoutSubscribersAreIgnored(t *testing.T) {
	is, ctx := setupTest(t)

	sender, err := NewCloudEventSender(nil)
	is.NoErr(err)

	is.NoErr(sender.Send(ctx, &types.ManualAlertTriggered{}))
}

func TestThatBrokerSenderPublishesOnTopic(t *testing.T) {
	is, ctx := setupTest(t)

	m := &messaging.MsgContextMock{
		PublishOnTopicFunc: func(ctx context.Context, message messaging.TopicMessage) error {
			return nil
		},
	}

	err := NewBrokerSender(m).Send(ctx, &types.ThresholdAlertCreated{})
	is.NoErr(err)

	is.Equal(1, len(m.PublishOnTopicCalls()))
	is.Equal("alerts.thresholdAlertCreated", m.PublishOnTopicCalls()[0].Message.TopicName())
	is.Equal("application/json", m.PublishOnTopicCalls()[0].Message.ContentType())
}

func TestFanoutJoinsErrors(t *testing.T) {
	is, ctx := setupTest(t)

	m := &messaging.MsgContextMock{
		PublishOnTopicFunc: func(ctx context.Context, message messaging.TopicMessage) error {
			return nil
		},
	}
	failing := &messaging.MsgContextMock{
		PublishOnTopicFunc: func(ctx context.Context, message messaging.TopicMessage) error {
			return errors.New("broker down")
		},
	}

	f := NewFanout(NewBrokerSender(m), NewBrokerSender(failing))
	err := f.Send(ctx, &types.ManualAlertAcknowledged{})

	is.True(err != nil)
	is.Equal(1, len(m.PublishOnTopicCalls()))
	is.Equal("alerts.manualAlertAcknowledged", m.PublishOnTopicCalls()[0].Message.TopicName())
	is.Equal(1, len(failing.PublishOnTopicCalls()))
}

func setupTest(t *testing.T) (*is.I, context.Context) {
	return is.New(t), context.Background()
}
