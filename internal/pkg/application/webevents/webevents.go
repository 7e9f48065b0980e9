package webevents

import (
	"encoding/json"
	"net/http"

	gosse "github.com/alexandrevicenzi/go-sse"
	"github.com/go-chi/chi/v5"
)

const (
	EventTemperature string = "temperature"
	EventAlert       string = "alert"
	EventKeepalive   string = "keepalive"
)

// WebEvents broadcasts server sent events on one channel per patient.
type WebEvents interface {
	Server() http.Handler
	Shutdown()
	Publish(channel, event string, data any) error
	PublishRaw(channel, event, data string)
	Keepalive(channel string)
}

type webEvents struct {
	s *gosse.Server
}

// New creates a broadcaster whose clients subscribe to the channel named by
// the patientID route parameter, or to defaultChannel when the route has none.
func New(defaultChannel string) WebEvents {
	return &webEvents{
		s: gosse.NewServer(&gosse.Options{
			Headers: map[string]string{
				"Access-Control-Allow-Origin": "*",
			},
			ChannelNameFunc: func(r *http.Request) string {
				if patientID := chi.URLParam(r, "patientID"); patientID != "" {
					return patientID
				}
				return defaultChannel
			},
		}),
	}
}

func (we *webEvents) Server() http.Handler {
	return we.s
}

func (we *webEvents) Shutdown() {
	we.s.Shutdown()
}

func (we *webEvents) Publish(channel, event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	we.PublishRaw(channel, event, string(b))

	return nil
}

func (we *webEvents) PublishRaw(channel, event, data string) {
	we.s.SendMessage(channel, gosse.NewMessage("", data, event))
}

func (we *webEvents) Keepalive(channel string) {
	we.s.SendMessage(channel, gosse.NewMessage("", "", EventKeepalive))
}
