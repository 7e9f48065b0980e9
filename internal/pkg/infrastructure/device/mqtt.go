package device

import (
	"fmt"
	"io"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const payloadBuffer int = 64

// mqttStream turns the payloads published on a topic into a byte stream.
// Payloads that arrive while the buffer is full are dropped.
type mqttStream struct {
	client   mqtt.Client
	payloads chan []byte
	timeout  time.Duration

	mu      sync.Mutex
	pending []byte
	closed  chan struct{}
	once    sync.Once

	errMu sync.Mutex
	err   error
}

func newMQTTStream(readTimeout time.Duration) *mqttStream {
	return &mqttStream{
		payloads: make(chan []byte, payloadBuffer),
		timeout:  readTimeout,
		closed:   make(chan struct{}),
	}
}

func openMQTT(t Target, readTimeout time.Duration) (io.ReadCloser, error) {
	clientID := t.ClientID
	if clientID == "" {
		clientID = "vitals-monitor-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.Address)
	opts.SetClientID(clientID)

	if t.Username != "" {
		opts.SetUsername(t.Username)
	}
	if t.Password != "" {
		opts.SetPassword(t.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	s := newMQTTStream(readTimeout)

	// resubscribe after reconnects since the session is clean
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.subscribe(c, t.Topic)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", t.Address, token.Error())
	}

	s.client = client

	return s, nil
}

// subscribe checks the subscription outcome off the client's callback. A
// rejected subscription fails every following Read.
func (s *mqttStream) subscribe(c mqtt.Client, topic string) {
	token := c.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		s.deliver(msg.Payload())
	})

	go func() {
		if token.Wait() && token.Error() != nil {
			s.fail(fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error()))
		}
	}()
}

func (s *mqttStream) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.err = err
}

func (s *mqttStream) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *mqttStream) deliver(payload []byte) {
	select {
	case <-s.closed:
	case s.payloads <- append([]byte(nil), payload...):
	default:
	}
}

func (s *mqttStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(); err != nil {
		return 0, err
	}

	if len(s.pending) == 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()

		select {
		case <-s.closed:
			return 0, io.EOF
		case <-timer.C:
			return 0, nil
		case payload := <-s.payloads:
			s.pending = append(payload, '\n')
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]

	return n, nil
}

func (s *mqttStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		if s.client != nil {
			s.client.Disconnect(250)
		}
	})
	return nil
}
