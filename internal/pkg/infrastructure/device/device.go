package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

var ErrUnsupportedTarget = errors.New("unsupported device target")

const DefaultBaudRate int = 9600

type Target struct {
	Scheme   string
	Address  string
	Topic    string
	BaudRate int
	ClientID string
	Username string
	Password string
}

// ParseTarget understands serial:///dev/ttyACM0?baud=9600, tcp://host:port and
// mqtt://broker:1883/topic. A bare device path is treated as a serial port.
func ParseTarget(target string) (Target, error) {
	if strings.HasPrefix(target, "/") || strings.HasPrefix(strings.ToUpper(target), "COM") {
		return Target{Scheme: "serial", Address: target, BaudRate: DefaultBaudRate}, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedTarget, err.Error())
	}

	t := Target{Scheme: u.Scheme}

	switch u.Scheme {
	case "serial":
		t.Address = u.Path
		if u.Host != "" {
			t.Address = u.Host + u.Path
		}
		t.BaudRate = DefaultBaudRate
		if baud := u.Query().Get("baud"); baud != "" {
			t.BaudRate, err = strconv.Atoi(baud)
			if err != nil || t.BaudRate <= 0 {
				return Target{}, fmt.Errorf("%w: bad baud rate %q", ErrUnsupportedTarget, baud)
			}
		}
	case "tcp":
		t.Address = u.Host
	case "mqtt":
		t.Address = "tcp://" + u.Host
		t.Topic = strings.TrimPrefix(u.Path, "/")
		t.ClientID = u.Query().Get("clientID")
		if u.User != nil {
			t.Username = u.User.Username()
			t.Password, _ = u.User.Password()
		}
		if t.Topic == "" {
			return Target{}, fmt.Errorf("%w: mqtt target %s has no topic", ErrUnsupportedTarget, target)
		}
	default:
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedTarget, target)
	}

	if t.Address == "" || t.Address == "tcp://" {
		return Target{}, fmt.Errorf("%w: %s has no address", ErrUnsupportedTarget, target)
	}

	return t, nil
}

// Open connects to a device. Reads on the returned stream block for at most
// readTimeout and return an empty chunk when nothing arrived.
func Open(ctx context.Context, target string, readTimeout time.Duration) (io.ReadCloser, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}

	switch t.Scheme {
	case "serial":
		return openSerial(t, readTimeout)
	case "tcp":
		return openTCP(ctx, t, readTimeout)
	default:
		return openMQTT(t, readTimeout)
	}
}

func openSerial(t Target, readTimeout time.Duration) (io.ReadCloser, error) {
	port, err := serial.Open(t.Address, &serial.Mode{BaudRate: t.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", t.Address, err)
	}

	err = port.SetReadTimeout(readTimeout)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", t.Address, err)
	}

	return port, nil
}

type tcpStream struct {
	conn    net.Conn
	timeout time.Duration
}

func openTCP(ctx context.Context, t Target, readTimeout time.Duration) (io.ReadCloser, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", t.Address, err)
	}

	return &tcpStream{conn: conn, timeout: readTimeout}, nil
}

func (s *tcpStream) Read(p []byte) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return 0, err
	}

	n, err := s.conn.Read(p)

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return n, nil
	}

	return n, err
}

func (s *tcpStream) Close() error {
	return s.conn.Close()
}
