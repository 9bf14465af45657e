package telemetry

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// Subscriber receives KiteOpt messages from a PUB endpoint.
type Subscriber struct {
	sock  zmq4.Socket
	topic string
}

// DialSUB connects a SUB socket to endpoint and subscribes to topic. The
// socket is closed when ctx is done.
func DialSUB(ctx context.Context, endpoint, topic string) (*Subscriber, error) {
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("telemetry: dial %s: %w", endpoint, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		sock.Close()
		return nil, fmt.Errorf("telemetry: subscribe %q: %w", topic, err)
	}
	return &Subscriber{sock: sock, topic: topic}, nil
}

// Recv blocks until the next message on the subscribed topic.
func (s *Subscriber) Recv() (*KiteOpt, error) {
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			return nil, err
		}
		if len(msg.Frames) != 2 {
			return nil, fmt.Errorf("%w: %d frames", ErrMalformed, len(msg.Frames))
		}
		if string(msg.Frames[0]) != s.topic {
			continue
		}
		return Unmarshal(msg.Frames[1])
	}
}

func (s *Subscriber) Close() error {
	return s.sock.Close()
}
