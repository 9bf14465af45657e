package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

const (
	DefaultEndpoint  = "tcp://*:5563"
	DefaultTopic     = "kite-opt"
	DefaultQueueSize = 16
)

// Sender writes one topic-qualified message to a transport.
type Sender interface {
	Send(topic string, payload []byte) error
	Close() error
}

// ZMQSender publishes two-frame [topic, payload] messages on a PUB socket.
type ZMQSender struct {
	sock zmq4.Socket
}

// ListenPUB binds a PUB socket on endpoint. Sends with no subscriber
// connected are discarded by the socket.
func ListenPUB(ctx context.Context, endpoint string) (*ZMQSender, error) {
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("telemetry: listen %s: %w", endpoint, err)
	}
	return &ZMQSender{sock: sock}, nil
}

func (s *ZMQSender) Send(topic string, payload []byte) error {
	return s.sock.Send(zmq4.NewMsgFrom([]byte(topic), payload))
}

// Addr is the bound address, useful when listening on port 0.
func (s *ZMQSender) Addr() string {
	if a := s.sock.Addr(); a != nil {
		return a.String()
	}
	return ""
}

func (s *ZMQSender) Close() error {
	return s.sock.Close()
}

// Stats counts what happened to published payloads.
type Stats struct {
	Published uint64
	Sent      uint64
	Dropped   uint64
	Failed    uint64
}

// Publisher hands payloads to a single sender goroutine through a bounded
// queue. Publish never blocks: a full queue drops the payload.
type Publisher struct {
	topic  string
	sender Sender
	logger *zap.Logger
	queue  chan []byte
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	published atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher starts the sender goroutine. Close stops it.
func NewPublisher(sender Sender, topic string, queueSize int, logger *zap.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		topic:  topic,
		sender: sender,
		logger: logger.Named("telemetry"),
		queue:  make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.done)
	for payload := range p.queue {
		if err := p.sender.Send(p.topic, payload); err != nil {
			if p.failed.Add(1) == 1 {
				p.logger.Warn("publish failed", zap.String("topic", p.topic), zap.Error(err))
			} else {
				p.logger.Debug("publish failed", zap.String("topic", p.topic), zap.Error(err))
			}
			continue
		}
		p.sent.Add(1)
	}
}

// Publish enqueues payload and reports whether it was accepted. The
// publisher owns payload afterwards.
func (p *Publisher) Publish(payload []byte) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.published.Add(1)
	if p.closed {
		p.dropped.Add(1)
		return false
	}
	select {
	case p.queue <- payload:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Sent:      p.sent.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close drains the queue, stops the sender goroutine and closes the sender.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	st := p.Stats()
	p.logger.Debug("publisher closed",
		zap.Uint64("published", st.Published),
		zap.Uint64("sent", st.Sent),
		zap.Uint64("dropped", st.Dropped),
		zap.Uint64("failed", st.Failed))
	return p.sender.Close()
}
