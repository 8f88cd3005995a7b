// Package notify listens for node ZMQ notifications and turns them into
// feed refreshes, so new blocks show up before the next scheduled poll.
package notify

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
)

// Topics published by the node.
const (
	TopicHashBlock = "hashblock"
	TopicHashTx    = "hashtx"
)

// recvTimeout bounds each receive so the loop notices cancellation.
const recvTimeout = 500 * time.Millisecond

// Event is one decoded notification.
type Event struct {
	Topic string
	Hash  string
	Seq   uint32
}

// Handler reacts to an event. It runs on the subscriber goroutine.
type Handler func(Event)

// receiver is the part of a zmq4 socket the loop needs.
type receiver interface {
	RecvMessageBytes(flags zmq4.Flag) ([][]byte, error)
}

// Subscriber dispatches node notifications to per-topic handlers.
type Subscriber struct {
	endpoint string
	log      *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	received map[string]int64
}

// NewSubscriber returns a subscriber for a node endpoint such as
// tcp://127.0.0.1:28332.
func NewSubscriber(endpoint string, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Subscriber{
		endpoint: endpoint,
		log:      log.With("zmq", endpoint),
		handlers: make(map[string][]Handler),
		received: make(map[string]int64),
	}
}

// On registers h for topic. Register handlers before Run.
func (s *Subscriber) On(topic string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = append(s.handlers[topic], h)
}

// Topics returns the topics with at least one handler.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for t := range s.handlers {
		out = append(out, t)
	}
	return out
}

// Received returns how many events of topic were dispatched.
func (s *Subscriber) Received(topic string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.received[topic]
}

// Run connects, subscribes to every registered topic and dispatches until
// ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	sock, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return fmt.Errorf("zmq socket: %w", err)
	}
	defer sock.Close()

	if err := sock.SetRcvtimeo(recvTimeout); err != nil {
		return fmt.Errorf("zmq rcvtimeo: %w", err)
	}
	if err := sock.SetLinger(0); err != nil {
		return fmt.Errorf("zmq linger: %w", err)
	}
	if err := sock.Connect(s.endpoint); err != nil {
		return fmt.Errorf("zmq connect %s: %w", s.endpoint, err)
	}
	if err := subscribeAll(sock, s.Topics()...); err != nil {
		return err
	}
	s.log.Info("zmq subscriber connected", "topics", s.Topics())
	return s.loop(ctx, sock)
}

func (s *Subscriber) loop(ctx context.Context, r receiver) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := r.RecvMessageBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("zmq receive: %w", err)
		}
		e, err := Decode(msg)
		if err != nil {
			s.log.Debug("skipping malformed notification", "error", err)
			continue
		}
		s.dispatch(e)
	}
}

func (s *Subscriber) dispatch(e Event) {
	s.mu.Lock()
	s.received[e.Topic]++
	hs := append([]Handler(nil), s.handlers[e.Topic]...)
	s.mu.Unlock()

	for _, h := range hs {
		h(e)
	}
}

// Decode parses a [topic, body, sequence] multipart message. The sequence
// frame is optional.
func Decode(frames [][]byte) (Event, error) {
	if len(frames) < 2 {
		return Event{}, fmt.Errorf("notification has %d frames, want at least 2", len(frames))
	}
	e := Event{Topic: string(frames[0])}
	if e.Topic == "" {
		return Event{}, errors.New("notification without topic")
	}
	e.Hash = hex.EncodeToString(frames[1])
	if len(frames) > 2 && len(frames[2]) == 4 {
		e.Seq = binary.LittleEndian.Uint32(frames[2])
	}
	return e, nil
}

func subscribeAll(sock *zmq4.Socket, topics ...string) error {
	for _, topic := range topics {
		if err := sock.SetSubscribe(topic); err != nil {
			return fmt.Errorf("zmq subscribe %s: %w", topic, err)
		}
	}
	return nil
}
