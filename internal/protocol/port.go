package protocol

import (
	"context"
	"errors"
	"sync"
)

// ErrPortClosed is returned when posting on a closed port
var ErrPortClosed = errors.New("port closed")

// Envelope is one delivered message. Source is stamped by the transport
// with the sender's ID and cannot be chosen by the sender.
type Envelope struct {
	Source string
	Data   []byte
}

// Port is one end of a message channel
type Port interface {
	// ID identifies this endpoint to its peers
	ID() string
	// Post sends data to the peer this port is bound to
	Post(ctx context.Context, data []byte) error
	// Receive yields inbound envelopes in arrival order; it is closed with
	// the port
	Receive() <-chan Envelope
	Close() error
}

// Send encodes msg and posts it on p
func Send(ctx context.Context, p Port, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return p.Post(ctx, data)
}

// mailbox is an unbounded FIFO feeding a channel
type mailbox struct {
	mu     sync.Mutex
	items  []Envelope
	signal chan struct{}
	out    chan Envelope
	done   chan struct{}
	once   sync.Once
}

func newMailbox() *mailbox {
	m := &mailbox{
		signal: make(chan struct{}, 1),
		out:    make(chan Envelope),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) push(e Envelope) error {
	select {
	case <-m.done:
		return ErrPortClosed
	default:
	}
	m.mu.Lock()
	m.items = append(m.items, e)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

func (m *mailbox) run() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.items) == 0 {
			m.mu.Unlock()
			select {
			case <-m.signal:
				continue
			case <-m.done:
				return
			}
		}
		next := m.items[0]
		m.items[0] = Envelope{}
		m.items = m.items[1:]
		m.mu.Unlock()

		select {
		case m.out <- next:
		case <-m.done:
			return
		}
	}
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}

func (m *mailbox) closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
