package protocol

import (
	"context"
	"fmt"
	"sync"
)

// Hub connects any number of in-process endpoints by ID
type Hub struct {
	mu    sync.RWMutex
	ports map[string]*HubPort
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{ports: make(map[string]*HubPort)}
}

// HubPort is an endpoint registered on a Hub
type HubPort struct {
	id   string
	hub  *Hub
	box  *mailbox
	peer string
}

// Join registers a new endpoint bound to peer
func (h *Hub) Join(id, peer string) (*HubPort, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.ports[id]; exists {
		return nil, fmt.Errorf("hub: endpoint %q already joined", id)
	}
	p := &HubPort{id: id, hub: h, box: newMailbox(), peer: peer}
	h.ports[id] = p
	return p, nil
}

func (h *Hub) deliver(from, to string, data []byte) error {
	h.mu.RLock()
	target, ok := h.ports[to]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("hub: no endpoint %q", to)
	}
	return target.box.push(Envelope{Source: from, Data: data})
}

func (h *Hub) leave(id string) {
	h.mu.Lock()
	delete(h.ports, id)
	h.mu.Unlock()
}

// ID returns the endpoint name
func (p *HubPort) ID() string { return p.id }

// Post sends data to the bound peer
func (p *HubPort) Post(ctx context.Context, data []byte) error {
	return p.PostTo(ctx, p.peer, data)
}

// PostTo sends data to any endpoint on the hub
func (p *HubPort) PostTo(ctx context.Context, to string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.box.closed() {
		return ErrPortClosed
	}
	return p.hub.deliver(p.id, to, data)
}

// Receive returns the inbound channel
func (p *HubPort) Receive() <-chan Envelope { return p.box.out }

// Close leaves the hub
func (p *HubPort) Close() error {
	p.hub.leave(p.id)
	p.box.close()
	return nil
}
