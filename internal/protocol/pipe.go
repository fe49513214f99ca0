package protocol

import (
	"context"
)

// PipePort is one end of an in-process pipe
type PipePort struct {
	id   string
	box  *mailbox
	peer *PipePort
}

// NewPipe creates a connected pair of ports named a and b
func NewPipe(a, b string) (*PipePort, *PipePort) {
	pa := &PipePort{id: a, box: newMailbox()}
	pb := &PipePort{id: b, box: newMailbox()}
	pa.peer, pb.peer = pb, pa
	return pa, pb
}

// ID returns the endpoint name
func (p *PipePort) ID() string { return p.id }

// Post delivers data to the peer
func (p *PipePort) Post(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.box.closed() {
		return ErrPortClosed
	}
	return p.peer.box.push(Envelope{Source: p.id, Data: data})
}

// Receive returns the inbound channel
func (p *PipePort) Receive() <-chan Envelope { return p.box.out }

// Close stops delivery to this end
func (p *PipePort) Close() error {
	p.box.close()
	return nil
}
