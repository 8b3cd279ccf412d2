package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Network is an in-process substrate: every joined peer shares one registry
// and requests are plain function calls on their own goroutine. Used by
// tests and by single-process simulations.
type Network struct {
	TTL time.Duration
	// Latency, if set, delays each request before it reaches the handler.
	Latency func(from, to PeerID) time.Duration

	reg *Registry

	mu    sync.RWMutex
	peers map[PeerID]*MemPeer
}

func NewNetwork() *Network {
	return &Network{
		TTL:   time.Second,
		reg:   NewRegistry(time.Minute),
		peers: make(map[PeerID]*MemPeer),
	}
}

// Join attaches a new peer. Joining an id twice replaces the old peer.
func (n *Network) Join(id PeerID) *MemPeer {
	p := &MemPeer{net: n, id: id}
	n.mu.Lock()
	n.peers[id] = p
	n.mu.Unlock()
	return p
}

func (n *Network) Registry() *Registry { return n.reg }

func (n *Network) peer(id PeerID) (*MemPeer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.peers[id]
	return p, ok
}

func (n *Network) leave(p *MemPeer) {
	n.mu.Lock()
	if n.peers[p.id] == p {
		delete(n.peers, p.id)
	}
	n.mu.Unlock()
	n.reg.RemovePeer(p.id)
}

type MemPeer struct {
	net *Network
	id  PeerID

	mu      sync.RWMutex
	handler Handler
	closed  bool
}

var _ Substrate = (*MemPeer)(nil)

func (p *MemPeer) Self() PeerID { return p.id }

func (p *MemPeer) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *MemPeer) Announce(ctx context.Context, key string) error {
	if p.isClosed() {
		return ErrClosed
	}
	p.net.reg.Put(key, p.id, nil, p.net.TTL)
	return nil
}

func (p *MemPeer) StopAnnouncing(ctx context.Context, key string) error {
	p.net.reg.Remove(key, p.id)
	return nil
}

func (p *MemPeer) Lookup(ctx context.Context, key string) ([]PeerID, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	return p.net.reg.Peers(key, p.id), nil
}

func (p *MemPeer) Request(ctx context.Context, to PeerID, key string, payload []byte) ([]byte, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	target, ok := p.net.peer(to)
	if !ok {
		return nil, ErrUnknownPeer
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	req := Request{
		ID:      uuid.NewString(),
		From:    p.id,
		Key:     key,
		Payload: append([]byte(nil), payload...),
	}
	go func() {
		if p.net.Latency != nil {
			if d := p.net.Latency(p.id, to); d > 0 {
				select {
				case <-time.After(d):
				case <-ctx.Done():
					done <- result{err: ctx.Err()}
					return
				}
			}
		}
		target.mu.RLock()
		h, closed := target.handler, target.closed
		target.mu.RUnlock()
		if closed {
			done <- result{err: ErrClosed}
			return
		}
		if h == nil {
			done <- result{err: ErrNoHandler}
			return
		}
		data, err := h(ctx, req)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.data, r.err
	}
}

func (p *MemPeer) OnRequest(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Close is idempotent.
func (p *MemPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.handler = nil
	p.mu.Unlock()
	p.net.leave(p)
	return nil
}
