// Package discovery defines what a peer needs from the discovery network:
// key announcements with expiry, lookup of announcers, and a request/reply
// channel between peers.
package discovery

import (
	"context"
	"errors"
)

type PeerID string

var (
	ErrClosed      = errors.New("discovery: substrate closed")
	ErrNoHandler   = errors.New("discovery: peer has no request handler")
	ErrUnknownPeer = errors.New("discovery: unknown peer")
)

// Request is an inbound request as seen by the handler.
type Request struct {
	ID      string
	From    PeerID
	Key     string
	Payload []byte
}

// Handler answers an inbound request. A returned error travels back to the
// requester as a transport-level failure.
type Handler func(ctx context.Context, req Request) ([]byte, error)

type Substrate interface {
	Self() PeerID

	// Announce registers self under key once. Registrations expire on the
	// network side, so callers refresh them periodically.
	Announce(ctx context.Context, key string) error
	StopAnnouncing(ctx context.Context, key string) error

	// Lookup returns the peers currently announcing key, never Self.
	Lookup(ctx context.Context, key string) ([]PeerID, error)

	Request(ctx context.Context, to PeerID, key string, payload []byte) ([]byte, error)

	// OnRequest installs the inbound handler; nil stops serving requests.
	OnRequest(h Handler)

	Close() error
}
