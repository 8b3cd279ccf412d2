package node

import (
	"time"

	"github.com/uhyunpark/otcmatch/pkg/discovery"
	"github.com/uhyunpark/otcmatch/pkg/offer"
	"github.com/uhyunpark/otcmatch/pkg/storage"
)

// InboundRequest describes a match request received from another peer.
type InboundRequest struct {
	ID   string
	From discovery.PeerID
	Key  string
}

// Match describes one of our offers being consumed by a counterparty.
type Match struct {
	ID           string
	Handle       offer.Handle
	Offer        offer.Offer
	Role         storage.Role
	Counterparty discovery.PeerID
	Time         time.Time
}

// Hooks observe a node. Calls are synchronous notifications made while the
// node is serving a request; keep them short and do not call back into the
// node from them.
type Hooks interface {
	OnRequest(req InboundRequest)
	OnOfferMatched(m Match)
}

type NopHooks struct{}

func (NopHooks) OnRequest(InboundRequest) {}
func (NopHooks) OnOfferMatched(Match)     {}

// HookFuncs adapts plain functions; nil fields are skipped.
type HookFuncs struct {
	Request func(req InboundRequest)
	Matched func(m Match)
}

func (f HookFuncs) OnRequest(req InboundRequest) {
	if f.Request != nil {
		f.Request(req)
	}
}

func (f HookFuncs) OnOfferMatched(m Match) {
	if f.Matched != nil {
		f.Matched(m)
	}
}

// MultiHooks fans each notification out in order.
type MultiHooks []Hooks

func (m MultiHooks) OnRequest(req InboundRequest) {
	for _, h := range m {
		h.OnRequest(req)
	}
}

func (m MultiHooks) OnOfferMatched(match Match) {
	for _, h := range m {
		h.OnOfferMatched(match)
	}
}
