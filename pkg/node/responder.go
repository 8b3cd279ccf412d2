package node

import (
	"context"
	"encoding/json"

	"github.com/uhyunpark/otcmatch/pkg/discovery"
	"github.com/uhyunpark/otcmatch/pkg/offer"
	"github.com/uhyunpark/otcmatch/pkg/storage"
)

// handleRequest answers a probe from another peer.
//
// The routing key names the offer the requester wants, which is one of
// ours; the requester's own offer is its flip. If any complementary offer is
// reserved by our own probe to the same requester, both peers are probing
// each other: the lower peer id serves and the higher one answers BUSY
// without giving up any other offer, so exactly one of the two probes
// matches.
func (n *Node) handleRequest(ctx context.Context, req discovery.Request) ([]byte, error) {
	n.lifeMu.RLock()
	defer n.lifeMu.RUnlock()
	if n.closed {
		return nil, discovery.ErrClosed
	}

	n.cfg.Hooks.OnRequest(InboundRequest{ID: req.ID, From: req.From, Key: req.Key})

	wanted, err := offer.ParseKey(req.Key)
	if err != nil {
		n.log.Debugw("request_malformed_key", "from", req.From, "err", err)
		n.cfg.Metrics.Inbound("malformed")
		return encodeReply(ReplyNoMatch), nil
	}
	candidate := wanted.Flip()

	var p ProbeRequest
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &p); err == nil && p.Offer != "" {
			if theirs, err := offer.ParseKey(p.Offer); err != nil || !theirs.Equal(candidate) {
				n.log.Debugw("request_inconsistent_offer", "from", req.From, "key", req.Key, "offer", p.Offer)
				n.cfg.Metrics.Inbound("malformed")
				return encodeReply(ReplyNoMatch), nil
			}
		}
	}

	n.crossMu.RLock()
	if p.Handle != 0 {
		if _, ok := n.settled.Get(settledKey(req.From, p.Handle)); ok {
			n.crossMu.RUnlock()
			n.log.Debugw("request_already_settled", "from", req.From, "key", req.Key, "handle", p.Handle)
			n.cfg.Metrics.Inbound("settled")
			return encodeReply(ReplyNoMatch), nil
		}
	}
	from := string(req.From)
	entry, res := n.store.Claim(candidate, from, string(n.self) < from)
	n.crossMu.RUnlock()
	n.cfg.Metrics.Inbound(res.String())

	switch res {
	case offer.Claimed:
		n.announcer.Stop(entry.Offer, entry.Handle)
		n.settle(entry, storage.RoleResponder, req.From)
		return encodeProbeReply(ProbeReply{Msg: ReplyMatch, Handle: uint64(entry.Handle)}), nil
	case offer.Busy:
		n.log.Debugw("request_busy", "from", req.From, "key", req.Key)
		return encodeReply(ReplyBusy), nil
	default:
		return encodeReply(ReplyNoMatch), nil
	}
}
