package node

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/uhyunpark/otcmatch/pkg/discovery"
	"github.com/uhyunpark/otcmatch/pkg/metrics"
	"github.com/uhyunpark/otcmatch/pkg/offer"
	"github.com/uhyunpark/otcmatch/pkg/storage"
	"github.com/uhyunpark/otcmatch/pkg/util"
)

// probe looks for a peer announcing the complement of o and asks it for a
// match. Finding nobody is the normal case: o stays open and announced and
// waits for an inbound probe instead.
func (n *Node) probe(h offer.Handle, o offer.Offer) {
	defer n.probes.Done()

	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.RequestTimeout)
	defer cancel()

	outcome := n.runProbe(ctx, h, o)
	if n.ctx.Err() != nil && outcome != metrics.ProbeMatch {
		outcome = metrics.ProbeCanceled
	}
	n.cfg.Metrics.ProbeFinished(outcome)
	n.log.Debugw("probe_finished", "handle", uint64(h), "key", offer.Key(o), "outcome", outcome)
}

func (n *Node) runProbe(ctx context.Context, h offer.Handle, o offer.Offer) string {
	target := offer.Key(o.Flip())
	payload := encodeProbe(ProbeRequest{From: string(n.self), Offer: offer.Key(o), Handle: uint64(h)})

	for round := 0; ; round++ {
		peers, err := n.sub.Lookup(ctx, target)
		if err != nil {
			n.log.Debugw("probe_lookup_failed", "key", target, "err", err)
			return metrics.ProbeNoAnnouncer
		}
		if len(peers) == 0 {
			if round == 0 {
				return metrics.ProbeNoAnnouncer
			}
			return metrics.ProbeNoMatch
		}
		rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })

		busy := false
		for _, p := range peers {
			if !n.store.Reserve(h, string(p)) {
				// consumed by an inbound match in the meantime
				return metrics.ProbeLostRace
			}
			reply, err := n.sub.Request(ctx, p, target, payload)
			if err != nil {
				n.store.Release(h)
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return metrics.ProbeNoMatch
				}
				n.log.Debugw("probe_request_failed", "to", p, "key", target, "err", err)
				continue
			}

			r := decodeReply(reply)
			switch r.Msg {
			case ReplyMatch:
				return n.completeProbe(h, o, p, r.Handle)
			case ReplyBusy:
				n.store.Release(h)
				busy = true
			default:
				n.store.Release(h)
			}
		}

		if !busy || round >= n.cfg.ProbeRetries {
			return metrics.ProbeNoMatch
		}
		if err := util.Sleep(ctx, n.cfg.Clock, n.backoff()); err != nil {
			return metrics.ProbeNoMatch
		}
	}
}

// completeProbe retires our offer after the counterparty answered MATCH.
// The offer is still reserved for p here, so no inbound probe from another
// peer can have taken it between the reply and this call. theirs is the
// counterparty's consumed handle; a probe of theirs for it still in flight
// to us is stale from now on.
func (n *Node) completeProbe(h offer.Handle, o offer.Offer, p discovery.PeerID, theirs uint64) string {
	n.crossMu.Lock()
	if theirs != 0 {
		n.settled.SetDefault(settledKey(p, theirs), struct{}{})
	}
	removed := n.store.RemoveByIdentity(h)
	n.crossMu.Unlock()
	if !removed {
		n.log.Warnw("match_after_consume", "handle", uint64(h), "counterparty", p)
		return metrics.ProbeLostRace
	}
	n.announcer.Stop(o, h)
	n.settle(offer.Entry{Handle: h, Offer: o}, storage.RoleInitiator, p)
	return metrics.ProbeMatch
}

// backoff is ProbeBackoff plus up to the same again of jitter.
func (n *Node) backoff() time.Duration {
	base := n.cfg.ProbeBackoff
	return base + rand.N(base+1)
}
