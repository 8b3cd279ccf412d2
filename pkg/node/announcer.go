package node

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/otcmatch/pkg/discovery"
	"github.com/uhyunpark/otcmatch/pkg/offer"
	"github.com/uhyunpark/otcmatch/pkg/util"
)

const withdrawTimeout = 2 * time.Second

// Announcer keeps each open offer's discovery key registered on the
// substrate. Offers with equal terms share a key; the key is refreshed by
// one loop and withdrawn when the last of those offers stops.
type Announcer struct {
	sub      discovery.Substrate
	interval time.Duration
	clock    util.Clock
	log      *zap.SugaredLogger

	mu     sync.Mutex
	parent context.Context
	leases map[string]*lease
	// retiring holds, per key, the withdrawal still in progress for the
	// key's previous lease. A new lease waits for it before announcing.
	retiring map[string]chan struct{}
}

type lease struct {
	handles   map[offer.Handle]struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	withdrawn chan struct{}
}

func NewAnnouncer(ctx context.Context, sub discovery.Substrate, interval time.Duration, clock util.Clock, log *zap.SugaredLogger) *Announcer {
	return &Announcer{
		sub:      sub,
		interval: interval,
		clock:    clock,
		log:      log,
		parent:   ctx,
		leases:   make(map[string]*lease),
		retiring: make(map[string]chan struct{}),
	}
}

// Start begins announcing o on behalf of handle h.
func (a *Announcer) Start(o offer.Offer, h offer.Handle) {
	key := offer.Key(o)

	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.leases[key]; ok {
		l.handles[h] = struct{}{}
		return
	}
	if a.parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(a.parent)
	l := &lease{
		handles:   map[offer.Handle]struct{}{h: {}},
		cancel:    cancel,
		done:      make(chan struct{}),
		withdrawn: make(chan struct{}),
	}
	a.leases[key] = l
	go a.run(ctx, key, l.done, a.retiring[key])
}

func (a *Announcer) run(ctx context.Context, key string, done, prev chan struct{}) {
	defer close(done)
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}
	for {
		if err := a.sub.Announce(ctx, key); err != nil && ctx.Err() == nil {
			a.log.Debugw("announce_failed", "key", key, "err", err)
		}
		if err := util.Sleep(ctx, a.clock, a.interval); err != nil {
			return
		}
	}
}

// Stop releases h's lease on o's key. Stopping twice, or stopping a lease
// that never started, does nothing.
func (a *Announcer) Stop(o offer.Offer, h offer.Handle) {
	key := offer.Key(o)

	a.mu.Lock()
	l, ok := a.leases[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	if _, held := l.handles[h]; !held {
		a.mu.Unlock()
		return
	}
	delete(l.handles, h)
	if len(l.handles) > 0 {
		a.mu.Unlock()
		return
	}
	delete(a.leases, key)
	a.retiring[key] = l.withdrawn
	a.mu.Unlock()

	a.retire(key, l)
}

// StopAll withdraws every key. Used on shutdown.
func (a *Announcer) StopAll() {
	a.mu.Lock()
	leases := a.leases
	a.leases = make(map[string]*lease)
	for key, l := range leases {
		a.retiring[key] = l.withdrawn
	}
	a.mu.Unlock()

	for key, l := range leases {
		a.retire(key, l)
	}
}

// retire stops the refresh loop before withdrawing so that a late refresh
// cannot re-register the key. A lease started for the same key meanwhile
// holds its first announcement until the withdrawal is done.
func (a *Announcer) retire(key string, l *lease) {
	l.cancel()
	<-l.done

	ctx, cancel := context.WithTimeout(context.Background(), withdrawTimeout)
	defer cancel()
	if err := a.sub.StopAnnouncing(ctx, key); err != nil {
		a.log.Debugw("withdraw_failed", "key", key, "err", err)
	}
	a.log.Debugw("announce_stopped", "key", key)

	a.mu.Lock()
	if a.retiring[key] == l.withdrawn {
		delete(a.retiring, key)
	}
	a.mu.Unlock()
	close(l.withdrawn)
}

// Active reports whether key is currently being announced.
func (a *Announcer) Active(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.leases[key]
	return ok
}
