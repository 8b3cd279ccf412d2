// Package node is one OTC peer: it keeps this peer's open offers, announces
// them on the discovery network, probes for complementary offers, and
// answers other peers' probes.
package node

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/uhyunpark/otcmatch/pkg/discovery"
	"github.com/uhyunpark/otcmatch/pkg/metrics"
	"github.com/uhyunpark/otcmatch/pkg/offer"
	"github.com/uhyunpark/otcmatch/pkg/storage"
	"github.com/uhyunpark/otcmatch/pkg/util"
)

var ErrNoSubstrate = errors.New("node: discovery substrate is required")

type Config struct {
	Substrate discovery.Substrate // required

	Hooks   Hooks              // default NopHooks
	Logger  *zap.SugaredLogger // default no-op
	Journal storage.Journal    // default in-memory
	Metrics *metrics.Metrics   // optional
	Clock   util.Clock         // default RealClock

	AnnounceInterval time.Duration // default 100ms
	RequestTimeout   time.Duration // default 10s
	ProbeBackoff     time.Duration // default 150ms
	ProbeRetries     int           // default 5, negative disables retries
	ShutdownGrace    time.Duration // default 500ms, negative disables
}

func (c *Config) withDefaults() {
	if c.Hooks == nil {
		c.Hooks = NopHooks{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Journal == nil {
		c.Journal = storage.NewMemJournal()
	}
	if c.Clock == nil {
		c.Clock = util.RealClock{}
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = 100 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.ProbeBackoff <= 0 {
		c.ProbeBackoff = 150 * time.Millisecond
	}
	switch {
	case c.ProbeRetries == 0:
		c.ProbeRetries = 5
	case c.ProbeRetries < 0:
		c.ProbeRetries = 0
	}
	switch {
	case c.ShutdownGrace == 0:
		c.ShutdownGrace = 500 * time.Millisecond
	case c.ShutdownGrace < 0:
		c.ShutdownGrace = 0
	}
}

type Node struct {
	cfg       Config
	self      discovery.PeerID
	sub       discovery.Substrate
	store     *offer.Store
	announcer *Announcer
	log       *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	probes sync.WaitGroup

	// settled remembers counterparty offers our probes matched, so a probe
	// of theirs that crossed ours in flight is answered NO MATCH. crossMu
	// makes recording one and removing our offer a single step for inbound
	// handlers.
	crossMu sync.RWMutex
	settled *cache.Cache

	// lifeMu orders shutdown against CreateOffer and inbound handlers: both
	// run under RLock and Destroy flips closed under Lock.
	lifeMu sync.RWMutex
	closed bool

	destroyOnce sync.Once
	destroyErr  error
}

// New starts a peer on cfg.Substrate and begins serving inbound probes.
func New(cfg Config) (*Node, error) {
	if cfg.Substrate == nil {
		return nil, ErrNoSubstrate
	}
	cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	log := cfg.Logger.With("peer", string(cfg.Substrate.Self()))
	n := &Node{
		cfg:     cfg,
		self:    cfg.Substrate.Self(),
		sub:     cfg.Substrate,
		store:   offer.NewStore(),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		settled: cache.New(2*cfg.RequestTimeout, 2*cfg.RequestTimeout),
	}
	n.announcer = NewAnnouncer(ctx, n.sub, cfg.AnnounceInterval, cfg.Clock, log)
	n.sub.OnRequest(n.handleRequest)

	log.Infow("node_started", "announce_interval_ms", cfg.AnnounceInterval.Milliseconds(), "request_timeout_ms", cfg.RequestTimeout.Milliseconds())
	return n, nil
}

func (n *Node) ID() discovery.PeerID { return n.self }

func settledKey(p discovery.PeerID, h uint64) string {
	return string(p) + "/" + strconv.FormatUint(h, 10)
}

// CreateOffer stores o, starts announcing it and probes for a counterparty
// in the background. It never fails; the zero handle is returned for an
// invalid side or after Destroy.
func (n *Node) CreateOffer(o offer.Offer) offer.Handle {
	n.lifeMu.RLock()
	defer n.lifeMu.RUnlock()
	if n.closed {
		n.log.Warnw("offer_rejected", "reason", "node destroyed", "key", offer.Key(o))
		return 0
	}
	if !o.Side.Valid() {
		n.log.Warnw("offer_rejected", "reason", "invalid side", "side", int8(o.Side))
		return 0
	}

	h := n.store.Add(o)
	n.cfg.Metrics.OfferCreated()
	n.log.Infow("offer_created", "handle", uint64(h), "key", offer.Key(o))

	n.announcer.Start(o, h)

	n.probes.Add(1)
	go n.probe(h, o)
	return h
}

// OpenOffers returns this peer's open offers in creation order.
func (n *Node) OpenOffers() []offer.Entry { return n.store.Snapshot() }

func (n *Node) IsOpen(h offer.Handle) bool { return n.store.Contains(h) }

// Announcing reports whether o's key is currently registered by this peer.
func (n *Node) Announcing(o offer.Offer) bool { return n.announcer.Active(offer.Key(o)) }

// Journal exposes the match journal, for the API.
func (n *Node) Journal() storage.Journal { return n.cfg.Journal }

// Destroy stops serving, cancels probes and announcements, waits for them,
// clears the offers, closes the substrate and waits out the grace period.
// Calling it again returns the first result.
func (n *Node) Destroy(ctx context.Context) error {
	n.destroyOnce.Do(func() {
		n.lifeMu.Lock()
		n.closed = true
		n.lifeMu.Unlock()

		n.sub.OnRequest(nil)
		n.cancel()
		n.announcer.StopAll()

		done := make(chan struct{})
		go func() {
			n.probes.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			// stragglers see closed and a closed substrate; release anyway
			n.destroyErr = ctx.Err()
			n.log.Warnw("destroy_probes_abandoned", "err", ctx.Err())
		}

		n.store.Clear()
		n.cfg.Metrics.Reset()
		if err := n.sub.Close(); err != nil && n.destroyErr == nil {
			n.destroyErr = err
		}
		if n.destroyErr == nil {
			n.destroyErr = util.Sleep(ctx, n.cfg.Clock, n.cfg.ShutdownGrace)
		}
		n.log.Infow("node_destroyed")
	})
	return n.destroyErr
}

// settle records that entry was consumed by a match with counterparty.
func (n *Node) settle(entry offer.Entry, role storage.Role, counterparty discovery.PeerID) {
	m := Match{
		ID:           uuid.NewString(),
		Handle:       entry.Handle,
		Offer:        entry.Offer,
		Role:         role,
		Counterparty: counterparty,
		Time:         n.cfg.Clock.Now(),
	}
	n.cfg.Metrics.Matched(string(role))
	n.cfg.Metrics.OfferClosed()
	if err := n.cfg.Journal.Record(storage.MatchRecord{
		ID:           m.ID,
		Handle:       uint64(m.Handle),
		Key:          offer.Key(m.Offer),
		Role:         role,
		Counterparty: string(counterparty),
		Time:         m.Time,
	}); err != nil {
		n.log.Errorw("journal_record_failed", "match", m.ID, "err", err)
	}
	n.log.Infow("offer_matched", "handle", uint64(entry.Handle), "key", offer.Key(entry.Offer), "role", role, "counterparty", counterparty)
	n.cfg.Hooks.OnOfferMatched(m)
}
