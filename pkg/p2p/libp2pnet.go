package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/uhyunpark/otcmatch/pkg/discovery"
)

const (
	topicAnnounce = "otc-announce/1"
	protocolMatch = protocol.ID("/otc/match/1.0.0")

	maxFrameBytes  = 64 << 10
	maxTTL         = time.Minute
	serveTimeout   = 10 * time.Second
	breakerMinReqs = 5
	breakerRatio   = 0.6
)

// Libp2pNet is the discovery substrate on top of a libp2p host.
// Registrations are gossiped on one topic and kept in a local registry with
// expiry; match requests travel on a dedicated stream protocol.
type Libp2pNet struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger
	reg   *discovery.Registry
	ttl   time.Duration
	limit ratelimit.Limiter
	mdns  *zeroconf.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	muB      sync.Mutex
	breakers map[peer.ID]*gobreaker.CircuitBreaker

	muH     sync.RWMutex
	handler discovery.Handler

	closeOnce sync.Once
	closeErr  error
}

type Libp2pConfig struct {
	ListenAddr       string
	Bootstrap        []string
	AnnounceTTL      time.Duration
	InboundRateLimit int // per second, 0 = unlimited
	MDNS             bool
	Logger           *zap.SugaredLogger
}

var _ discovery.Substrate = (*Libp2pNet)(nil)

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.AnnounceTTL <= 0 {
		cfg.AnnounceTTL = time.Second
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("listen addr: %w", err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("libp2p host: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ps, err := pubsub.NewGossipSub(runCtx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("gossipsub: %w", err)
	}

	n := &Libp2pNet{
		h:        h,
		ps:       ps,
		log:      cfg.Logger,
		reg:      discovery.NewRegistry(time.Minute),
		ttl:      cfg.AnnounceTTL,
		limit:    ratelimit.NewUnlimited(),
		ctx:      runCtx,
		cancel:   cancel,
		breakers: make(map[peer.ID]*gobreaker.CircuitBreaker),
	}
	if cfg.InboundRateLimit > 0 {
		n.limit = ratelimit.New(cfg.InboundRateLimit)
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := n.joinTopic(); err != nil {
		_ = n.Close()
		return nil, err
	}

	h.SetStreamHandler(protocolMatch, n.handleMatchStream)

	n.wg.Add(1)
	go n.handleAnnouncements()

	if cfg.MDNS {
		if err := n.startMDNS(); err != nil {
			cfg.Logger.Warnw("mdns_unavailable", "err", err)
		}
	}

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "addrs", n.Addrs())
	return n, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) joinTopic() error {
	var err error
	if n.topic, err = n.ps.Join(topicAnnounce); err != nil {
		return fmt.Errorf("join %s: %w", topicAnnounce, err)
	}
	if n.sub, err = n.topic.Subscribe(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topicAnnounce, err)
	}
	return nil
}

func (n *Libp2pNet) Host() host.Host { return n.h }

// Addrs returns dialable /p2p/ multiaddrs of this host, usable as Bootstrap entries.
func (n *Libp2pNet) Addrs() []string {
	info := peer.AddrInfo{ID: n.h.ID(), Addrs: n.h.Addrs()}
	maddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(maddrs))
	for _, m := range maddrs {
		out = append(out, m.String())
	}
	return out
}

// Connect dials a peer given one of its /p2p/ multiaddrs.
func (n *Libp2pNet) Connect(ctx context.Context, addr string) error {
	return connectMultiaddr(ctx, n.h, addr)
}

// implement discovery.Substrate

func (n *Libp2pNet) Self() discovery.PeerID { return discovery.PeerID(n.h.ID().String()) }

func (n *Libp2pNet) Announce(ctx context.Context, key string) error {
	return n.publish(ctx, opAnnounce, key)
}

func (n *Libp2pNet) StopAnnouncing(ctx context.Context, key string) error {
	n.reg.Remove(key, n.Self())
	return n.publish(ctx, opWithdraw, key)
}

func (n *Libp2pNet) publish(ctx context.Context, op, key string) error {
	if n.ctx.Err() != nil {
		return discovery.ErrClosed
	}
	addrs := make([]string, 0, len(n.h.Addrs()))
	for _, a := range n.h.Addrs() {
		addrs = append(addrs, a.String())
	}
	data, err := gobEncode(AnnounceWire{
		Op:    op,
		Key:   key,
		Peer:  n.h.ID().String(),
		Addrs: addrs,
		TTLms: n.ttl.Milliseconds(),
	})
	if err != nil {
		return err
	}
	if op == opAnnounce {
		n.reg.Put(key, n.Self(), addrs, n.ttl)
	}
	return n.topic.Publish(ctx, data)
}

func (n *Libp2pNet) Lookup(ctx context.Context, key string) ([]discovery.PeerID, error) {
	if n.ctx.Err() != nil {
		return nil, discovery.ErrClosed
	}
	return n.reg.Peers(key, n.Self()), nil
}

func (n *Libp2pNet) Request(ctx context.Context, to discovery.PeerID, key string, payload []byte) ([]byte, error) {
	if n.ctx.Err() != nil {
		return nil, discovery.ErrClosed
	}
	pid, err := peer.Decode(string(to))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", discovery.ErrUnknownPeer, err)
	}
	out, err := n.breaker(pid).Execute(func() (interface{}, error) {
		return n.roundTrip(ctx, pid, key, payload)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (n *Libp2pNet) roundTrip(ctx context.Context, pid peer.ID, key string, payload []byte) ([]byte, error) {
	s, err := n.h.NewStream(ctx, pid, protocolMatch)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}

	data, err := gobEncode(RequestWire{ID: uuid.NewString(), Key: key, Payload: payload})
	if err != nil {
		return nil, err
	}
	if _, err := s.Write(data); err != nil {
		return nil, err
	}
	if err := s.CloseWrite(); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(io.LimitReader(s, maxFrameBytes))
	if err != nil {
		return nil, err
	}
	var rep ReplyWire
	if err := gobDecode(raw, &rep); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if rep.Err != "" {
		return nil, &RemoteError{Peer: pid.String(), Msg: rep.Err}
	}
	return rep.Data, nil
}

// RemoteError is a failure reported by the serving peer.
type RemoteError struct {
	Peer string
	Msg  string
}

func (e *RemoteError) Error() string { return fmt.Sprintf("peer %s: %s", e.Peer, e.Msg) }

// breaker returns the circuit breaker for one remote peer, so that stale
// registrations of a vanished peer stop costing a dial per probe.
func (n *Libp2pNet) breaker(pid peer.ID) *gobreaker.CircuitBreaker {
	n.muB.Lock()
	defer n.muB.Unlock()
	if cb, ok := n.breakers[pid]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    pid.String(),
		Timeout: 5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinReqs && ratio >= breakerRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			n.log.Infow("peer_breaker_state", "peer", name, "from", from.String(), "to", to.String())
		},
	})
	n.breakers[pid] = cb
	return cb
}

func (n *Libp2pNet) OnRequest(h discovery.Handler) { n.muH.Lock(); n.handler = h; n.muH.Unlock() }

func (n *Libp2pNet) Close() error {
	n.closeOnce.Do(func() {
		n.cancel()
		n.h.RemoveStreamHandler(protocolMatch)
		if n.mdns != nil {
			n.mdns.Shutdown()
		}
		if n.sub != nil {
			n.sub.Cancel()
		}
		if n.topic != nil {
			if err := n.topic.Close(); err != nil {
				n.log.Debugw("topic_close_failed", "err", err)
			}
		}
		n.closeErr = n.h.Close()
		n.wg.Wait()
		n.reg.Flush()
	})
	return n.closeErr
}

// inbound

func (n *Libp2pNet) handleAnnouncements() {
	defer n.wg.Done()
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			return
		}
		var w AnnounceWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		// only the publisher may register or withdraw itself
		if w.Peer != msg.GetFrom().String() || w.Peer == n.h.ID().String() {
			continue
		}
		switch w.Op {
		case opAnnounce:
			ttl := time.Duration(w.TTLms) * time.Millisecond
			if ttl <= 0 || ttl > maxTTL {
				ttl = n.ttl
			}
			n.rememberAddrs(msg.GetFrom(), w.Addrs, ttl)
			n.reg.Put(w.Key, discovery.PeerID(w.Peer), w.Addrs, ttl)
		case opWithdraw:
			n.reg.Remove(w.Key, discovery.PeerID(w.Peer))
		}
	}
}

func (n *Libp2pNet) rememberAddrs(pid peer.ID, addrs []string, ttl time.Duration) {
	var maddrs []ma.Multiaddr
	for _, a := range addrs {
		if m, err := ma.NewMultiaddr(a); err == nil {
			maddrs = append(maddrs, m)
		}
	}
	if len(maddrs) > 0 {
		n.h.Peerstore().AddAddrs(pid, maddrs, ttl+time.Minute)
	}
}

// handleMatchStream serves one request per stream.
func (n *Libp2pNet) handleMatchStream(s network.Stream) {
	defer s.Close()
	n.limit.Take()

	raw, err := io.ReadAll(io.LimitReader(s, maxFrameBytes))
	if err != nil {
		_ = s.Reset()
		return
	}
	var req RequestWire
	if err := gobDecode(raw, &req); err != nil {
		n.writeReply(s, ReplyWire{Err: "malformed request"})
		return
	}

	n.muH.RLock()
	h := n.handler
	n.muH.RUnlock()
	if h == nil {
		n.writeReply(s, ReplyWire{Err: discovery.ErrNoHandler.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(n.ctx, serveTimeout)
	defer cancel()
	data, err := h(ctx, discovery.Request{
		ID:      req.ID,
		From:    discovery.PeerID(s.Conn().RemotePeer().String()),
		Key:     req.Key,
		Payload: req.Payload,
	})
	if err != nil {
		n.writeReply(s, ReplyWire{Err: err.Error()})
		return
	}
	n.writeReply(s, ReplyWire{Data: data})
}

func (n *Libp2pNet) writeReply(s network.Stream, rep ReplyWire) {
	data, err := gobEncode(rep)
	if err != nil {
		_ = s.Reset()
		return
	}
	_ = s.SetWriteDeadline(time.Now().Add(serveTimeout))
	if _, err := s.Write(data); err != nil && !errors.Is(err, network.ErrReset) {
		n.log.Debugw("reply_write_failed", "peer", s.Conn().RemotePeer().String(), "err", err)
	}
}

// Registry exposes the announcements this host has heard.
func (n *Libp2pNet) Registry() *discovery.Registry { return n.reg }
