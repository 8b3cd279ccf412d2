package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/otcmatch/pkg/discovery"
	"github.com/uhyunpark/otcmatch/pkg/offer"
	"github.com/uhyunpark/otcmatch/pkg/util"
)

func TestAnnouncer_RefreshOutlivesTTL(t *testing.T) {
	net := discovery.NewNetwork()
	net.TTL = 40 * time.Millisecond
	peer := net.Join("peer-a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewAnnouncer(ctx, peer, 10*time.Millisecond, util.RealClock{}, zap.NewNop().Sugar())
	o := offer.NewFromInt(offer.Sell, 5, 500)
	a.Start(o, 1)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []discovery.PeerID{"peer-a"}, net.Registry().Peers(offer.Key(o), ""))

	a.Stop(o, 1)
	assert.False(t, a.Active(offer.Key(o)))
	assert.Empty(t, net.Registry().Peers(offer.Key(o), ""))

	// registrations are not refreshed once stopped
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, net.Registry().Peers(offer.Key(o), ""))
}

func TestAnnouncer_SharedKeyIsRefCounted(t *testing.T) {
	net := discovery.NewNetwork()
	peer := net.Join("peer-a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewAnnouncer(ctx, peer, 10*time.Millisecond, util.RealClock{}, zap.NewNop().Sugar())
	o := offer.NewFromInt(offer.Buy, 1, 1)
	key := offer.Key(o)

	a.Start(o, 1)
	a.Start(o, 2)
	require.Eventually(t, func() bool { return len(net.Registry().Peers(key, "")) == 1 }, time.Second, 2*time.Millisecond)

	a.Stop(o, 1)
	assert.True(t, a.Active(key))
	a.Stop(o, 1) // already stopped
	assert.True(t, a.Active(key))
	a.Stop(o, 99) // never started
	assert.True(t, a.Active(key))

	a.Stop(o, 2)
	assert.False(t, a.Active(key))
	assert.Empty(t, net.Registry().Peers(key, ""))
	a.Stop(o, 2)
}

func TestAnnouncer_StopAll(t *testing.T) {
	net := discovery.NewNetwork()
	peer := net.Join("peer-a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewAnnouncer(ctx, peer, 10*time.Millisecond, util.RealClock{}, zap.NewNop().Sugar())
	buy, sell := offer.NewFromInt(offer.Buy, 1, 1), offer.NewFromInt(offer.Sell, 2, 2)
	a.Start(buy, 1)
	a.Start(sell, 2)
	require.Eventually(t, func() bool { return net.Registry().Len() == 2 }, time.Second, 2*time.Millisecond)

	a.StopAll()
	assert.False(t, a.Active(offer.Key(buy)))
	assert.False(t, a.Active(offer.Key(sell)))
	assert.Empty(t, net.Registry().Peers(offer.Key(buy), ""))
	assert.Empty(t, net.Registry().Peers(offer.Key(sell), ""))

	a.Stop(buy, 1)
	a.StopAll()
}

// slowWithdrawPeer holds StopAnnouncing until gate is closed.
type slowWithdrawPeer struct {
	*discovery.MemPeer
	entered chan struct{}
	gate    chan struct{}
}

func (p *slowWithdrawPeer) StopAnnouncing(ctx context.Context, key string) error {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.gate
	return p.MemPeer.StopAnnouncing(ctx, key)
}

func TestAnnouncer_RestartDuringWithdrawKeepsKey(t *testing.T) {
	net := discovery.NewNetwork()
	net.TTL = time.Hour
	peer := &slowWithdrawPeer{MemPeer: net.Join("peer-a"), entered: make(chan struct{}, 1), gate: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// one announcement per lease; a lost registration is not refreshed
	a := NewAnnouncer(ctx, peer, time.Hour, util.RealClock{}, zap.NewNop().Sugar())
	o := offer.NewFromInt(offer.Sell, 6, 60)
	key := offer.Key(o)

	a.Start(o, 1)
	require.Eventually(t, func() bool { return len(net.Registry().Peers(key, "")) == 1 }, time.Second, 2*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		a.Stop(o, 1)
		close(stopped)
	}()
	<-peer.entered

	a.Start(o, 2)
	assert.True(t, a.Active(key))
	close(peer.gate)
	<-stopped

	require.Eventually(t, func() bool { return len(net.Registry().Peers(key, "")) == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []discovery.PeerID{"peer-a"}, net.Registry().Peers(key, ""))
	assert.True(t, a.Active(key))
}
