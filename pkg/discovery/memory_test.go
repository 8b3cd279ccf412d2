package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Expiry(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Put("k", "a", nil, 50*time.Millisecond)
	r.Put("k", "b", nil, time.Minute)
	r.Put("other", "a", nil, time.Minute)

	assert.Equal(t, []PeerID{"a", "b"}, r.Peers("k", ""))
	assert.Equal(t, []PeerID{"b"}, r.Peers("k", "a"))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []PeerID{"b"}, r.Peers("k", ""))

	r.RemovePeer("a")
	assert.Empty(t, r.Peers("other", ""))
	r.Remove("k", "b")
	assert.Empty(t, r.Peers("k", ""))
}

func TestMemPeer_AnnounceLookupRequest(t *testing.T) {
	net := NewNetwork()
	a := net.Join("a")
	b := net.Join("b")
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	b.OnRequest(func(ctx context.Context, req Request) ([]byte, error) {
		assert.Equal(t, PeerID("a"), req.From)
		assert.NotEmpty(t, req.ID)
		return append([]byte("echo:"), req.Payload...), nil
	})

	require.NoError(t, b.Announce(ctx, "offer_BUY_1_1"))
	peers, err := a.Lookup(ctx, "offer_BUY_1_1")
	require.NoError(t, err)
	require.Equal(t, []PeerID{"b"}, peers)

	// announcers never see themselves
	peers, err = b.Lookup(ctx, "offer_BUY_1_1")
	require.NoError(t, err)
	assert.Empty(t, peers)

	reply, err := a.Request(ctx, "b", "offer_BUY_1_1", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(reply))

	require.NoError(t, b.StopAnnouncing(ctx, "offer_BUY_1_1"))
	peers, _ = a.Lookup(ctx, "offer_BUY_1_1")
	assert.Empty(t, peers)
}

func TestMemPeer_RequestErrors(t *testing.T) {
	net := NewNetwork()
	a := net.Join("a")
	b := net.Join("b")

	_, err := a.Request(context.Background(), "nobody", "k", nil)
	assert.ErrorIs(t, err, ErrUnknownPeer)

	_, err = a.Request(context.Background(), "b", "k", nil)
	assert.ErrorIs(t, err, ErrNoHandler)

	net.Latency = func(from, to PeerID) time.Duration { return time.Second }
	b.OnRequest(func(ctx context.Context, req Request) ([]byte, error) { return nil, nil })
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = a.Request(ctx, "b", "k", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, err = a.Request(context.Background(), "b", "k", nil)
	assert.ErrorIs(t, err, ErrUnknownPeer)
}
