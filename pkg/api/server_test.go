package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/otcmatch/pkg/discovery"
	"github.com/uhyunpark/otcmatch/pkg/metrics"
	"github.com/uhyunpark/otcmatch/pkg/node"
	"github.com/uhyunpark/otcmatch/pkg/offer"
)

type testEnv struct {
	net    *discovery.Network
	node   *node.Node
	hub    *Hub
	server *httptest.Server
}

func newTestEnv(t *testing.T, id discovery.PeerID) *testEnv {
	t.Helper()
	net := discovery.NewNetwork()
	return newTestEnvOn(t, net, id)
}

func newTestEnvOn(t *testing.T, net *discovery.Network, id discovery.PeerID) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil)
	go hub.Run(ctx)

	m := metrics.New()
	n, err := node.New(node.Config{
		Substrate:        net.Join(id),
		Hooks:            hub,
		Metrics:          m,
		AnnounceInterval: 10 * time.Millisecond,
		RequestTimeout:   2 * time.Second,
		ShutdownGrace:    -1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Destroy(context.Background()) })

	s := NewServer(ServerConfig{Node: n, Hub: hub, Metrics: m, AllowedOrigins: []string{"*"}})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{net: net, node: n, hub: hub, server: ts}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestCreateAndListOffers(t *testing.T) {
	env := newTestEnv(t, "peer-a")

	resp := env.post(t, "/api/v1/offers", `{"side":"sell","quantity":"1.5","price":42000}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created CreateOfferResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotZero(t, created.Handle)
	assert.Equal(t, "offer_SELL_1.5_42000", created.Key)

	var offers []OfferInfo
	require.Equal(t, http.StatusOK, env.get(t, "/api/v1/offers", &offers))
	require.Len(t, offers, 1)
	assert.Equal(t, OfferInfo{Handle: created.Handle, Side: "SELL", Quantity: "1.5", Price: "42000", Key: created.Key}, offers[0])

	var health NodeStatus
	require.Equal(t, http.StatusOK, env.get(t, "/health", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "peer-a", health.Peer)
	assert.Equal(t, 1, health.OpenOffers)
}

func TestCreateOffer_BadRequests(t *testing.T) {
	env := newTestEnv(t, "peer-a")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", `{`, "invalid request body"},
		{"bad side", `{"side":"hold","quantity":1,"price":1}`, "invalid side"},
		{"bad number", `{"side":"BUY","quantity":"abc","price":1}`, "invalid request body"},
		{"huge exponent", `{"side":"BUY","quantity":"1e200000000","price":1}`, "invalid quantity"},
		{"tiny exponent", `{"side":"SELL","quantity":1,"price":"1e-200000000"}`, "invalid price"},
		{"long coefficient", `{"side":"SELL","quantity":1,"price":"` + strings.Repeat("9", 100) + `"}`, "invalid price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, "/api/v1/offers", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var e ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.Equal(t, tt.want, e.Error)
		})
	}
	assert.Empty(t, env.node.OpenOffers())
}

func TestCreateOffer_AfterDestroy(t *testing.T) {
	env := newTestEnv(t, "peer-a")
	require.NoError(t, env.node.Destroy(context.Background()))

	resp := env.post(t, "/api/v1/offers", `{"side":"BUY","quantity":1,"price":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDecodeKey(t *testing.T) {
	env := newTestEnv(t, "peer-a")

	var info KeyInfo
	require.Equal(t, http.StatusOK, env.get(t, "/api/v1/keys/offer_BUY_-2.25_0", &info))
	assert.Equal(t, KeyInfo{
		Key:        "offer_BUY_-2.25_0",
		Side:       "BUY",
		Quantity:   "-2.25",
		Price:      "0",
		Complement: "offer_SELL_-2.25_0",
	}, info)

	var e ErrorResponse
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/v1/keys/offer_BUY_1e2_1", &e))
	assert.Equal(t, "malformed key", e.Error)
}

func TestMatchesAndMetrics(t *testing.T) {
	net := discovery.NewNetwork()
	a := newTestEnvOn(t, net, "peer-a")
	b := newTestEnvOn(t, net, "peer-b")

	require.Equal(t, http.StatusCreated, a.post(t, "/api/v1/offers", `{"side":"SELL","quantity":100,"price":1000}`).StatusCode)
	require.Eventually(t, func() bool {
		return len(net.Registry().Peers("offer_SELL_100_1000", "")) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, http.StatusCreated, b.post(t, "/api/v1/offers", `{"side":"BUY","quantity":100,"price":1000}`).StatusCode)

	require.Eventually(t, func() bool {
		var recs []json.RawMessage
		return a.get(t, "/api/v1/matches", &recs) == http.StatusOK && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var recs []struct {
		Key          string `json:"key"`
		Role         string `json:"role"`
		Counterparty string `json:"counterparty"`
	}
	require.Equal(t, http.StatusOK, a.get(t, "/api/v1/matches?limit=5", &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "offer_SELL_100_1000", recs[0].Key)
	assert.Equal(t, "responder", recs[0].Role)
	assert.Equal(t, "peer-b", recs[0].Counterparty)

	var e ErrorResponse
	assert.Equal(t, http.StatusBadRequest, a.get(t, "/api/v1/matches?limit=zero", &e))

	resp, err := http.Get(a.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `otc_matches_total{role="responder"} 1`)
	assert.Contains(t, string(body), "otc_offers_created_total 1")
}

func TestWebSocketMatchFeed(t *testing.T) {
	net := discovery.NewNetwork()
	a := newTestEnvOn(t, net, "peer-a")
	b := newTestEnvOn(t, net, "peer-b")

	wsURL := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ChannelMatches}}))
	require.Eventually(t, func() bool { return a.hub.Subscribers(ChannelMatches) == 1 }, time.Second, 5*time.Millisecond)

	ha := a.node.CreateOffer(offer.NewFromInt(offer.Sell, 7, 70))
	require.Eventually(t, func() bool {
		return len(net.Registry().Peers("offer_SELL_7_70", "")) == 1
	}, time.Second, 5*time.Millisecond)
	b.node.CreateOffer(offer.NewFromInt(offer.Buy, 7, 70))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev MatchEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "match", ev.Type)
	assert.Equal(t, uint64(ha), ev.Handle)
	assert.Equal(t, "offer_SELL_7_70", ev.Key)
	assert.Equal(t, "responder", ev.Role)
	assert.Equal(t, "peer-b", ev.Counterparty)
}
