package api

import (
	"github.com/shopspring/decimal"
)

// API request/response types for REST endpoints and WebSocket messages

// ==============================
// REST Types
// ==============================

// CreateOfferRequest is the payload for POST /api/v1/offers.
// Quantity and price accept JSON numbers or strings.
type CreateOfferRequest struct {
	Side     string          `json:"side"` // "BUY" or "SELL", case-insensitive
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type CreateOfferResponse struct {
	Handle uint64 `json:"handle"`
	Key    string `json:"key"`
}

// OfferInfo is one open offer of this peer.
type OfferInfo struct {
	Handle   uint64 `json:"handle"`
	Side     string `json:"side"`
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
	Key      string `json:"key"`
}

// KeyInfo is a decoded discovery key.
type KeyInfo struct {
	Key        string `json:"key"`
	Side       string `json:"side"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price"`
	Complement string `json:"complement"` // key a counterparty would announce
}

type NodeStatus struct {
	Status     string `json:"status"`
	Peer       string `json:"peer"`
	OpenOffers int    `json:"openOffers"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// Channels a client may subscribe to.
const (
	ChannelRequests = "requests"
	ChannelMatches  = "matches"
)

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["matches"]
}

// RequestEvent is broadcast for every inbound match request.
type RequestEvent struct {
	Type      string `json:"type"` // "request"
	ID        string `json:"id"`
	From      string `json:"from"`
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// MatchEvent is broadcast when one of our offers is consumed.
type MatchEvent struct {
	Type         string `json:"type"` // "match"
	ID           string `json:"id"`
	Handle       uint64 `json:"handle"`
	Key          string `json:"key"`
	Role         string `json:"role"`
	Counterparty string `json:"counterparty"`
	Timestamp    int64  `json:"timestamp"`
}
