package p2p

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(AnnounceWire{})
	gob.Register(RequestWire{})
	gob.Register(ReplyWire{})
}

const (
	opAnnounce = "announce"
	opWithdraw = "withdraw"
)

// AnnounceWire is gossiped on the announce topic.
type AnnounceWire struct {
	Op    string
	Key   string
	Peer  string   // publisher's peer id, must match the gossip source
	Addrs []string // publisher's listen multiaddrs
	TTLms int64
}

// RequestWire / ReplyWire are exchanged on one match stream.
type RequestWire struct {
	ID      string
	Key     string
	Payload []byte
}

type ReplyWire struct {
	Data []byte
	Err  string // handler or serving error, empty on success
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
