package node

import "encoding/json"

// Reply messages. "MATCH" and "NO MATCH" keep the original wording.
const (
	ReplyMatch   = "MATCH"
	ReplyNoMatch = "NO MATCH"
	ReplyBusy    = "BUSY" // the wanted offer is reserved by the responder's own probe; retry later
)

type ProbeRequest struct {
	From   string `json:"from"`
	Offer  string `json:"offer"`            // requester's own offer key
	Handle uint64 `json:"handle,omitempty"` // requester's handle for that offer
}

type ProbeReply struct {
	Msg    string `json:"msg"`
	Handle uint64 `json:"handle,omitempty"` // on MATCH, the responder's consumed handle
}

func encodeProbe(p ProbeRequest) []byte {
	b, _ := json.Marshal(p)
	return b
}

func encodeReply(msg string) []byte {
	return encodeProbeReply(ProbeReply{Msg: msg})
}

func encodeProbeReply(r ProbeReply) []byte {
	b, _ := json.Marshal(r)
	return b
}

// decodeReply treats anything unreadable as NO MATCH.
func decodeReply(b []byte) ProbeReply {
	var r ProbeReply
	if err := json.Unmarshal(b, &r); err != nil {
		return ProbeReply{Msg: ReplyNoMatch}
	}
	switch r.Msg {
	case ReplyMatch, ReplyBusy:
		return r
	default:
		return ProbeReply{Msg: ReplyNoMatch}
	}
}
