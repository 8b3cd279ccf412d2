package discovery

import (
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Registry holds the announcements a peer has heard about, each with its own
// expiry. Both the in-memory network and the libp2p substrate keep one.
type Registry struct {
	c *cache.Cache
}

type Registration struct {
	Key    string
	Peer   PeerID
	Addrs  []string
	Expiry time.Time
}

const registrySep = "\x00"

func NewRegistry(cleanup time.Duration) *Registry {
	return &Registry{c: cache.New(cache.NoExpiration, cleanup)}
}

func registryKey(key string, p PeerID) string { return key + registrySep + string(p) }

// Put adds or refreshes a registration for ttl.
func (r *Registry) Put(key string, p PeerID, addrs []string, ttl time.Duration) {
	r.c.Set(registryKey(key, p), Registration{
		Key:    key,
		Peer:   p,
		Addrs:  addrs,
		Expiry: time.Now().Add(ttl),
	}, ttl)
}

func (r *Registry) Remove(key string, p PeerID) {
	r.c.Delete(registryKey(key, p))
}

// RemovePeer drops every registration made by p.
func (r *Registry) RemovePeer(p PeerID) {
	suffix := registrySep + string(p)
	for k := range r.c.Items() {
		if strings.HasSuffix(k, suffix) {
			r.c.Delete(k)
		}
	}
}

// Lookup returns the live registrations for key, ordered by peer id.
func (r *Registry) Lookup(key string) []Registration {
	prefix := key + registrySep
	var out []Registration
	for k, item := range r.c.Items() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, item.Object.(Registration))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Peers is Lookup reduced to peer ids, without exclude.
func (r *Registry) Peers(key string, exclude PeerID) []PeerID {
	var out []PeerID
	for _, reg := range r.Lookup(key) {
		if reg.Peer != exclude {
			out = append(out, reg.Peer)
		}
	}
	return out
}

func (r *Registry) Len() int { return r.c.ItemCount() }

func (r *Registry) Flush() { r.c.Flush() }
