package offer

import (
	"container/list"
	"sync"
)

// Handle identifies one stored offer. Handles are never reused, so a stale
// handle can only miss, never hit a different offer.
type Handle uint64

// Entry is a stored offer together with its handle.
type Entry struct {
	Handle Handle
	Offer  Offer
}

type ClaimResult int

const (
	NotFound ClaimResult = iota
	Claimed
	Busy // complementary offers exist but are all reserved by in-flight probes
)

func (r ClaimResult) String() string {
	switch r {
	case Claimed:
		return "claimed"
	case Busy:
		return "busy"
	default:
		return "not_found"
	}
}

type storeEntry struct {
	Entry
	// peer currently being probed on behalf of this offer ("" if none)
	reservedFor string
}

// Store is the set of this peer's open offers.
//
// Every method takes the same mutex: the responder and the initiator both
// consume offers from here, and at-most-once consumption depends on the
// find+remove step being atomic.
type Store struct {
	mu       sync.Mutex
	next     Handle
	order    *list.List // *storeEntry in insertion order
	byHandle map[Handle]*list.Element
}

func NewStore() *Store {
	return &Store{
		order:    list.New(),
		byHandle: make(map[Handle]*list.Element),
	}
}

// Add appends an offer and returns its handle. Duplicate terms are allowed.
func (s *Store) Add(o Offer) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.byHandle[h] = s.order.PushBack(&storeEntry{Entry: Entry{Handle: h, Offer: o}})
	return h
}

// FindAndRemoveComplementary removes the earliest unreserved offer that
// complements candidate.
func (s *Store) FindAndRemoveComplementary(candidate Offer) (Entry, bool) {
	e, res := s.Claim(candidate, "", false)
	return e, res == Claimed
}

// Claim is FindAndRemoveComplementary for a request from peer requester.
//
// If one of our complementary offers is reserved for requester, our probe
// and theirs cross. With preempt set we serve theirs and may take that
// reserved offer. Without it the result is Busy even when an unreserved
// complementary offer exists, since our own probe will be served by
// requester. Offers reserved for other peers are skipped; when nothing
// else is available the result is Busy.
func (s *Store) Claim(candidate Offer, requester string, preempt bool) (Entry, ClaimResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requester != "" && !preempt {
		for el := s.order.Front(); el != nil; el = el.Next() {
			se := el.Value.(*storeEntry)
			if se.reservedFor == requester && Complements(se.Offer, candidate) {
				return Entry{}, Busy
			}
		}
	}

	busy := false
	for el := s.order.Front(); el != nil; el = el.Next() {
		se := el.Value.(*storeEntry)
		if !Complements(se.Offer, candidate) {
			continue
		}
		if se.reservedFor != "" && !(preempt && se.reservedFor == requester) {
			busy = true
			continue
		}
		s.removeLocked(el)
		return se.Entry, Claimed
	}
	if busy {
		return Entry{}, Busy
	}
	return Entry{}, NotFound
}

// RemoveByIdentity removes the offer behind h. It returns false when the
// offer is already gone, e.g. consumed by an inbound match.
func (s *Store) RemoveByIdentity(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.byHandle[h]
	if !ok {
		return false
	}
	s.removeLocked(el)
	return true
}

// Reserve marks h as being probed against target. Returns false if h is gone.
func (s *Store) Reserve(h Handle, target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.byHandle[h]
	if !ok {
		return false
	}
	el.Value.(*storeEntry).reservedFor = target
	return true
}

// Release clears the reservation on h, if h is still stored.
func (s *Store) Release(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.byHandle[h]; ok {
		el.Value.(*storeEntry).reservedFor = ""
	}
}

func (s *Store) Contains(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byHandle[h]
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Snapshot returns the open offers in insertion order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*storeEntry).Entry)
	}
	return out
}

// Clear drops every offer. Handles keep counting up.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Init()
	s.byHandle = make(map[Handle]*list.Element)
}

func (s *Store) removeLocked(el *list.Element) {
	se := el.Value.(*storeEntry)
	delete(s.byHandle, se.Handle)
	s.order.Remove(el)
}
