package rib

import (
	"net/netip"
	"sync"

	radix "github.com/armon/go-radix"

	"github.com/route-beacon/bgpspeaker/bgp"
)

// Entry4 is one IPv4 RIB entry (§3): a prefix learned from one source,
// carrying a shared attribute bundle.
type Entry4 struct {
	Prefix  bgp.Prefix4
	SrcID   [4]byte
	Bundle  Bundle
	Weight  int
	NextHop [4]byte
}

func (e *Entry4) asPathLength() int {
	if e == nil {
		return 0
	}
	if ap, ok := e.Bundle.Attrs.Get(bgp.AttrASPath); ok {
		return ap.ASPath.Length()
	}
	return 0
}

// better4 implements the §4.4 best-path tiebreak: higher weight, then
// shorter AS_PATH, then retain the incumbent.
func better4(candidate, incumbent *Entry4) bool {
	if incumbent == nil {
		return true
	}
	if candidate.Weight != incumbent.Weight {
		return candidate.Weight > incumbent.Weight
	}
	if candidate.asPathLength() != incumbent.asPathLength() {
		return candidate.asPathLength() < incumbent.asPathLength()
	}
	return false
}

type slot4 struct {
	prefix  bgp.Prefix4
	entries map[[4]byte]*Entry4
	best    *Entry4
}

// recomputeBest returns the slot's best entry among all src-ids,
// stability-preferring the current incumbent on a tie (§4.4).
func (s *slot4) recomputeBest() *Entry4 {
	var best *Entry4
	if s.best != nil {
		if _, stillPresent := s.entries[s.best.SrcID]; stillPresent {
			best = s.entries[s.best.SrcID]
		}
	}
	for _, e := range s.entries {
		if e == best {
			continue
		}
		if better4(e, best) {
			best = e
		}
	}
	return best
}

// Table4 is the per-AFI IPv4 RIB (§4.4), backed by a radix tree over
// prefix bit-strings for longest-prefix-match lookup.
type Table4 struct {
	mu   sync.Mutex
	tree *radix.Tree

	localGroups map[[4]byte]Bundle // nexthop -> shared local bundle
}

func NewTable4() *Table4 {
	return &Table4{tree: radix.New(), localGroups: map[[4]byte]Bundle{}}
}

func (t *Table4) slotFor(p bgp.Prefix4) *slot4 {
	key := bitString4(p.Addr, p.Length)
	if v, ok := t.tree.Get(key); ok {
		return v.(*slot4)
	}
	s := &slot4{prefix: p.Masked(), entries: map[[4]byte]*Entry4{}}
	t.tree.Insert(key, s)
	return s
}

// LocalInsert creates a synthetic src-id=0 entry with a minimal
// attribute set, grouping by nexthop (§4.4).
func (t *Table4) LocalInsert(prefix bgp.Prefix4, nexthop [4]byte, weight int) (best *Entry4, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bundle, ok := t.localGroups[nexthop]
	if !ok {
		attrs := bgp.AttributeList{
			{Type: bgp.AttrOrigin, Flags: bgp.AttrFlags{Transitive: true}, Origin: bgp.OriginIGP},
			{Type: bgp.AttrNextHop, Flags: bgp.AttrFlags{Transitive: true}, NextHop: nexthop},
			{Type: bgp.AttrASPath, Flags: bgp.AttrFlags{Transitive: true}},
		}
		bundle = NewBundle(attrs)
		t.localGroups[nexthop] = bundle
	}

	return t.insert(prefix, [4]byte{}, bundle, weight, nexthop)
}

// PeerInsert inserts or replaces the entry for (prefix, srcID) learned
// from a peer, returning the prefix's new best entry and whether it
// changed (§4.4).
func (t *Table4) PeerInsert(srcID [4]byte, prefix bgp.Prefix4, bundle Bundle, weight int, nexthop [4]byte) (best *Entry4, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insert(prefix, srcID, bundle, weight, nexthop)
}

func (t *Table4) insert(prefix bgp.Prefix4, srcID [4]byte, bundle Bundle, weight int, nexthop [4]byte) (best *Entry4, changed bool) {
	s := t.slotFor(prefix)
	candidate := &Entry4{Prefix: prefix.Masked(), SrcID: srcID, Bundle: bundle, Weight: weight, NextHop: nexthop}

	existing, hadExisting := s.entries[srcID]
	if hadExisting && !better4(candidate, existing) {
		// Not strictly better than the existing entry for this
		// src-id: discarded, per §4.4.
		return s.best, false
	}
	s.entries[srcID] = candidate

	prevBest := s.best
	s.best = s.recomputeBest()
	return s.best, s.best != prevBest
}

// Withdraw removes the entry for (srcID, prefix); if it was best,
// reports the slot's new best (possibly nil).
func (t *Table4) Withdraw(srcID [4]byte, prefix bgp.Prefix4) (newBest *Entry4, changed, existed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := bitString4(prefix.Addr, prefix.Length)
	v, ok := t.tree.Get(key)
	if !ok {
		return nil, false, false
	}
	s := v.(*slot4)
	if _, ok := s.entries[srcID]; !ok {
		return s.best, false, false
	}
	wasBest := s.best != nil && s.best.SrcID == srcID
	delete(s.entries, srcID)
	if len(s.entries) == 0 {
		t.tree.Delete(key)
		if wasBest {
			return nil, true, true
		}
		return nil, false, true
	}
	if !wasBest {
		return s.best, false, true
	}
	s.best = s.recomputeBest()
	return s.best, true, true
}

// Discard removes every entry whose src-id matches, returning the
// prefixes that became unreachable and those that merely changed best
// (§4.4).
func (t *Table4) Discard(srcID [4]byte) (unreachable, changedOnly []bgp.Prefix4) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var keysToDelete []string
	t.tree.Walk(func(key string, v interface{}) bool {
		s := v.(*slot4)
		if _, ok := s.entries[srcID]; !ok {
			return false
		}
		wasBest := s.best != nil && s.best.SrcID == srcID
		delete(s.entries, srcID)
		if len(s.entries) == 0 {
			keysToDelete = append(keysToDelete, key)
			if wasBest {
				unreachable = append(unreachable, s.prefix)
			}
			return false
		}
		if wasBest {
			s.best = s.recomputeBest()
			changedOnly = append(changedOnly, s.prefix)
		}
		return false
	})
	for _, k := range keysToDelete {
		t.tree.Delete(k)
	}
	return unreachable, changedOnly
}

// Lookup performs a longest-prefix-match best-path lookup for addr.
func (t *Table4) Lookup(addr netip.Addr) (*Entry4, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := bitString(addr.AsSlice(), 32)
	_, v, ok := t.tree.LongestPrefix(key)
	if !ok {
		return nil, false
	}
	s := v.(*slot4)
	return s.best, s.best != nil
}

// LookupSrc returns the specific (srcID, addr's covering prefix) entry,
// ignoring best-path selection.
func (t *Table4) LookupSrc(srcID [4]byte, addr netip.Addr) (*Entry4, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := bitString(addr.AsSlice(), 32)
	_, v, ok := t.tree.LongestPrefix(key)
	if !ok {
		return nil, false
	}
	s := v.(*slot4)
	e, ok := s.entries[srcID]
	return e, ok
}

// Walk invokes fn for every (prefix, best-entry) slot currently
// present. fn must not mutate the table.
func (t *Table4) Walk(fn func(bgp.Prefix4, *Entry4)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.Walk(func(_ string, v interface{}) bool {
		s := v.(*slot4)
		if s.best != nil {
			fn(s.prefix, s.best)
		}
		return false
	})
}
