package rib

import (
	"net/netip"
	"sync"

	radix "github.com/armon/go-radix"

	"github.com/route-beacon/bgpspeaker/bgp"
)

// Entry6 is one IPv6 RIB entry, the AFI=IPv6 counterpart of Entry4.
type Entry6 struct {
	Prefix  bgp.Prefix6
	SrcID   [4]byte
	Bundle  Bundle
	Weight  int
	NextHop [16]byte
}

func (e *Entry6) asPathLength() int {
	if e == nil {
		return 0
	}
	if ap, ok := e.Bundle.Attrs.Get(bgp.AttrASPath); ok {
		return ap.ASPath.Length()
	}
	return 0
}

func better6(candidate, incumbent *Entry6) bool {
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

type slot6 struct {
	prefix  bgp.Prefix6
	entries map[[4]byte]*Entry6
	best    *Entry6
}

func (s *slot6) recomputeBest() *Entry6 {
	var best *Entry6
	if s.best != nil {
		if _, stillPresent := s.entries[s.best.SrcID]; stillPresent {
			best = s.entries[s.best.SrcID]
		}
	}
	for _, e := range s.entries {
		if e == best {
			continue
		}
		if better6(e, best) {
			best = e
		}
	}
	return best
}

// Table6 is the per-AFI IPv6 RIB.
type Table6 struct {
	mu   sync.Mutex
	tree *radix.Tree

	localGroups map[[16]byte]Bundle
}

func NewTable6() *Table6 {
	return &Table6{tree: radix.New(), localGroups: map[[16]byte]Bundle{}}
}

func (t *Table6) slotFor(p bgp.Prefix6) *slot6 {
	key := bitString6(p.Addr, p.Length)
	if v, ok := t.tree.Get(key); ok {
		return v.(*slot6)
	}
	s := &slot6{prefix: p.Masked(), entries: map[[4]byte]*Entry6{}}
	t.tree.Insert(key, s)
	return s
}

func (t *Table6) LocalInsert(prefix bgp.Prefix6, nexthop [16]byte, weight int) (best *Entry6, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bundle, ok := t.localGroups[nexthop]
	if !ok {
		attrs := bgp.AttributeList{
			{Type: bgp.AttrASPath, Flags: bgp.AttrFlags{Transitive: true}},
			{
				Type: bgp.AttrMPReachNLRI, Flags: bgp.AttrFlags{Optional: true},
				AFI: bgp.AFIIPv6, SAFI: bgp.SAFIUnicast,
			},
		}
		attrs[1].MPReach.NextHopGlobal = nexthop
		bundle = NewBundle(attrs)
		t.localGroups[nexthop] = bundle
	}
	return t.insert(prefix, [4]byte{}, bundle, weight, nexthop)
}

func (t *Table6) PeerInsert(srcID [4]byte, prefix bgp.Prefix6, bundle Bundle, weight int, nexthop [16]byte) (best *Entry6, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insert(prefix, srcID, bundle, weight, nexthop)
}

func (t *Table6) insert(prefix bgp.Prefix6, srcID [4]byte, bundle Bundle, weight int, nexthop [16]byte) (best *Entry6, changed bool) {
	s := t.slotFor(prefix)
	candidate := &Entry6{Prefix: prefix.Masked(), SrcID: srcID, Bundle: bundle, Weight: weight, NextHop: nexthop}

	existing, hadExisting := s.entries[srcID]
	if hadExisting && !better6(candidate, existing) {
		return s.best, false
	}
	s.entries[srcID] = candidate

	prevBest := s.best
	s.best = s.recomputeBest()
	return s.best, s.best != prevBest
}

func (t *Table6) Withdraw(srcID [4]byte, prefix bgp.Prefix6) (newBest *Entry6, changed, existed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := bitString6(prefix.Addr, prefix.Length)
	v, ok := t.tree.Get(key)
	if !ok {
		return nil, false, false
	}
	s := v.(*slot6)
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

func (t *Table6) Discard(srcID [4]byte) (unreachable, changedOnly []bgp.Prefix6) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var keysToDelete []string
	t.tree.Walk(func(key string, v interface{}) bool {
		s := v.(*slot6)
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

func (t *Table6) Lookup(addr netip.Addr) (*Entry6, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := bitString(addr.AsSlice(), 128)
	_, v, ok := t.tree.LongestPrefix(key)
	if !ok {
		return nil, false
	}
	s := v.(*slot6)
	return s.best, s.best != nil
}

func (t *Table6) LookupSrc(srcID [4]byte, addr netip.Addr) (*Entry6, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := bitString(addr.AsSlice(), 128)
	_, v, ok := t.tree.LongestPrefix(key)
	if !ok {
		return nil, false
	}
	s := v.(*slot6)
	e, ok := s.entries[srcID]
	return e, ok
}

func (t *Table6) Walk(fn func(bgp.Prefix6, *Entry6)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.Walk(func(_ string, v interface{}) bool {
		s := v.(*slot6)
		if s.best != nil {
			fn(s.prefix, s.best)
		}
		return false
	})
}
