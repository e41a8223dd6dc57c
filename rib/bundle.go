package rib

import (
	"sync/atomic"

	"github.com/route-beacon/bgpspeaker/bgp"
)

// Bundle is a shared attribute bundle stamped with an update-group-id
// (§3): multiple RIB entries created from the same Update, or the same
// local nexthop, share one Bundle so the FSM can later group them back
// into a single outgoing Update (§4.6.4). Attrs must not be mutated
// after the Bundle is built — callers that need to alter it for egress
// clone first (§9).
type Bundle struct {
	GroupID uint64
	Attrs   bgp.AttributeList
}

var nextGroupID atomic.Uint64

// NewBundle stamps attrs with a fresh, monotonically increasing
// update-group-id.
func NewBundle(attrs bgp.AttributeList) Bundle {
	return Bundle{GroupID: nextGroupID.Add(1), Attrs: attrs}
}
