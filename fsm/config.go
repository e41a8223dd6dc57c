package fsm

import (
	"github.com/route-beacon/bgpspeaker/bgp"
	"github.com/route-beacon/bgpspeaker/bus"
	"github.com/route-beacon/bgpspeaker/clock"
	"github.com/route-beacon/bgpspeaker/filter"
	"github.com/route-beacon/bgpspeaker/rib"
)

// Config enumerates everything a session needs, per §6. Fields left at
// their zero value get a sensible default in New: filters default to
// accept-everything, RIB4/RIB6 default to private per-FSM tables, Clock
// defaults to clock.Realtime{}, LogHandler defaults to NopLogger{}.
type Config struct {
	ASN      uint32
	PeerASN  uint32 // 0 = accept any
	RouterID [4]byte
	HoldTimer uint16

	Use4BAsn             bool
	MPBGPIPv6            bool
	NoCollisionDetection bool
	NoAutotick           bool
	IBGPAlterNexthop     bool

	PeeringLAN4        bgp.Prefix4
	PeeringLAN6        bgp.Prefix6
	NoNexthopCheck4    bool
	NoNexthopCheck6    bool
	DefaultNexthop4    [4]byte
	DefaultNexthop6Global    [16]byte
	DefaultNexthop6LinkLocal [16]byte
	ForcedDefaultNexthop4 bool
	ForcedDefaultNexthop6 bool

	InFilters4 *filter.List4
	OutFilters4 *filter.List4
	InFilters6 *filter.List6
	OutFilters6 *filter.List6

	AllowLocalAS bool
	Weight       int

	RIB4 *rib.Table4
	RIB6 *rib.Table6
	Bus  *bus.Bus

	Clock      clock.Clock
	LogHandler Logger
	OutHandler OutputSink
}

func (c *Config) fillDefaults() {
	if c.InFilters4 == nil {
		c.InFilters4 = filter.NewList4(filter.Accept)
	}
	if c.OutFilters4 == nil {
		c.OutFilters4 = filter.NewList4(filter.Accept)
	}
	if c.InFilters6 == nil {
		c.InFilters6 = filter.NewList6(filter.Accept)
	}
	if c.OutFilters6 == nil {
		c.OutFilters6 = filter.NewList6(filter.Accept)
	}
	if c.RIB4 == nil {
		c.RIB4 = rib.NewTable4()
	}
	if c.RIB6 == nil {
		c.RIB6 = rib.NewTable6()
	}
	if c.Clock == nil {
		c.Clock = clock.Realtime{}
	}
	if c.LogHandler == nil {
		c.LogHandler = NopLogger{}
	}
}

// isIBGP reports whether the (not yet known, so this only becomes
// meaningful post-OPEN) peer shares the local AS.
func (c *Config) isIBGP(peerASN uint32) bool { return peerASN == c.ASN }
