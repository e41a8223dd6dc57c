package fsm

import "github.com/route-beacon/bgpspeaker/bgp"

// State is one of the five FSM states (§3). Broken is terminal; the
// only recovery is ResetHard.
type State uint8

const (
	Idle State = iota
	OpenSent
	OpenConfirm
	Established
	Broken
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case OpenSent:
		return "OpenSent"
	case OpenConfirm:
		return "OpenConfirm"
	case Established:
		return "Established"
	case Broken:
		return "Broken"
	default:
		return "Unknown"
	}
}

// Status is a point-in-time snapshot of session state, safe to read
// without holding the FSM's internal lock past the call to Status().
type Status struct {
	State            State
	LocalASN         uint32
	RemoteASN        uint32
	RemoteRouterID   [4]byte
	NegotiatedHold   uint16
	FourByteNegotiated bool
	LastRecv         uint64
	LastSent         uint64
	LastNotification *bgp.Notification
}
