package bgp

// Error codes and subcodes per RFC 4271 §6, RFC 6793, and RFC 8203. The
// Err* names follow the spec's E_* cross-references (E_UPDATE/E_ORIGIN is
// ErrUpdate/ErrUpdateOrigin) as flat constants, without the extra
// indirection of a nested type.
const (
	ErrHeader       = 1
	ErrOpen         = 2
	ErrUpdate       = 3
	ErrHoldExpired  = 4
	ErrFSM          = 5
	ErrCease        = 6
)

const (
	// Header error subcodes.
	ErrHeaderSync       = 1 // E_SYNC: marker not all-ones
	ErrHeaderLength     = 2 // E_LENGTH: total length out of [19,4096]
	ErrHeaderBadMsgType = 3
)

const (
	// Open error subcodes.
	ErrOpenVersion  = 1
	ErrOpenPeerAS   = 2
	ErrOpenBGPID    = 3
	ErrOpenOptParam = 4
	ErrOpenHoldTime = 6
)

const (
	// Update error subcodes.
	ErrUpdateAttrList         = 1
	ErrUpdateBadWellKnown     = 2
	ErrUpdateMissWellKnown    = 3
	ErrUpdateAttrFlags        = 4
	ErrUpdateAttrLen          = 5
	ErrUpdateOrigin           = 6
	ErrUpdateNextHop          = 8
	ErrUpdateOptAttr          = 9
	ErrUpdateNetwork          = 10
	ErrUpdateASPath           = 11
	ErrUpdateUnspecific       = 0
)

const (
	// FSM error subcodes (§4.6.1 transitions; also used generically).
	ErrFSMOpenSent    = 1
	ErrFSMOpenConfirm = 2
	ErrFSMEstablished = 3
)

const (
	// Cease subcodes (RFC 4486 numbering is reused; RFC 8203 shutdown
	// communication rides in the Notification's opaque data).
	ErrCeaseMaxPrefix        = 1
	ErrCeaseAdminShutdown    = 2
	ErrCeaseAdminReset       = 4
	ErrCeaseConnectionReject = 5
	ErrCeaseCollision        = 7
	ErrCeaseOutOfResources   = 8
)

// Notification is the {error-code, error-subcode, opaque data} triple of
// §3. It is the vehicle for ring-1 protocol errors (§7): codec and FSM
// functions return a *Notification value, not a Go error, whenever the
// failure is something the peer should be told about.
type Notification struct {
	Code    uint8
	Subcode uint8
	Data    []byte
}

func NewNotification(code, subcode uint8, data []byte) *Notification {
	return &Notification{Code: code, Subcode: subcode, Data: data}
}

// ShutdownNotification builds an administrative CEASE notification carrying a
// human-readable reason per RFC 8203, truncated to 255 bytes (the first
// octet is itself a length octet in the RFC 8203 encoding).
func ShutdownNotification(subcode uint8, reason string) *Notification {
	if len(reason) > 255 {
		reason = reason[:255]
	}
	data := make([]byte, 1+len(reason))
	data[0] = byte(len(reason))
	copy(data[1:], reason)
	return &Notification{Code: ErrCease, Subcode: subcode, Data: data}
}

func (n *Notification) Encode() []byte {
	out := make([]byte, 2+len(n.Data))
	out[0] = n.Code
	out[1] = n.Subcode
	copy(out[2:], n.Data)
	return out
}

func DecodeNotification(body []byte) (*Notification, error) {
	if len(body) < 2 {
		return nil, errTruncated("notification")
	}
	return &Notification{Code: body[0], Subcode: body[1], Data: append([]byte(nil), body[2:]...)}, nil
}

func errTruncated(what string) error {
	return &DecodeError{Msg: "bgp: truncated " + what}
}

// DecodeError marks the rare ring-2 case described in §7: the codec hit
// a condition that should be structurally impossible given a
// length-checked buffer (e.g. a slice bounds mismatch introduced by a
// caller bypassing Sink), rather than a peer-caused protocol violation
// (which is reported as a *Notification, never a DecodeError).
type DecodeError struct {
	Msg string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *DecodeError) Unwrap() error { return e.Err }
