// Package sink implements the stream reassembly layer between a raw
// transport byte stream and the bgp package's message codecs (§4.3): it
// accumulates partial reads, recognizes complete frames, and reports
// "need more bytes" rather than blocking.
package sink

import (
	"sync"

	"github.com/route-beacon/bgpspeaker/bgp"
)

// maxPending bounds how much unconsumed data the sink will buffer before
// compacting (settling); a peer that is fed 4096-byte messages one at a
// time should never come close to this.
const maxPending = 1 << 20

// Sink accumulates bytes from a transport and yields one framed message
// at a time. A single FSM calls Pour sequentially, but Pour and Reset
// are safe to call from different goroutines since both take the same
// mutex (§4.3: "Concurrent access is serialized by a mutex").
type Sink struct {
	mu     sync.Mutex
	buf    []byte
	broken *bgp.Notification
}

func New() *Sink {
	return &Sink{}
}

// Pour appends freshly read transport bytes to the internal buffer.
func (s *Sink) Pour(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, data...)
}

// Next attempts to extract one complete message. ok is false when fewer
// than a full message's worth of bytes are currently buffered ("need
// more bytes", not an error). A header that fails validation yields a
// non-nil *bgp.Notification and leaves the sink sticky-broken: every
// subsequent Next call returns the same notification until Reset. A
// message body that fails to decode also yields a notification, but its
// frame is consumed and the sink is not left broken.
func (s *Sink) Next(fourByteASN bool) (msg bgp.Message, notif *bgp.Notification, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		return nil, s.broken, true
	}
	if len(s.buf) < bgp.HeaderLen {
		return nil, nil, false
	}
	h, n := bgp.DecodeHeader(s.buf)
	if n != nil {
		s.broken = n
		return nil, n, true
	}
	if len(s.buf) < h.Length {
		return nil, nil, false
	}

	frame := s.buf[:h.Length]
	m, n := bgp.DecodeMessage(frame, fourByteASN)
	s.consume(h.Length)
	if n != nil {
		return m, n, true
	}
	return m, nil, true
}

// consume drops the first n bytes, settling (compacting) the buffer
// when the retained tail would otherwise keep growing the backing array
// (§4.3: "The sink compacts (settles) when the tail would overflow").
func (s *Sink) consume(n int) {
	remaining := len(s.buf) - n
	if remaining == 0 {
		s.buf = s.buf[:0]
		return
	}
	if cap(s.buf) > maxPending && remaining < cap(s.buf)/4 {
		settled := make([]byte, remaining)
		copy(settled, s.buf[n:])
		s.buf = settled
		return
	}
	s.buf = s.buf[n:]
}

// Reset clears the buffer and the sticky error state, used by the FSM's
// ResetHard and on every return to Idle.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
	s.broken = nil
}

// Pending reports how many unconsumed bytes are currently buffered.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
