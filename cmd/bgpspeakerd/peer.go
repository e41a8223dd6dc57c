package main

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/route-beacon/bgpspeaker/fsm"
	"github.com/route-beacon/bgpspeaker/internal/config"
)

const reconnectDelay = 5 * time.Second

// tcpOutputSink adapts a live net.Conn onto fsm.OutputSink (§6); it is
// swapped out from under the FSM every time the transport reconnects.
type tcpOutputSink struct {
	mu   sync.Mutex
	conn net.Conn
}

func (s *tcpOutputSink) setConn(c net.Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

func (s *tcpOutputSink) HandleOut(buf []byte) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false
	}
	_, err := conn.Write(buf)
	return err == nil
}

// session owns one configured peer's connection lifecycle: dial or
// accept, drive the FSM's read loop and timer tick, and reconnect after
// the transport drops, since the library itself takes no position on
// TCP connection management.
type session struct {
	name   string
	cfg    config.PeerConfig
	fsm    *fsm.FSM
	out    *tcpOutputSink
	logger *zap.Logger
}

func newSession(name string, cfg config.PeerConfig, f *fsm.FSM, out *tcpOutputSink, logger *zap.Logger) *session {
	return &session{name: name, cfg: cfg, fsm: f, out: out, logger: logger}
}

func (s *session) IsEstablished() bool {
	return s.fsm.State() == fsm.Established
}

func (s *session) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("connection attempt failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		s.logger.Info("connected", zap.String("remote", conn.RemoteAddr().String()))
		s.out.setConn(conn)
		if s.cfg.Dial != "" {
			s.fsm.Start()
		}
		s.readLoop(ctx, conn)

		s.out.setConn(nil)
		conn.Close()
		s.fsm.ResetHard()

		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *session) connect(ctx context.Context) (net.Conn, error) {
	if s.cfg.Dial != "" {
		d := net.Dialer{}
		return d.DialContext(ctx, "tcp", s.cfg.Dial)
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		c, err := ln.Accept()
		ch <- accepted{c, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case a := <-ch:
		return a.conn, a.err
	}
}

// readLoop feeds bytes read from conn into the FSM and ticks its timers
// once a second until the connection is closed or the session breaks.
func (s *session) readLoop(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, err := conn.Read(buf)
			if n > 0 {
				s.fsm.Run(buf[:n])
			}
			if s.fsm.State() == fsm.Broken {
				return
			}
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fsm.Tick()
		}
	}
}

func (s *session) stop(reason string) {
	s.fsm.Stop(reason)
}
