// Package http serves cmd/bgpspeakerd's operational surface: liveness,
// readiness (snapshot DB and Kafka bridge reachability, plus a
// per-peer session snapshot) and the prometheus /metrics endpoint.
package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SessionStatus abstracts one peer's FSM for the readyz report.
type SessionStatus interface {
	IsEstablished() bool
}

// DBChecker abstracts the snapshot database's health check for testability.
type DBChecker interface {
	Ping(ctx context.Context) error
}

// KafkaChecker abstracts the route-event Kafka bridge's reachability.
type KafkaChecker interface {
	Ready() bool
}

type Server struct {
	srv          *http.Server
	dbChecker    DBChecker
	kafkaChecker KafkaChecker
	sessions     map[string]SessionStatus
	logger       *zap.Logger
}

func NewServer(addr string, dbChecker DBChecker, kafkaChecker KafkaChecker, sessions map[string]SessionStatus, logger *zap.Logger) *Server {
	s := &Server{
		dbChecker:    dbChecker,
		kafkaChecker: kafkaChecker,
		sessions:     sessions,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{}
	allOK := true

	if s.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.dbChecker.Ping(ctx); err != nil {
			checks["snapshot_db"] = "error"
			allOK = false
		} else {
			checks["snapshot_db"] = "ok"
		}
	}

	if s.kafkaChecker != nil {
		if s.kafkaChecker.Ready() {
			checks["kafka_bridge"] = "ok"
		} else {
			checks["kafka_bridge"] = "error"
			allOK = false
		}
	}

	peers := map[string]string{}
	for name, sess := range s.sessions {
		if sess.IsEstablished() {
			peers[name] = "established"
		} else {
			peers[name] = "down"
		}
	}
	checks["peers"] = peers

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}
