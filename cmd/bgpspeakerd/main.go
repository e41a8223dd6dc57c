package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/route-beacon/bgpspeaker/bus"
	"github.com/route-beacon/bgpspeaker/clock"
	"github.com/route-beacon/bgpspeaker/fsm"
	"github.com/route-beacon/bgpspeaker/internal/config"
	"github.com/route-beacon/bgpspeaker/internal/db"
	bgphttp "github.com/route-beacon/bgpspeaker/internal/http"
	"github.com/route-beacon/bgpspeaker/internal/kafka"
	"github.com/route-beacon/bgpspeaker/internal/metrics"
	"github.com/route-beacon/bgpspeaker/rib"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: bgpspeakerd <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the BGP speaker")
	fmt.Println("  migrate   Run snapshot database migrations")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	routerID, err := cfg.Service.RouterID4()
	if err != nil {
		logger.Fatal("invalid router id", zap.Error(err))
	}

	logger.Info("starting bgpspeakerd",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.Uint32("asn", cfg.Service.ASN),
		zap.String("router_id", cfg.Service.RouterID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rib4 := rib.NewTable4()
	rib6 := rib.NewTable6()
	eventBus := bus.New()

	var snap *snapshotWriter
	if cfg.Snapshot.Enabled {
		pool, err := db.NewPool(ctx, cfg.Snapshot.DSN, cfg.Snapshot.MaxConns, cfg.Snapshot.MinConns)
		if err != nil {
			logger.Fatal("failed to connect to snapshot database", zap.Error(err))
		}
		defer pool.Close()

		snap, err = newSnapshotWriter(pool, logger.Named("snapshot"))
		if err != nil {
			logger.Fatal("failed to build snapshot writer", zap.Error(err))
		}
		if err := snap.ensureSchema(ctx); err != nil {
			logger.Fatal("failed to ensure snapshot schema", zap.Error(err))
		}
		go snap.run(ctx, time.Duration(cfg.Snapshot.IntervalSeconds)*time.Second, rib4, rib6)
		logger.Info("snapshot writer started", zap.Int("interval_seconds", cfg.Snapshot.IntervalSeconds))
	}

	var bridge *kafkaBridge
	if cfg.Kafka.Enabled {
		tlsCfg, err := cfg.Kafka.BuildTLSConfig()
		if err != nil {
			logger.Fatal("failed to build kafka TLS config", zap.Error(err))
		}
		saslMech := cfg.Kafka.BuildSASLMechanism()

		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID, tlsCfg, saslMech, logger.Named("kafka"))
		if err != nil {
			logger.Fatal("failed to create kafka producer", zap.Error(err))
		}
		defer producer.Close()

		bridge = &kafkaBridge{producer: producer, logger: logger.Named("kafka.bridge")}
		eventBus.Subscribe(bridge)
		logger.Info("kafka bridge started", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	sessions := make(map[string]*session, len(cfg.Peers))
	sessionStatuses := make(map[string]bgphttp.SessionStatus, len(cfg.Peers))
	for name, pcfg := range cfg.Peers {
		hold := pcfg.HoldTimer
		if hold == 0 {
			hold = 90
		}
		out := &tcpOutputSink{}
		fcfg := fsm.Config{
			ASN:          cfg.Service.ASN,
			PeerASN:      pcfg.ASN,
			RouterID:     routerID,
			HoldTimer:    hold,
			Use4BAsn:     pcfg.FourByteASN,
			MPBGPIPv6:    pcfg.MPBGPIPv6,
			AllowLocalAS: pcfg.AllowLocalAS,
			Weight:       pcfg.Weight,
			RIB4:         rib4,
			RIB6:         rib6,
			Bus:          eventBus,
			Clock:        clock.Realtime{},
			LogHandler:   zapLogger{logger.Named("fsm." + name)},
			OutHandler:   out,
		}
		f := fsm.New(fcfg)
		sess := newSession(name, pcfg, f, out, logger.Named("peer."+name))
		sessions[name] = sess
		sessionStatuses[name] = sess
	}

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			s.run(ctx)
		}(sess)
	}

	var dbChecker bgphttp.DBChecker
	if snap != nil {
		dbChecker = snap
	}
	var kafkaChecker bgphttp.KafkaChecker
	if bridge != nil {
		kafkaChecker = bridge.producer
	}

	go metricsPoller(ctx, sessions, rib4, rib6)

	httpServer := bgphttp.NewServer(cfg.Service.HTTPListen, dbChecker, kafkaChecker, sessionStatuses, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("all sessions and HTTP server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	for _, sess := range sessions {
		sess.stop("administrative shutdown")
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all sessions stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some sessions may not have finished")
	}

	logger.Info("bgpspeakerd stopped")
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	if !cfg.Snapshot.Enabled {
		logger.Fatal("snapshot.enabled is false; nothing to migrate")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Snapshot.DSN, cfg.Snapshot.MaxConns, cfg.Snapshot.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to snapshot database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}
