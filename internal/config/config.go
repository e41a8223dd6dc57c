// Package config loads cmd/bgpspeakerd's daemon configuration: the
// local speaker identity, its peers, and the optional RIB-snapshot and
// route-event-bridge sinks.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Service  ServiceConfig         `koanf:"service"`
	Peers    map[string]PeerConfig `koanf:"peers"`
	Snapshot SnapshotConfig        `koanf:"snapshot"`
	Kafka    KafkaConfig           `koanf:"kafka"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	ASN                    uint32 `koanf:"asn"`
	RouterID               string `koanf:"router_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// PeerConfig describes one configured BGP session. Dial is the address
// to actively connect to; when empty the session is passive and waits
// for Listen to accept an inbound connection from this peer instead.
type PeerConfig struct {
	Dial         string `koanf:"dial"`
	Listen       string `koanf:"listen"`
	ASN          uint32 `koanf:"asn"`
	HoldTimer    uint16 `koanf:"hold_timer"`
	FourByteASN  bool   `koanf:"four_byte_asn"`
	MPBGPIPv6    bool   `koanf:"mp_bgp_ipv6"`
	AllowLocalAS bool   `koanf:"allow_local_as"`
	Weight       int    `koanf:"weight"`
}

type SnapshotConfig struct {
	Enabled         bool   `koanf:"enabled"`
	DSN             string `koanf:"dsn"`
	IntervalSeconds int    `koanf:"interval_seconds"`
	MaxConns        int32  `koanf:"max_conns"`
	MinConns        int32  `koanf:"min_conns"`
}

type KafkaConfig struct {
	Enabled  bool       `koanf:"enabled"`
	Brokers  []string   `koanf:"brokers"`
	ClientID string     `koanf:"client_id"`
	Topic    string     `koanf:"topic"`
	TLS      TLSConfig  `koanf:"tls"`
	SASL     SASLConfig `koanf:"sasl"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: BGPSPEAKERD_SNAPSHOT__DSN → snapshot.dsn
	if err := k.Load(env.Provider("BGPSPEAKERD_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGPSPEAKERD_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "bgpspeakerd-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Snapshot: SnapshotConfig{
			IntervalSeconds: 60,
			MaxConns:        4,
			MinConns:        1,
		},
		Kafka: KafkaConfig{
			ClientID: "bgpspeakerd",
			Topic:    "bgpspeakerd.route-events",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Service.ASN == 0 {
		return fmt.Errorf("config: service.asn is required")
	}
	if c.Service.RouterID == "" {
		return fmt.Errorf("config: service.router_id is required")
	}
	if _, err := netip.ParseAddr(c.Service.RouterID); err != nil {
		return fmt.Errorf("config: service.router_id is invalid: %w", err)
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("config: at least one entry under peers is required")
	}
	for name, p := range c.Peers {
		if p.Dial == "" && p.Listen == "" {
			return fmt.Errorf("config: peers.%s needs a dial or listen address", name)
		}
		if p.ASN == 0 {
			return fmt.Errorf("config: peers.%s.asn is required", name)
		}
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.Snapshot.Enabled {
		if c.Snapshot.DSN == "" {
			return fmt.Errorf("config: snapshot.dsn is required when snapshot.enabled is true")
		}
		if c.Snapshot.IntervalSeconds <= 0 {
			return fmt.Errorf("config: snapshot.interval_seconds must be > 0 (got %d)", c.Snapshot.IntervalSeconds)
		}
		if c.Snapshot.MaxConns <= 0 {
			return fmt.Errorf("config: snapshot.max_conns must be > 0 (got %d)", c.Snapshot.MaxConns)
		}
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers is required when kafka.enabled is true")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka.topic is required when kafka.enabled is true")
		}
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings, nil if disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings, nil if disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}

// RouterID4 parses Service.RouterID into the [4]byte form fsm.Config wants.
func (s *ServiceConfig) RouterID4() ([4]byte, error) {
	addr, err := netip.ParseAddr(s.RouterID)
	if err != nil || !addr.Is4() {
		return [4]byte{}, fmt.Errorf("config: service.router_id %q is not a dotted-quad IPv4 address", s.RouterID)
	}
	return addr.As4(), nil
}
