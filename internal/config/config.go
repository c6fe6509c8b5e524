package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the simulation host listens on.
	DefaultAddr = ":8443"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxConnectionsPerIP bounds concurrent sockets from a single remote address.
	DefaultMaxConnectionsPerIP = 200

	// DefaultSimulationFPS is the physics tick rate of every match.
	DefaultSimulationFPS = 60
	// MinSimulationFPS and MaxSimulationFPS clamp PONG_SIMULATION_FPS.
	MinSimulationFPS = 30
	MaxSimulationFPS = 120
	// DefaultNetworkTickFPS is the snapshot broadcast rate of every match.
	DefaultNetworkTickFPS = 30
	// MinNetworkTickFPS and MaxNetworkTickFPS clamp PONG_NETWORK_TICK_FPS.
	MinNetworkTickFPS = 10
	MaxNetworkTickFPS = 60

	// DefaultDisconnectTimeout is the unit of the match inactivity window.
	DefaultDisconnectTimeout = time.Minute
	// DefaultLobbyRetryInterval controls how often queued lobby messages are retried.
	DefaultLobbyRetryInterval = 10 * time.Second
	// DefaultLobbyQueueMax caps messages buffered while the lobby link is down.
	DefaultLobbyQueueMax = 50

	// DefaultReplayMaxAge bounds how long recorded match replays are retained.
	DefaultReplayMaxAge = 72 * time.Hour

	// DefaultLogLevel controls verbosity for service logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "pong-host.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// GRPCAuthMode selects how the spectator gRPC endpoint authenticates callers.
type GRPCAuthMode string

const (
	GRPCAuthModeSharedSecret GRPCAuthMode = "shared_secret"
	GRPCAuthModeMTLS         GRPCAuthMode = "mtls"
)

// Config captures all runtime tunables for the simulation host.
type Config struct {
	Address             string
	AllowedOrigins      []string
	MaxPayloadBytes     int64
	PingInterval        time.Duration
	MaxConnectionsPerIP int
	TLSCertPath         string
	TLSKeyPath          string
	AdminToken          string
	PlayerTokenSecret   string

	SimulationFPS     int
	NetworkTickFPS    int
	DisconnectTimeout time.Duration
	StatsPath         string

	LobbyID            string
	LobbyPass          string
	LobbyRetryInterval time.Duration
	LobbyQueueMax      int

	ReplayDir    string
	ReplayMaxAge time.Duration

	GRPCAddr           string
	GRPCAuthMode       GRPCAuthMode
	GRPCSharedSecret   string
	GRPCServerCertPath string
	GRPCServerKeyPath  string
	GRPCClientCAPath   string

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	Service    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the simulation host configuration from environment variables, applying sane
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:             getString("PONG_ADDR", DefaultAddr),
		AllowedOrigins:      parseList(os.Getenv("PONG_ALLOWED_ORIGINS")),
		MaxPayloadBytes:     DefaultMaxPayloadBytes,
		PingInterval:        DefaultPingInterval,
		MaxConnectionsPerIP: DefaultMaxConnectionsPerIP,
		TLSCertPath:         strings.TrimSpace(os.Getenv("PONG_TLS_CERT")),
		TLSKeyPath:          strings.TrimSpace(os.Getenv("PONG_TLS_KEY")),
		AdminToken:          strings.TrimSpace(os.Getenv("PONG_ADMIN_TOKEN")),
		PlayerTokenSecret:   strings.TrimSpace(os.Getenv("PONG_PLAYER_TOKEN_SECRET")),
		SimulationFPS:       DefaultSimulationFPS,
		NetworkTickFPS:      DefaultNetworkTickFPS,
		DisconnectTimeout:   DefaultDisconnectTimeout,
		StatsPath:           strings.TrimSpace(os.Getenv("PONG_STATS_PATH")),
		LobbyID:             strings.TrimSpace(os.Getenv("PONG_LOBBY_ID")),
		LobbyPass:           strings.TrimSpace(os.Getenv("PONG_LOBBY_PASS")),
		LobbyRetryInterval:  DefaultLobbyRetryInterval,
		LobbyQueueMax:       DefaultLobbyQueueMax,
		ReplayDir:           strings.TrimSpace(os.Getenv("PONG_REPLAY_DIR")),
		ReplayMaxAge:        DefaultReplayMaxAge,
		GRPCAddr:            strings.TrimSpace(os.Getenv("PONG_GRPC_ADDR")),
		GRPCAuthMode:        GRPCAuthMode(strings.ToLower(getString("PONG_GRPC_AUTH_MODE", string(GRPCAuthModeSharedSecret)))),
		GRPCSharedSecret:    strings.TrimSpace(os.Getenv("PONG_GRPC_SHARED_SECRET")),
		GRPCServerCertPath:  strings.TrimSpace(os.Getenv("PONG_GRPC_SERVER_CERT")),
		GRPCServerKeyPath:   strings.TrimSpace(os.Getenv("PONG_GRPC_SERVER_KEY")),
		GRPCClientCAPath:    strings.TrimSpace(os.Getenv("PONG_GRPC_CLIENT_CA")),
		Logging:             loadLogging("PONG", "pong-host", DefaultLogPath),
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("PONG_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PONG_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	parseDuration(&problems, "PONG_PING_INTERVAL", &cfg.PingInterval)
	parseDuration(&problems, "PONG_DISCONNECT_TIMEOUT", &cfg.DisconnectTimeout)
	parseDuration(&problems, "PONG_LOBBY_RETRY_INTERVAL", &cfg.LobbyRetryInterval)
	parseDuration(&problems, "PONG_REPLAY_MAX_AGE", &cfg.ReplayMaxAge)
	parseNonNegativeInt(&problems, "PONG_MAX_CONNECTIONS_PER_IP", &cfg.MaxConnectionsPerIP)
	parseNonNegativeInt(&problems, "PONG_LOBBY_QUEUE_MAX", &cfg.LobbyQueueMax)

	if raw := strings.TrimSpace(os.Getenv("PONG_SIMULATION_FPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PONG_SIMULATION_FPS must be a positive integer, got %q", raw))
		} else {
			cfg.SimulationFPS = ClampInt(value, MinSimulationFPS, MaxSimulationFPS)
		}
	}
	if raw := strings.TrimSpace(os.Getenv("PONG_NETWORK_TICK_FPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PONG_NETWORK_TICK_FPS must be a positive integer, got %q", raw))
		} else {
			cfg.NetworkTickFPS = ClampInt(value, MinNetworkTickFPS, MaxNetworkTickFPS)
		}
	}

	problems = append(problems, cfg.Logging.parseOverrides("PONG")...)

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "PONG_TLS_CERT and PONG_TLS_KEY must be provided together")
	}
	if cfg.LobbyID == "" || cfg.LobbyPass == "" {
		problems = append(problems, "PONG_LOBBY_ID and PONG_LOBBY_PASS are required")
	}
	if cfg.GRPCAddr != "" {
		switch cfg.GRPCAuthMode {
		case GRPCAuthModeSharedSecret:
			if cfg.GRPCSharedSecret == "" {
				problems = append(problems, "PONG_GRPC_SHARED_SECRET is required for shared_secret auth")
			}
		case GRPCAuthModeMTLS:
			if cfg.GRPCServerCertPath == "" || cfg.GRPCServerKeyPath == "" || cfg.GRPCClientCAPath == "" {
				problems = append(problems, "PONG_GRPC_SERVER_CERT, PONG_GRPC_SERVER_KEY and PONG_GRPC_CLIENT_CA are required for mtls auth")
			}
		default:
			problems = append(problems, fmt.Sprintf("PONG_GRPC_AUTH_MODE must be shared_secret or mtls, got %q", cfg.GRPCAuthMode))
		}
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

// ClampInt bounds value to [lo, hi].
func ClampInt(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

func loadLogging(prefix, service, path string) LoggingConfig {
	return LoggingConfig{
		Level:      strings.TrimSpace(getString(prefix+"_LOG_LEVEL", DefaultLogLevel)),
		Path:       strings.TrimSpace(getString(prefix+"_LOG_PATH", path)),
		Service:    service,
		MaxSizeMB:  DefaultLogMaxSizeMB,
		MaxBackups: DefaultLogMaxBackups,
		MaxAgeDays: DefaultLogMaxAgeDays,
		Compress:   DefaultLogCompress,
	}
}

func (c *LoggingConfig) parseOverrides(prefix string) []string {
	var problems []string
	if raw := strings.TrimSpace(os.Getenv(prefix + "_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("%s_LOG_MAX_SIZE_MB must be a positive integer, got %q", prefix, raw))
		} else {
			c.MaxSizeMB = value
		}
	}
	parseNonNegativeInt(&problems, prefix+"_LOG_MAX_BACKUPS", &c.MaxBackups)
	parseNonNegativeInt(&problems, prefix+"_LOG_MAX_AGE_DAYS", &c.MaxAgeDays)
	if raw := strings.TrimSpace(os.Getenv(prefix + "_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s_LOG_COMPRESS must be a boolean value, got %q", prefix, raw))
		} else {
			c.Compress = value
		}
	}
	return problems
}

func parseDuration(problems *[]string, key string, target *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*target = duration
}

func parseNonNegativeInt(problems *[]string, key string, target *int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a non-negative integer, got %q", key, raw))
		return
	}
	*target = value
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
