package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// DefaultMatchmakerAddr is the default TCP address the matchmaking service listens on.
	DefaultMatchmakerAddr = ":3020"
	// DefaultHostURL points the bridge at the simulation host.
	DefaultHostURL = "ws://game-server:8443/"
	// DefaultReconnectDelay is the fixed backoff between bridge reconnect attempts.
	DefaultReconnectDelay = 5 * time.Second
	// DefaultScanInterval is how often each queue is scanned for a full group.
	DefaultScanInterval = 200 * time.Millisecond
	// DefaultRankWindow bounds the rank distance between parties of one group.
	DefaultRankWindow = 100
	// DefaultPartyMaxRanked and DefaultPartyMaxTournament cap party and group sizes.
	DefaultPartyMaxRanked     = 2
	DefaultPartyMaxTournament = 4
	// DefaultInviteTTL is how long an invite link stays valid.
	DefaultInviteTTL = 5 * time.Minute
	// DefaultPublicHost is embedded into invite links.
	DefaultPublicHost = "localhost"
	// DefaultInviteRateWindow and DefaultInviteRateBurst throttle invite creation.
	DefaultInviteRateWindow = time.Second
	DefaultInviteRateBurst  = 20
	// DefaultMatchmakerLogPath is where the matchmaker writes structured logs.
	DefaultMatchmakerLogPath = "matchmaker.log"
)

// MatchmakerConfig captures the runtime tunables for the matchmaking service.
type MatchmakerConfig struct {
	Address        string        `env:"MATCHMAKER_ADDR" envDefault:":3020"`
	AllowedOrigins []string      `env:"MATCHMAKER_ALLOWED_ORIGINS" envSeparator:","`
	PingInterval   time.Duration `env:"MATCHMAKER_PING_INTERVAL" envDefault:"30s"`
	AdminToken     string        `env:"MATCHMAKER_ADMIN_TOKEN"`
	TokenSecret    string        `env:"MATCHMAKER_TOKEN_SECRET"`

	HostURL        string        `env:"MATCHMAKER_HOST_URL" envDefault:"ws://game-server:8443/"`
	LobbyID        string        `env:"MATCHMAKER_LOBBY_ID"`
	LobbyPass      string        `env:"MATCHMAKER_LOBBY_PASS"`
	ReconnectDelay time.Duration `env:"MATCHMAKER_RECONNECT_DELAY" envDefault:"5s"`

	ScanInterval       time.Duration `env:"MATCHMAKER_SCAN_INTERVAL" envDefault:"200ms"`
	RankWindow         int           `env:"MATCHMAKER_RANK_WINDOW" envDefault:"100"`
	PartyMaxRanked     int           `env:"MATCHMAKER_PARTY_MAX_RANKED" envDefault:"2"`
	PartyMaxTournament int           `env:"MATCHMAKER_PARTY_MAX_TOURNAMENT" envDefault:"4"`
	InviteTTL          time.Duration `env:"MATCHMAKER_INVITE_TTL" envDefault:"5m"`
	PublicHost         string        `env:"MATCHMAKER_PUBLIC_HOST" envDefault:"localhost"`
	InviteRateWindow   time.Duration `env:"MATCHMAKER_INVITE_RATE_WINDOW" envDefault:"1s"`
	InviteRateBurst    int           `env:"MATCHMAKER_INVITE_RATE_BURST" envDefault:"20"`

	DatabaseURL string `env:"MATCHMAKER_DATABASE_URL"`
	RedisAddr   string `env:"MATCHMAKER_REDIS_ADDR"`
	NATSURL     string `env:"MATCHMAKER_NATS_URL"`
	UsersURL    string `env:"MATCHMAKER_USERS_URL"`

	Logging LoggingConfig `env:"-"`
}

// LoadMatchmaker reads the matchmaking configuration from environment variables.
func LoadMatchmaker() (*MatchmakerConfig, error) {
	cfg, err := env.ParseAs[MatchmakerConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse matchmaker config: %w", err)
	}
	cfg.AllowedOrigins = parseList(strings.Join(cfg.AllowedOrigins, ","))
	cfg.LobbyID = strings.TrimSpace(cfg.LobbyID)
	cfg.LobbyPass = strings.TrimSpace(cfg.LobbyPass)
	cfg.Logging = loadLogging("MATCHMAKER", "matchmaker", DefaultMatchmakerLogPath)

	var problems []string
	problems = append(problems, cfg.Logging.parseOverrides("MATCHMAKER")...)

	for key, value := range map[string]time.Duration{
		"MATCHMAKER_PING_INTERVAL":      cfg.PingInterval,
		"MATCHMAKER_RECONNECT_DELAY":    cfg.ReconnectDelay,
		"MATCHMAKER_SCAN_INTERVAL":      cfg.ScanInterval,
		"MATCHMAKER_INVITE_TTL":         cfg.InviteTTL,
		"MATCHMAKER_INVITE_RATE_WINDOW": cfg.InviteRateWindow,
	} {
		if value < 0 {
			problems = append(problems, fmt.Sprintf("%s must not be negative, got %v", key, value))
		}
	}
	if cfg.RankWindow < 0 {
		problems = append(problems, fmt.Sprintf("MATCHMAKER_RANK_WINDOW must not be negative, got %d", cfg.RankWindow))
	}
	if cfg.InviteRateBurst < 0 {
		problems = append(problems, fmt.Sprintf("MATCHMAKER_INVITE_RATE_BURST must not be negative, got %d", cfg.InviteRateBurst))
	}
	for key, value := range map[string]int{
		"MATCHMAKER_PARTY_MAX_RANKED":     cfg.PartyMaxRanked,
		"MATCHMAKER_PARTY_MAX_TOURNAMENT": cfg.PartyMaxTournament,
	} {
		if value < 2 {
			problems = append(problems, fmt.Sprintf("%s must be an integer of at least 2, got %d", key, value))
		}
	}
	if cfg.LobbyID == "" || cfg.LobbyPass == "" {
		problems = append(problems, "MATCHMAKER_LOBBY_ID and MATCHMAKER_LOBBY_PASS are required")
	}
	if !strings.HasPrefix(cfg.HostURL, "ws://") && !strings.HasPrefix(cfg.HostURL, "wss://") {
		problems = append(problems, fmt.Sprintf("MATCHMAKER_HOST_URL must be a ws:// or wss:// URL, got %q", cfg.HostURL))
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return &cfg, nil
}
