// Package config loads the hub's runtime configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pion/webrtc/v4"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueSize        = 256

	DefaultWSIdleTimeout  = 60 * time.Second
	DefaultWSPingInterval = 20 * time.Second
)

// Config is the full runtime configuration. Scalar knobs are decoded from the
// environment by envconfig; derived fields (ICEServers, slog level) are
// computed by Load.
type Config struct {
	ListenAddr      string        `envconfig:"RELAY_HUB_LISTEN_ADDR" default:"127.0.0.1:8080"`
	Mode            string        `envconfig:"RELAY_HUB_MODE" default:"dev"`
	LogFormatRaw    string        `envconfig:"RELAY_HUB_LOG_FORMAT"`
	LogLevelRaw     string        `envconfig:"RELAY_HUB_LOG_LEVEL"`
	ShutdownTimeout time.Duration `envconfig:"RELAY_HUB_SHUTDOWN_TIMEOUT" default:"15s"`

	// AllowedOrigins lists normalized origins ("https://app.example.com") or
	// "*". Empty means same-host only.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	// MaxSessions caps concurrently open sessions per process. 0 = unlimited.
	MaxSessions int `envconfig:"MAX_SESSIONS"`

	// Inbound WebSocket hardening.
	MaxMessageBytes      int64 `envconfig:"MAX_MESSAGE_BYTES" default:"65536"`
	MaxMessagesPerSecond int   `envconfig:"MAX_MESSAGES_PER_SECOND" default:"50"`

	// Outbound queue bound per connection; frames are dropped (and counted)
	// once the queue is full so a stalled peer never blocks room fanout.
	SendQueueSize int `envconfig:"SEND_QUEUE_SIZE" default:"256"`

	WSIdleTimeout  time.Duration `envconfig:"WS_IDLE_TIMEOUT" default:"60s"`
	WSPingInterval time.Duration `envconfig:"WS_PING_INTERVAL" default:"20s"`

	// ICE topology served to clients on GET /ice.
	StunURLs       []string `envconfig:"STUN_URLS"`
	TurnURLs       []string `envconfig:"TURN_URLS"`
	TurnUsername   string   `envconfig:"TURN_USERNAME"`
	TurnCredential string   `envconfig:"TURN_CREDENTIAL"`

	// Derived by Load.
	LogFormat  LogFormat          `ignored:"true"`
	LogLevel   slog.Level         `ignored:"true"`
	ICEServers []webrtc.ICEServer `ignored:"true"`
}

// Load reads configuration from the environment (and an optional .env file in
// the working directory) and validates it.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) finalize() error {
	switch Mode(cfg.Mode) {
	case ModeDev, ModeProd:
	default:
		return fmt.Errorf("unsupported RELAY_HUB_MODE %q", cfg.Mode)
	}

	format := cfg.LogFormatRaw
	if format == "" {
		format = string(LogFormatText)
		if Mode(cfg.Mode) == ModeProd {
			format = string(LogFormatJSON)
		}
	}
	switch LogFormat(format) {
	case LogFormatText, LogFormatJSON:
		cfg.LogFormat = LogFormat(format)
	default:
		return fmt.Errorf("unsupported RELAY_HUB_LOG_FORMAT %q", format)
	}

	level := cfg.LogLevelRaw
	if level == "" {
		level = "debug"
		if Mode(cfg.Mode) == ModeProd {
			level = "info"
		}
	}
	parsed, err := parseLogLevel(level)
	if err != nil {
		return err
	}
	cfg.LogLevel = parsed

	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		return fmt.Errorf("invalid RELAY_HUB_LISTEN_ADDR %q: %w", cfg.ListenAddr, err)
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = DefaultMaxMessagesPerSecond
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}

	servers, err := buildICEServers(cfg.StunURLs, cfg.TurnURLs, cfg.TurnUsername, cfg.TurnCredential)
	if err != nil {
		return err
	}
	cfg.ICEServers = servers

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported RELAY_HUB_LOG_LEVEL %q", raw)
	}
}

func buildICEServers(stunURLs, turnURLs []string, turnUser, turnCred string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	stun, err := validateICEURLs(stunURLs, "stun", "stuns")
	if err != nil {
		return nil, err
	}
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}

	turn, err := validateICEURLs(turnURLs, "turn", "turns")
	if err != nil {
		return nil, err
	}
	if len(turn) > 0 {
		if turnUser == "" || turnCred == "" {
			return nil, fmt.Errorf("TURN_URLS set without TURN_USERNAME/TURN_CREDENTIAL")
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   turnUser,
			Credential: turnCred,
		})
	}

	return servers, nil
}

func validateICEURLs(raw []string, schemes ...string) ([]string, error) {
	var out []string
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		u, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid ICE url %q: %w", entry, err)
		}
		okScheme := false
		for _, s := range schemes {
			if u.Scheme == s {
				okScheme = true
				break
			}
		}
		if !okScheme {
			return nil, fmt.Errorf("invalid ICE url %q: expected scheme %s", entry, strings.Join(schemes, "/"))
		}
		out = append(out, entry)
	}
	return out, nil
}

// NewLogger builds the process logger from the loaded config.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}
