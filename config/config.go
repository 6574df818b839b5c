// Package config loads environment variables and provides a typed Config used across chatgrep.
// It applies sensible defaults so a scan can run with no setup at all; platform credentials are
// only checked by the commands that need them (see ValidateHelix, ValidateYouTube).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultUserAgent is sent to sites that reject requests without a browser user agent.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/103.0.5060.114 Safari/537.36"

type Config struct {
	// Concurrency
	Workers       int
	WindowWorkers int
	WindowLength  time.Duration

	// HTTP
	HTTPTimeout time.Duration
	RequestRate float64 // requests per second per platform; 0 disables pacing
	UserAgent   string

	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchGQLClientID  string
	MaxChannelVideos   int

	// YouTube
	YouTubeAPIKey string

	// Recovery
	RecoveryMirrors []string

	// Match sinks
	DBDsn       string
	NATSURL     string
	NATSToken   string
	NATSSubject string

	// Metrics server
	MetricsAddr string

	// Transcription
	WhisperPython string
	WhisperModel  string
}

// Load reads environment variables and applies defaults. Malformed numeric values are errors;
// missing optional variables disable the feature they configure.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.Workers, err = envInt("WORKERS", 32); err != nil {
		return nil, err
	}
	if cfg.WindowWorkers, err = envInt("WINDOW_WORKERS", 16); err != nil {
		return nil, err
	}
	secs, err := envInt("WINDOW_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.WindowLength = time.Duration(secs) * time.Second

	if cfg.HTTPTimeout, err = envDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if v := os.Getenv("REQUEST_RATE"); v != "" {
		if cfg.RequestRate, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid REQUEST_RATE: %w", err)
		}
	}
	cfg.UserAgent = os.Getenv("USER_AGENT")
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	// Twitch
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchGQLClientID = os.Getenv("TWITCH_GQL_CLIENT_ID")
	if cfg.MaxChannelVideos, err = envInt("MAX_CHANNEL_VIDEOS", 0); err != nil {
		return nil, err
	}

	cfg.YouTubeAPIKey = os.Getenv("YOUTUBE_API_KEY")

	if v := os.Getenv("RECOVERY_MIRRORS"); v != "" {
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.RecoveryMirrors = append(cfg.RecoveryMirrors, m)
			}
		}
	}

	// Sinks are opt-in: an empty DSN or URL disables them.
	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSToken = os.Getenv("NATS_TOKEN")
	cfg.NATSSubject = os.Getenv("NATS_SUBJECT")
	if cfg.NATSSubject == "" {
		cfg.NATSSubject = "chatgrep.matches"
	}

	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.WhisperPython = os.Getenv("WHISPER_PYTHON")
	if cfg.WhisperPython == "" {
		cfg.WhisperPython = "python3"
	}
	cfg.WhisperModel = os.Getenv("WHISPER_MODEL")
	if cfg.WhisperModel == "" {
		cfg.WhisperModel = "tiny.en"
	}

	return cfg, nil
}

// Validate checks values that would make a scan impossible.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.WindowWorkers < 1 {
		return fmt.Errorf("WINDOW_WORKERS must be positive, got %d", c.WindowWorkers)
	}
	if c.WindowLength <= 0 {
		return fmt.Errorf("WINDOW_SECONDS must be positive, got %s", c.WindowLength)
	}
	if c.RequestRate < 0 {
		return fmt.Errorf("REQUEST_RATE must not be negative, got %v", c.RequestRate)
	}
	return nil
}

// ValidateHelix checks the credentials needed for Twitch Helix lookups (channels, clips, directories).
func (c *Config) ValidateHelix() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}
	return nil
}

// ValidateYouTube checks the API key needed for YouTube comments.
func (c *Config) ValidateYouTube() error {
	if c.YouTubeAPIKey == "" {
		return fmt.Errorf("missing youtube env: require YOUTUBE_API_KEY")
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration, e.g. 30s): %w", key, err)
	}
	return d, nil
}
