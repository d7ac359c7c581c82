package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// LiveKit media backend. When APIKey is empty the server falls back to
	// the in-process loopback backend.
	LiveKitURL       string `mapstructure:"livekit_url" yaml:"livekit_url"`
	LiveKitAPIKey    string `mapstructure:"livekit_api_key" yaml:"livekit_api_key"`
	LiveKitAPISecret string `mapstructure:"livekit_api_secret" yaml:"livekit_api_secret"`

	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`
}

// EngineConfig tunes the presence engine timers and ceilings.
type EngineConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	SnapshotInterval  time.Duration `mapstructure:"snapshot_interval" yaml:"snapshot_interval"`
	StatsInterval     time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`

	VideoChannelCeiling int `mapstructure:"video_channel_ceiling" yaml:"video_channel_ceiling"`
	ChatChannelCeiling  int `mapstructure:"chat_channel_ceiling" yaml:"chat_channel_ceiling"`
	MessageRetention    int `mapstructure:"message_retention" yaml:"message_retention"`
	MaxMediaRooms       int `mapstructure:"max_media_rooms" yaml:"max_media_rooms"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "atrium.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "atrium",
		JWTAudience:       "atrium-clients",
		Engine: EngineConfig{
			HeartbeatInterval:   30 * time.Second,
			HeartbeatTimeout:    60 * time.Second,
			SnapshotInterval:    250 * time.Millisecond,
			StatsInterval:       5 * time.Second,
			VideoChannelCeiling: 10,
			ChatChannelCeiling:  50,
			MessageRetention:    200,
			MaxMediaRooms:       512,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}
