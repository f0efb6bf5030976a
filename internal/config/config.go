// Package config loads the server configuration from a YAML file and
// VOXELSYNC_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	Game    GameConfig    `mapstructure:"game"`
	MapDB   MapDBConfig   `mapstructure:"mapdb"`
	Journal JournalConfig `mapstructure:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=verbose info action warning error"`
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig covers the network listener and on-disk locations.
type ServerConfig struct {
	Listen      string        `mapstructure:"listen" validate:"required"`
	Path        string        `mapstructure:"path" validate:"required,startswith=/"`
	WorldDir    string        `mapstructure:"world_dir" validate:"required"`
	Definitions string        `mapstructure:"definitions" validate:"required"`
	PeerTimeout time.Duration `mapstructure:"peer_timeout" validate:"gt=0"`

	// Per-peer inbound flood limit.
	PacketsPerSecond float64 `mapstructure:"packets_per_second" validate:"gt=0"`
	PacketBurst      int     `mapstructure:"packet_burst" validate:"gt=0"`

	BannedAddresses []string `mapstructure:"banned_addresses" validate:"dive,required"`
}

// GameConfig mirrors the classic server settings.
type GameConfig struct {
	MaxUsers                           int     `mapstructure:"max_users" validate:"gte=1,lte=65533"`
	MaxSimultaneousBlockSendsPerClient int     `mapstructure:"max_simultaneous_block_sends_per_client" validate:"gte=1"`
	MaxBlockSendDistance               int     `mapstructure:"max_block_send_distance" validate:"gte=1,lte=255"`
	ActiveObjectSendRangeBlocks        int     `mapstructure:"active_object_send_range_blocks" validate:"gte=1"`
	PlayerTransferDistance             int     `mapstructure:"player_transfer_distance" validate:"gte=0"`
	UnlimitedPlayerTransferDistance    bool    `mapstructure:"unlimited_player_transfer_distance"`
	DedicatedServerStep                float64 `mapstructure:"dedicated_server_step" validate:"gt=0"`
	TimeSendInterval                   float64 `mapstructure:"time_send_interval" validate:"gt=0"`
	TimeSpeed                          float64 `mapstructure:"time_speed" validate:"gte=0"`
	MaxPacketsPerIteration             int     `mapstructure:"max_packets_per_iteration" validate:"gte=1"`
	ChatMessageMaxSize                 int     `mapstructure:"chat_message_max_size" validate:"gte=1"`
	MaxProtocolViolations              int     `mapstructure:"max_protocol_violations" validate:"gte=1"`
	KickMsgShutdown                    string  `mapstructure:"kick_msg_shutdown"`
	KickMsgCrash                       string  `mapstructure:"kick_msg_crash"`
	AskReconnectOnCrash                bool    `mapstructure:"ask_reconnect_on_crash"`

	// How often loaded blocks are written back to the map database.
	SaveInterval time.Duration `mapstructure:"save_interval" validate:"gt=0"`
}

// MapDBConfig selects the block backend. The per-backend sections are
// decoded lazily so unused backends need no settings.
type MapDBConfig struct {
	Type   string         `mapstructure:"type" validate:"required,oneof=sqlite badger memory"`
	SQLite map[string]any `mapstructure:"sqlite"`
	Badger map[string]any `mapstructure:"badger"`
}

type SQLiteOptions struct {
	Path string `mapstructure:"path"`
}

type BadgerOptions struct {
	Dir        string `mapstructure:"dir"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

func (c MapDBConfig) SQLiteOptions() (SQLiteOptions, error) {
	var o SQLiteOptions
	if err := mapstructure.Decode(c.SQLite, &o); err != nil {
		return o, fmt.Errorf("invalid sqlite config: %w", err)
	}
	return o, nil
}

func (c MapDBConfig) BadgerOptions() (BadgerOptions, error) {
	var o BadgerOptions
	if err := mapstructure.Decode(c.Badger, &o); err != nil {
		return o, fmt.Errorf("invalid badger config: %w", err)
	}
	return o, nil
}

type JournalConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Dir     string         `mapstructure:"dir"`
	S3      map[string]any `mapstructure:"s3"`
}

// S3Options configure the upload of rotated journal files.
type S3Options struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	Workers         int    `mapstructure:"workers"`
}

func (c JournalConfig) S3Options() (S3Options, error) {
	var o S3Options
	if err := mapstructure.Decode(c.S3, &o); err != nil {
		return o, fmt.Errorf("invalid journal s3 config: %w", err)
	}
	if o.Enabled && (o.Bucket == "" || o.Region == "") {
		return o, fmt.Errorf("journal s3: bucket and region are required")
	}
	return o, nil
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"omitempty,startswith=/"`
}

// AdminConfig configures the RESP admin console.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"required_if=Enabled true"`
}

// Load reads configPath (optional), overlays the environment, fills in
// defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("VOXELSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		v.SetConfigName("server")
		v.SetConfigType("yaml")
	}
}

var envKeys = []string{
	"logging.level",
	"server.listen",
	"server.world_dir",
	"game.max_users",
	"game.max_block_send_distance",
	"game.dedicated_server_step",
	"mapdb.type",
	"metrics.enabled",
	"admin.enabled",
	"admin.listen",
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
