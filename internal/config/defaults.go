package config

import (
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults replaces zero values with the defaults. Explicit values
// are kept.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyGameDefaults(&cfg.Game)
	applyMapDBDefaults(&cfg.MapDB, cfg.Server.WorldDir)
	applyJournalDefaults(&cfg.Journal, cfg.Server.WorldDir)

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Admin.Listen == "" {
		cfg.Admin.Listen = "127.0.0.1:30001"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "action"
	}
	cfg.Level = strings.ToLower(cfg.Level)
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":30000"
	}
	if cfg.Path == "" {
		cfg.Path = "/v1/ws"
	}
	if cfg.WorldDir == "" {
		cfg.WorldDir = "./world"
	}
	if cfg.Definitions == "" {
		cfg.Definitions = "configs/definitions.yaml"
	}
	if cfg.PeerTimeout == 0 {
		cfg.PeerTimeout = 30 * time.Second
	}
	if cfg.PacketsPerSecond == 0 {
		cfg.PacketsPerSecond = 400
	}
	if cfg.PacketBurst == 0 {
		cfg.PacketBurst = 800
	}
}

func applyGameDefaults(cfg *GameConfig) {
	if cfg.MaxUsers == 0 {
		cfg.MaxUsers = 15
	}
	if cfg.MaxSimultaneousBlockSendsPerClient == 0 {
		cfg.MaxSimultaneousBlockSendsPerClient = 40
	}
	if cfg.MaxBlockSendDistance == 0 {
		cfg.MaxBlockSendDistance = 12
	}
	if cfg.ActiveObjectSendRangeBlocks == 0 {
		cfg.ActiveObjectSendRangeBlocks = 8
	}
	if cfg.DedicatedServerStep == 0 {
		cfg.DedicatedServerStep = 0.09
	}
	if cfg.TimeSendInterval == 0 {
		cfg.TimeSendInterval = 5
	}
	if cfg.TimeSpeed == 0 {
		cfg.TimeSpeed = 72
	}
	if cfg.MaxPacketsPerIteration == 0 {
		cfg.MaxPacketsPerIteration = 1024
	}
	if cfg.ChatMessageMaxSize == 0 {
		cfg.ChatMessageMaxSize = 500
	}
	if cfg.MaxProtocolViolations == 0 {
		cfg.MaxProtocolViolations = 10
	}
	if cfg.KickMsgShutdown == "" {
		cfg.KickMsgShutdown = "Server shutting down."
	}
	if cfg.KickMsgCrash == "" {
		cfg.KickMsgCrash = "This server has experienced an internal error. You will now be disconnected."
	}
	if cfg.SaveInterval == 0 {
		cfg.SaveInterval = time.Minute
	}
}

func applyMapDBDefaults(cfg *MapDBConfig, worldDir string) {
	if cfg.Type == "" {
		cfg.Type = "sqlite"
	}
	cfg.Type = strings.ToLower(cfg.Type)
	if cfg.SQLite == nil {
		cfg.SQLite = map[string]any{}
	}
	if _, ok := cfg.SQLite["path"]; !ok {
		cfg.SQLite["path"] = filepath.Join(worldDir, "map.sqlite")
	}
	if cfg.Badger == nil {
		cfg.Badger = map[string]any{}
	}
	if _, ok := cfg.Badger["dir"]; !ok {
		cfg.Badger["dir"] = filepath.Join(worldDir, "map.badger")
	}
}

func applyJournalDefaults(cfg *JournalConfig, worldDir string) {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(worldDir, "journal")
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
