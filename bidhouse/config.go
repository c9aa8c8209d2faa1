package bidhouse

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/gavelworks/bidhouse/bidhouse/database"
	"github.com/gavelworks/bidhouse/bidhouse/identity"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log     LogConfig         `toml:"log"`
	Server  ServerConfig      `toml:"server"`
	DB      database.DBConfig `toml:"db"`
	Auction AuctionConfig     `toml:"auction"`
	Auth    AuthConfig        `toml:"auth"`
	Catalog CatalogConfig     `toml:"catalog"`
	Spaces  SpacesConfig      `toml:"spaces"`
	Notify  NotifyConfig      `toml:"notify"`
	Audit   AuditConfig       `toml:"audit"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type AuctionConfig struct {
	// SweepIntervalSeconds controls how often the scheduler activates and
	// settles auctions. Zero means the default.
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	CommitRetries        int `toml:"commit_retries"`
	// MemoryStore runs the service against the in-memory store instead of
	// Postgres. Development only.
	MemoryStore bool `toml:"memory_store"`
}

type AuthConfig struct {
	Tokens []identity.TokenEntry `toml:"tokens"`
}

type CatalogConfig struct {
	BaseURL            string `toml:"base_url"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	CacheExpirySeconds int    `toml:"cache_expiry_seconds"`
}

type SpacesConfig struct {
	Key       string `toml:"key"`
	Secret    string `toml:"secret"`
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	ImageRoot string `toml:"image_root"`
}

type NotifyConfig struct {
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

type AuditConfig struct {
	MongoURI string `toml:"mongo_uri"`
	Database string `toml:"database"`
}
