package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultDataRoot       = "data"
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "chatmirror"
	DefaultPGSSLMode      = "disable"
	DefaultFetchLimit     = 50
	DefaultAttachmentJobs = 4
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Telegram   TelegramConfig   `toml:"telegram"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Storage    StorageConfig    `toml:"storage"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Embeddings EmbeddingsConfig `toml:"embeddings"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type StorageConfig struct {
	DataRoot string `toml:"data_root"`
}

type PipelineConfig struct {
	// AttachmentJobs bounds concurrent attachment downloads inside the
	// media resolver.
	AttachmentJobs int `toml:"attachment_jobs"`
	// FetchLimit is the default page size when a fetch command omits one.
	FetchLimit int `toml:"fetch_limit"`
}

type EmbeddingsConfig struct {
	// Enabled registers the embedding resolver in the pipeline.
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Storage: StorageConfig{
			DataRoot: DefaultDataRoot,
		},
		Pipeline: PipelineConfig{
			AttachmentJobs: DefaultAttachmentJobs,
			FetchLimit:     DefaultFetchLimit,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
