package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		ListenAddr string `env:"LISTEN_ADDR" envDefault:"localhost:9090"`
		LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

		MongoURI string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
		MongoDB  string `env:"MONGO_DB" envDefault:"rtchat"`

		RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
		RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
		RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

		// MasterKey is a hex-encoded 32-byte secret; the encryption and
		// digest keys are both derived from it.
		MasterKey string `env:"MASTER_KEY,required"`
		JWTSecret string `env:"JWT_SECRET,required"`

		HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
		RingTimeout       time.Duration `env:"RING_TIMEOUT" envDefault:"30s"`

		ChatCacheTTL       time.Duration `env:"CHAT_CACHE_TTL" envDefault:"5m"`
		ChatListCacheTTL   time.Duration `env:"CHAT_LIST_CACHE_TTL" envDefault:"2m"`
		AttachmentCacheTTL time.Duration `env:"ATTACHMENT_CACHE_TTL" envDefault:"24h"`
	}

	// ClientConfig is the subset the terminal client needs. The client
	// never touches ciphertext, so the master key stays server-side.
	ClientConfig struct {
		ServerAddr string `env:"LISTEN_ADDR" envDefault:"localhost:9090"`
		JWTSecret  string `env:"JWT_SECRET,required"`
	}
)

// Load reads configuration from the environment, with a local .env file
// applied first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env.Parse: %w", err)
	}

	if _, err := cfg.MasterKeyBytes(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient reads the client-side configuration from the environment.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env.Parse: %w", err)
	}
	return &cfg, nil
}

func (c *Config) MasterKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
