// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full process configuration, parsed from the environment.
// main loads a .env file first so local development needs no exports.
type Config struct {
	Addr     string `env:"ARBITER_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	PostgresDSN string `env:"POSTGRES_DSN"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`

	// Auth. Empty key paths generate an ephemeral pair at startup.
	JWTPrivateKeyPath string        `env:"JWT_PRIVATE_KEY_PATH"`
	JWTPublicKeyPath  string        `env:"JWT_PUBLIC_KEY_PATH"`
	TokenExpire       time.Duration `env:"TOKEN_EXPIRE_TIME" envDefault:"72h"`

	// Engine subprocess for bot seats. Empty disables bot requests.
	EngineBinary  string        `env:"ENGINE_BINARY" envDefault:"stockfish"`
	EngineTimeout time.Duration `env:"ENGINE_TIMEOUT" envDefault:"10s"`

	// Session lifecycle.
	DefaultTimeBudget time.Duration `env:"DEFAULT_TIME_BUDGET" envDefault:"5m"`
	DisconnectGrace   time.Duration `env:"DISCONNECT_GRACE" envDefault:"60s"`
	FirstMoveDeadline time.Duration `env:"FIRST_MOVE_DEADLINE" envDefault:"60s"`
	TerminalLinger    time.Duration `env:"TERMINAL_LINGER" envDefault:"10m"`

	// Matchmaking.
	QueueSweepInterval time.Duration `env:"QUEUE_SWEEP_INTERVAL" envDefault:"2s"`
	QueueWidenEvery    time.Duration `env:"QUEUE_WIDEN_EVERY" envDefault:"10s"`
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
