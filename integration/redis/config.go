package redis

import "time"

// Config holds Redis connection settings.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	// Mirror settings. An empty MirrorChannel disables the pub/sub fan-out.
	MirrorKey     string        `env:"REDIS_MIRROR_KEY" envDefault:"loginflow:state"`
	MirrorChannel string        `env:"REDIS_MIRROR_CHANNEL" envDefault:"loginflow:snapshots"`
	MirrorTTL     time.Duration `env:"REDIS_MIRROR_TTL" envDefault:"24h"`
}
