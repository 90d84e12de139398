package config

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once
	cache      sync.Map // reflect.Type -> any (a pointer to a loaded copy)
	loadMu     sync.Mutex
)

// Load parses environment variables into cfg, which must be a non-nil
// pointer to a struct. The first successful load of a type is cached and
// every later call for the same type receives a copy of it.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return fmt.Errorf("config: nil %T", cfg)
	}
	typ := reflect.TypeFor[T]()

	if cached, ok := cache.Load(typ); ok {
		*cfg = *cached.(*T)
		return nil
	}

	loadMu.Lock()
	defer loadMu.Unlock()
	if cached, ok := cache.Load(typ); ok {
		*cfg = *cached.(*T)
		return nil
	}

	dotenvOnce.Do(func() {
		// A missing .env file is the normal case outside development.
		_ = godotenv.Load()
	})

	var loaded T
	if err := env.Parse(&loaded); err != nil {
		return fmt.Errorf("config: parse %s: %w", typ, err)
	}
	cache.Store(typ, &loaded)
	*cfg = loaded
	return nil
}

// MustLoad is Load that panics on failure.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}

// LoadWithPrefix parses cfg with every variable name prefixed, bypassing the
// cache. Used when one type is loaded for several components.
func LoadWithPrefix[T any](cfg *T, prefix string) error {
	if cfg == nil {
		return fmt.Errorf("config: nil %T", cfg)
	}
	dotenvOnce.Do(func() { _ = godotenv.Load() })

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("config: parse %T with prefix %q: %w", *cfg, prefix, err)
	}
	return nil
}

// Reset drops every cached configuration. Intended for tests.
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	cache.Range(func(k, _ any) bool {
		cache.Delete(k)
		return true
	})
}
