package login

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/loginflow/core/operation"
	"github.com/dmitrymomot/loginflow/core/supervisor"
	"github.com/dmitrymomot/loginflow/pkg/broadcast"
)

// Config holds the orchestrator settings.
type Config struct {
	Delay           time.Duration `env:"LOGIN_DELAY" envDefault:"100ms"`
	Policy          string        `env:"LOGIN_POLICY" envDefault:"await_unless_cancelled"`
	Grace           time.Duration `env:"LOGIN_GRACE" envDefault:"50ms"`
	Handler         string        `env:"LOGIN_HANDLER" envDefault:"installed"`
	HandlerEmission string        `env:"LOGIN_HANDLER_EMISSION" envDefault:"inline"`
	Variant         string        `env:"LOGIN_VARIANT" envDefault:"propagate"`
	Fault           string        `env:"LOGIN_FAULT"`
	ParentFault     bool          `env:"LOGIN_PARENT_FAULT" envDefault:"false"`
	PublishMode     string        `env:"LOGIN_PUBLISH_MODE" envDefault:"inline"`
	QueueCapacity   int           `env:"LOGIN_QUEUE_CAPACITY" envDefault:"-1"`
	// QueueRetain keeps queue values published while no consumer is
	// subscribed. Hosts with transient consumers should disable it.
	QueueRetain     bool          `env:"LOGIN_QUEUE_RETAIN" envDefault:"true"`
	ReplaySize      int           `env:"LOGIN_REPLAY_SIZE" envDefault:"1"`
	ParallelEmits   int           `env:"LOGIN_PARALLEL_EMITS" envDefault:"0"`
	IOPoolSize      int64         `env:"LOGIN_IO_POOL_SIZE" envDefault:"4"`
	FlushTimeout    time.Duration `env:"LOGIN_FLUSH_TIMEOUT" envDefault:"5s"`
	LogLevel        string        `env:"LOGIN_LOG_LEVEL" envDefault:"info"`
}

// DefaultConfig returns the values of the envDefault tags.
func DefaultConfig() Config {
	return Config{
		Delay:           operation.DefaultDelay,
		Policy:          "await_unless_cancelled",
		Grace:           50 * time.Millisecond,
		Handler:         "installed",
		HandlerEmission: "inline",
		Variant:         "propagate",
		PublishMode:     "inline",
		QueueCapacity:   broadcast.Unbounded,
		QueueRetain:     true,
		ReplaySize:      1,
		IOPoolSize:      4,
		FlushTimeout:    5 * time.Second,
		LogLevel:        "info",
	}
}

// settings is a Config with every field parsed.
type settings struct {
	policy      supervisor.Policy
	handler     supervisor.HandlerMode
	emission    supervisor.Emission
	variant     operation.Variant
	fault       operation.Fault
	publishMode broadcast.PublishMode
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	_, err := c.parse()
	return err
}

func (c Config) parse() (settings, error) {
	var (
		s    settings
		errs []error
		err  error
	)

	if s.policy, err = supervisor.ParsePolicy(c.Policy, c.Grace); err != nil {
		errs = append(errs, err)
	}
	if s.handler, err = supervisor.ParseHandlerMode(c.Handler); err != nil {
		errs = append(errs, err)
	}
	if s.emission, err = supervisor.ParseEmission(c.HandlerEmission); err != nil {
		errs = append(errs, err)
	}
	if s.variant, err = operation.ParseVariant(c.Variant); err != nil {
		errs = append(errs, err)
	}
	if s.fault, err = operation.ParseFault(c.Fault); err != nil {
		errs = append(errs, err)
	}
	if s.publishMode, err = broadcast.ParsePublishMode(c.PublishMode); err != nil {
		errs = append(errs, err)
	}
	if c.Delay < 0 {
		errs = append(errs, fmt.Errorf("delay must not be negative, got %s", c.Delay))
	}
	if c.ParallelEmits < 0 {
		errs = append(errs, fmt.Errorf("parallel emits must not be negative, got %d", c.ParallelEmits))
	}
	if c.IOPoolSize < 1 {
		errs = append(errs, fmt.Errorf("io pool size must be positive, got %d", c.IOPoolSize))
	}

	return s, errors.Join(errs...)
}
