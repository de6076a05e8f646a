package agentloop

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds the runtime's tunables. Every field can be set from the
// environment with LoadConfig.
type Config struct {
	// MaxIterations bounds the number of tool dispatch rounds per run.
	MaxIterations int `env:"AGENTRT_MAX_ITERATIONS" envDefault:"10" validate:"gte=0"`
	// MaxParallelTools bounds concurrent calls within one batch. 0 means no limit.
	MaxParallelTools int `env:"AGENTRT_MAX_PARALLEL_TOOLS" envDefault:"8" validate:"gte=0"`
	// WorkerPoolSize is the number of goroutines serving blocking tools.
	WorkerPoolSize int `env:"AGENTRT_WORKER_POOL_SIZE" envDefault:"4" validate:"gte=1"`
	// ToolTimeout bounds each tool call. 0 disables the timeout.
	ToolTimeout time.Duration `env:"AGENTRT_TOOL_TIMEOUT" envDefault:"60s" validate:"gte=0"`

	Model       string   `env:"AGENTRT_MODEL"`
	MaxTokens   int      `env:"AGENTRT_MAX_TOKENS" envDefault:"4096" validate:"gte=1"`
	Temperature *float64 `env:"AGENTRT_TEMPERATURE" validate:"omitempty,gte=0,lte=2"`

	// ToolOutputLimit caps the characters of each tool result shown to the
	// model. 0 disables truncation.
	ToolOutputLimit int `env:"AGENTRT_TOOL_OUTPUT_LIMIT" envDefault:"30000" validate:"gte=0"`
	ToolLineLimit   int `env:"AGENTRT_TOOL_LINE_LIMIT" envDefault:"0" validate:"gte=0"`
	// LoopDetectionWindow is the number of recent tool calls checked for a
	// repeating pattern. 0 disables detection.
	LoopDetectionWindow int `env:"AGENTRT_LOOP_DETECTION_WINDOW" envDefault:"10" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       10,
		MaxParallelTools:    8,
		WorkerPoolSize:      4,
		ToolTimeout:         60 * time.Second,
		MaxTokens:           4096,
		ToolOutputLimit:     30000,
		LoopDetectionWindow: 10,
	}
}

// LoadConfig reads Config from AGENTRT_* environment variables, falling back
// to defaults, and validates the result.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("agentloop: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("agentloop: invalid config: %w", err)
	}
	return nil
}
