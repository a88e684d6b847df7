// Package config centralises the declarative configuration contract for a
// mongoose server instance. Handler and source instances are supplied in
// code; this package carries the names, strategies, and capacities that
// bind them together.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// IdleStrategyName selects an agent idle strategy.
type IdleStrategyName string

const (
	// IdleBusySpin never yields the agent's core.
	IdleBusySpin IdleStrategyName = "busy-spin"
	// IdleYielding yields the core after an empty duty cycle.
	IdleYielding IdleStrategyName = "yielding"
	// IdleSleeping parks the thread briefly after an empty duty cycle.
	IdleSleeping IdleStrategyName = "sleeping"
)

// WrapStrategyName selects how a source's publisher packages values.
type WrapStrategyName string

const (
	WrapSubscriptionNoWrap     WrapStrategyName = "subscription-nowrap"
	WrapSubscriptionNamedEvent WrapStrategyName = "subscription-named-event"
	WrapBroadcastNoWrap        WrapStrategyName = "broadcast-nowrap"
	WrapBroadcastNamedEvent    WrapStrategyName = "broadcast-named-event"
)

// SlowConsumerStrategyName selects a publisher's full-queue policy.
type SlowConsumerStrategyName string

const (
	SlowConsumerBackoff     SlowConsumerStrategyName = "backoff"
	SlowConsumerDisconnect  SlowConsumerStrategyName = "disconnect"
	SlowConsumerExitProcess SlowConsumerStrategyName = "exit-process"
)

// SourceConfig declares one event source.
type SourceConfig struct {
	Name          string                   `yaml:"name"`
	AgentGroup    string                   `yaml:"agentGroup"`
	IdleStrategy  IdleStrategyName         `yaml:"idleStrategy"`
	WrapStrategy  WrapStrategyName         `yaml:"wrapStrategy"`
	Broadcast     bool                     `yaml:"broadcast"`
	SlowConsumer  SlowConsumerStrategyName `yaml:"slowConsumer"`
	CacheEventLog bool                     `yaml:"cacheEventLog"`
	CoreID        *int                     `yaml:"coreId"`
}

// ProcessorConfig declares one processor hosted on an agent group.
type ProcessorConfig struct {
	Name          string            `yaml:"name"`
	AgentGroup    string            `yaml:"agentGroup"`
	InitialConfig map[string]string `yaml:"initialConfig"`
}

// SinkConfig declares one event sink.
type SinkConfig struct {
	Name         string           `yaml:"name"`
	AgentGroup   string           `yaml:"agentGroup"`
	IdleStrategy IdleStrategyName `yaml:"idleStrategy"`
	Sources      []string         `yaml:"sources"`
}

// ServiceConfig declares one container-level service.
type ServiceConfig struct {
	Name         string           `yaml:"name"`
	Type         string           `yaml:"type"`
	AgentGroup   string           `yaml:"agentGroup"`
	IdleStrategy IdleStrategyName `yaml:"idleStrategy"`
}

// RetryConfig shapes the reader retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	Multiplier  float64       `yaml:"multiplier"`
}

// TelemetryConfig selects the optional OTLP metrics export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings is the configuration tree for one server instance.
type Settings struct {
	DefaultIdleStrategy IdleStrategyName  `yaml:"defaultIdleStrategy"`
	QueueCapacity       int               `yaml:"queueCapacity"`
	ErrorHistorySize    int               `yaml:"errorHistorySize"`
	Retry               RetryConfig       `yaml:"retry"`
	Telemetry           TelemetryConfig   `yaml:"telemetry"`
	Sources             []SourceConfig    `yaml:"sources"`
	Processors          []ProcessorConfig `yaml:"processors"`
	Sinks               []SinkConfig      `yaml:"sinks"`
	Services            []ServiceConfig   `yaml:"services"`
}

// Default returns the baseline settings applied underneath any loaded
// file.
func Default() Settings {
	return Settings{
		DefaultIdleStrategy: IdleYielding,
		QueueCapacity:       256,
		ErrorHistorySize:    1024,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    100 * time.Millisecond,
			Multiplier:  2,
		},
	}
}

// Load reads and validates settings from a YAML file, layered over the
// defaults.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but falls back to defaults when the file
// does not exist; the second return reports whether a file was loaded.
func LoadOrDefault(path string) (Settings, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), false, nil
		}
		return Settings{}, false, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Settings{}, false, err
	}
	return cfg, true, nil
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (Settings, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Settings{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Validate rejects duplicate names, unknown strategy names, and invalid
// capacities.
func (s Settings) Validate() error {
	if s.QueueCapacity < 2 {
		return fmt.Errorf("queueCapacity must be >= 2, got %d", s.QueueCapacity)
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be >= 1, got %d", s.Retry.MaxAttempts)
	}
	if err := validIdle(s.DefaultIdleStrategy); err != nil {
		return err
	}
	seenSources := make(map[string]struct{}, len(s.Sources))
	for _, src := range s.Sources {
		if strings.TrimSpace(src.Name) == "" {
			return fmt.Errorf("source name must be non-empty")
		}
		if _, dup := seenSources[src.Name]; dup {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seenSources[src.Name] = struct{}{}
		if src.WrapStrategy != "" {
			switch src.WrapStrategy {
			case WrapSubscriptionNoWrap, WrapSubscriptionNamedEvent, WrapBroadcastNoWrap, WrapBroadcastNamedEvent:
			default:
				return fmt.Errorf("source %q: unknown wrap strategy %q", src.Name, src.WrapStrategy)
			}
		}
		if src.SlowConsumer != "" {
			switch src.SlowConsumer {
			case SlowConsumerBackoff, SlowConsumerDisconnect, SlowConsumerExitProcess:
			default:
				return fmt.Errorf("source %q: unknown slow-consumer strategy %q", src.Name, src.SlowConsumer)
			}
		}
		if src.IdleStrategy != "" {
			if err := validIdle(src.IdleStrategy); err != nil {
				return fmt.Errorf("source %q: %w", src.Name, err)
			}
		}
	}
	seenProcessors := make(map[string]struct{}, len(s.Processors))
	for _, p := range s.Processors {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("processor name must be non-empty")
		}
		key := p.AgentGroup + "/" + p.Name
		if _, dup := seenProcessors[key]; dup {
			return fmt.Errorf("duplicate processor %q in agent group %q", p.Name, p.AgentGroup)
		}
		seenProcessors[key] = struct{}{}
	}
	for _, sink := range s.Sinks {
		if strings.TrimSpace(sink.Name) == "" {
			return fmt.Errorf("sink name must be non-empty")
		}
		for _, source := range sink.Sources {
			if _, ok := seenSources[source]; !ok {
				return fmt.Errorf("sink %q references unknown source %q", sink.Name, source)
			}
		}
	}
	return nil
}

func validIdle(name IdleStrategyName) error {
	switch name {
	case "", IdleBusySpin, IdleYielding, IdleSleeping:
		return nil
	default:
		return fmt.Errorf("unknown idle strategy %q", name)
	}
}
