// Package config loads and validates run configuration from YAML.
// Unknown keys are rejected so typos fail loudly instead of silently
// falling back to defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the file-level configuration. Flags override these values;
// the file covers the stable knobs of a deployment.
type Config struct {
	// Output
	OutPath string `yaml:"out_path" validate:"required"`
	Append  bool   `yaml:"append"`

	// Generation
	Quantity       int    `yaml:"quantity" validate:"gte=1"`
	BatchSize      int    `yaml:"batch_size" validate:"gte=1"`
	TimePeriod     string `yaml:"time_period" validate:"omitempty,oneof=ate1930 ate1940 ate1950 ate1960 ate1970 ate1980 ate1990 ate2000 ate2010"`
	AlwaysMiddle   bool   `yaml:"always_middle"`
	CEPWithoutDash bool   `yaml:"cep_without_dash"`
	Seed           int64  `yaml:"seed"`

	// Documents
	CPF           bool `yaml:"cpf"`
	RG            bool `yaml:"rg"`
	PIS           bool `yaml:"pis"`
	CNPJ          bool `yaml:"cnpj"`
	CEI           bool `yaml:"cei"`
	Phone         bool `yaml:"phone"`
	IncludeIssuer bool `yaml:"include_issuer"`

	// Resolution
	Resolve   ResolveConfig `yaml:"resolve"`
	CachePath string        `yaml:"cache_path"`

	// Extra location sources merged over the embedded data.
	LocationSources []string `yaml:"location_sources" validate:"dive,required"`
}

// ResolveConfig tunes the address-resolution pool.
type ResolveConfig struct {
	Mode           string        `yaml:"mode" validate:"oneof=offline external"`
	Command        []string      `yaml:"command"`
	Workers        int           `yaml:"workers" validate:"gte=1"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=1"`
	RetryDelay     time.Duration `yaml:"retry_delay" validate:"gte=0"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"gt=0"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		OutPath:    "out.jsonl",
		Quantity:   1,
		BatchSize:  100,
		TimePeriod: "ate2010",
		Resolve: ResolveConfig{
			Mode:           "offline",
			Workers:        100,
			MaxRetries:     100,
			RetryDelay:     10 * time.Millisecond,
			AttemptTimeout: 15 * time.Second,
		},
	}
}

// LoadFile reads a YAML config over the defaults. Unknown keys are an
// error.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the struct-level constraints plus the cross-field
// rule that external mode needs a resolver command.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Resolve.Mode == "external" && len(c.Resolve.Command) == 0 {
		return fmt.Errorf("invalid config: resolve.command is required in external mode")
	}
	return nil
}
