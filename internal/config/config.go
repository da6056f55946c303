// Package config loads Kestrel configuration from defaults, an optional YAML
// file and KESTREL_ environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. KESTREL_SERVER_PORT.
const EnvPrefix = "KESTREL_"

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(domain.DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	// Env names are upper case with "_" between words, so they are matched
	// against the known camelCase keys with separators ignored. Both
	// KESTREL_SCREENING_ASSIGNMENT_POLICY and KESTREL_SCREENING_ASSIGNMENTPOLICY
	// set screening.assignmentPolicy.
	known := make(map[string]string, len(k.Keys()))
	for _, key := range k.Keys() {
		known[squash(key, ".")] = key
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		name := strings.TrimPrefix(s, EnvPrefix)
		if actual, ok := known[squash(name, "_")]; ok {
			return actual
		}
		return strings.ReplaceAll(strings.ToLower(name), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// squash lowercases s and drops every sep.
func squash(s, sep string) string {
	return strings.ToLower(strings.ReplaceAll(s, sep, ""))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the validate tags on the config structs.
func Validate(cfg *domain.Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Repository.Driver == "postgres" && cfg.Repository.PostgresDSN == "" && cfg.Repository.PostgresHost == "" {
		return fmt.Errorf("invalid config: postgres driver needs postgresDsn or postgresHost")
	}
	if cfg.Cache.Type == "redis" && cfg.Cache.RedisAddr == "" {
		return fmt.Errorf("invalid config: redis cache needs redisAddr")
	}
	if cfg.EventBus.Type == "nats" && cfg.EventBus.NATSUrl == "" {
		return fmt.Errorf("invalid config: nats bus needs natsUrl")
	}
	return nil
}
