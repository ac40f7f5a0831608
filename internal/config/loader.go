package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore: LCR_MCMC__WALKERS sets mcmc.walkers.
const EnvPrefix = "LCR_"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Load layers defaults, the YAML file at path (if path is non-empty) and the
// environment, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		cleanPath := filepath.Clean(path)
		if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
			return nil, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
		}
		info, err := os.Stat(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
		}
		if err := k.Load(file.Provider(cleanPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg := New()
	cfg.Batch.PCAComponents = nil
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// Comma-separated lists from the environment arrive as one string.
	cfg.Filters = splitList(cfg.Filters)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.fillListDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
