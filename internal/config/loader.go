package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces tierkb environment variables.
const envPrefix = "TIERKB_"

// Load reads configuration from an optional YAML file, then overrides
// with environment variables, then applies defaults and validates.
//
// Precedence (highest to lowest):
//  1. Environment variables (TIERKB_SERVER_PORT, TIERKB_KNOWLEDGE_CHUNK_SIZE, ...)
//  2. YAML config file
//  3. Defaults
//
// Environment variable names map to YAML paths by splitting on the first
// underscore after the prefix: the first segment is the section, the
// remainder keeps its underscores as the field name.
//
//	TIERKB_SERVER_PORT           -> server.port
//	TIERKB_KNOWLEDGE_CHUNK_SIZE  -> knowledge.chunk_size
//	TIERKB_CHAT_DEEPSEEK_API_KEY -> chat.deepseek_api_key
//
// A missing config file is not an error; an unreadable or malformed one is.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
			}
		} else if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
