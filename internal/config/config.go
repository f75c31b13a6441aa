// Package config loads the master's engine-option table: a comma-separated
// key=value string (the traditional Pachi engine-parameter form), an
// optional YAML file carrying the same keys, or both with the string form
// taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config holds the engine options described in spec.md §6's configuration
// table.
type Config struct {
	SlavePort  int    `yaml:"slave_port"`
	ProxyPort  int    `yaml:"proxy_port"`
	MaxSlaves  int    `yaml:"max_slaves"`
	SlavesQuit bool   `yaml:"slaves_quit"`
	extra      map[string]string
}

// defaults mirror spec.md §6: every key but slave_port has one, and a
// missing slave_port is a fatal configuration error.
func defaults() Config {
	return Config{
		ProxyPort:  0,
		MaxSlaves:  100,
		SlavesQuit: false,
		extra:      map[string]string{},
	}
}

// Load builds a Config from an optional YAML file path and an optional
// comma-separated options string, in that order, with options-string keys
// overriding anything the file set. Either argument may be empty.
func Load(yamlPath, options string) (Config, error) {
	cfg := defaults()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", yamlPath, err)
		}
	}

	if options != "" {
		if err := cfg.applyOptions(options); err != nil {
			return Config{}, err
		}
	}

	if cfg.SlavePort == 0 {
		return Config{}, fmt.Errorf("config: slave_port is required")
	}
	return cfg, nil
}

// applyOptions parses "key=value,key=value,..." and overlays it onto cfg.
// Unknown keys are kept in cfg.extra and only ever warned about by the
// caller, never treated as fatal, per spec.md §6.
func (c *Config) applyOptions(options string) error {
	for _, pair := range strings.Split(options, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key := kv[0]
		val := ""
		if len(kv) == 2 {
			val = kv[1]
		}
		switch key {
		case "slave_port":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("config: slave_port=%q: %w", val, err)
			}
			c.SlavePort = n
		case "proxy_port":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("config: proxy_port=%q: %w", val, err)
			}
			c.ProxyPort = n
		case "max_slaves":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("config: max_slaves=%q: %w", val, err)
			}
			c.MaxSlaves = n
		case "slaves_quit":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("config: slaves_quit=%q: %w", val, err)
			}
			c.SlavesQuit = b
		default:
			if c.extra == nil {
				c.extra = map[string]string{}
			}
			c.extra[key] = val
		}
	}
	return nil
}

// UnknownKeys returns the options keys Load saw but did not recognize, so
// the caller can log a warning for each without treating it as fatal.
func (c Config) UnknownKeys() []string {
	keys := make([]string, 0, len(c.extra))
	for k := range c.extra {
		keys = append(keys, k)
	}
	return keys
}
