package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/livestate/pkg/stream"
)

type Config struct {
	Addr     string          `yaml:"addr"`
	Topic    string          `yaml:"topic"`
	Interval time.Duration   `yaml:"interval"`
	Redis    stream.Settings `yaml:"redis"`
	// Journal is an optional sqlite DSN the watch command appends received
	// payloads to.
	Journal string `yaml:"journal"`
}

func defaultConfig() Config {
	return Config{
		Addr:     ":8080",
		Topic:    "state",
		Interval: time.Second,
		Redis:    stream.DefaultSettings(),
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}
