package stream

// Settings holds the transport configuration for the update stream. When
// Redis is disabled the backend runs on an in-process pub/sub, which is the
// default for single-binary deployments.
type Settings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:  false,
		Addr:     "localhost:6379",
		Group:    "livestate-ui",
		Consumer: "ui-1",
	}
}
