package cli

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	responsetransformer "github.com/always-cache/respcache/pkg/response-transformer"
)

type Config struct {
	Proxy ProxyConfig `yaml:"proxy"`
}

type ProxyConfig struct {
	Addr  string `yaml:"addr"`
	Admin string `yaml:"admin"`
	// Provider is "memory" or "sqlite".
	Provider string `yaml:"provider"`
	Capacity int    `yaml:"capacity"`
	// DisableCache turns the proxy into a plain relay.
	DisableCache        bool          `yaml:"disableCache"`
	HeuristicLifetime   time.Duration `yaml:"heuristicLifetime"`
	Timeout             time.Duration `yaml:"timeout"`
	RequireCacheControl bool          `yaml:"requireCacheControl"`
	Bypass              []string      `yaml:"bypass"`
	OTLPEndpoint        string        `yaml:"otlpEndpoint"`
	// Rules are only read from the config file.
	Rules responsetransformer.Rules `yaml:"rules"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
