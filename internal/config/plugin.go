package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	commoncfg "github.com/SixerrAI/sixerr-plugin/core/config"
)

// PluginConfig holds configuration for the plugin process.
type PluginConfig struct {
	BrokerURL      string        `yaml:"broker_url"`
	JWT            string        `yaml:"jwt"`
	Provider       string        `yaml:"provider"`
	Model          string        `yaml:"model"`
	BackendBaseURL string        `yaml:"backend_base_url"`
	BackendAPIKey  string        `yaml:"backend_api_key"`
	PluginID       string        `yaml:"plugin_id"`
	PluginName     string        `yaml:"plugin_name"`
	StatusAddr     string        `yaml:"status_addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	RequestTimeout time.Duration `yaml:"-"`
	Reconnect      bool          `yaml:"reconnect"`
	ConfigFile     string        `yaml:"-"`
	LogLevel       string        `yaml:"log_level"`
}

// BindFlags seeds the config from the environment and registers the
// command-line flags. Flags override environment values.
func (c *PluginConfig) BindFlags() {
	c.ConfigFile = commoncfg.GetEnv("CONFIG_FILE", commoncfg.DefaultConfigPath("plugin.yaml"))
	c.LogLevel = commoncfg.GetEnv("LOG_LEVEL", "info")

	c.BrokerURL = commoncfg.GetEnv("BROKER_URL", "wss://broker.sixerr.ai/plugin/connect")
	c.JWT = commoncfg.GetEnv("PLUGIN_JWT", "")
	c.Provider = commoncfg.GetEnv("PROVIDER", "openai-compatible")
	c.Model = commoncfg.GetEnv("MODEL", "")
	c.BackendBaseURL = commoncfg.GetEnv("BACKEND_BASE_URL", "http://127.0.0.1:11434/v1")
	c.BackendAPIKey = commoncfg.GetEnv("BACKEND_API_KEY", "")
	c.PluginID = commoncfg.GetEnv("PLUGIN_ID", "")
	c.StatusAddr = commoncfg.GetEnv("STATUS_ADDR", "")
	c.MetricsAddr = commoncfg.GetEnv("METRICS_ADDR", "")
	if v, err := strconv.ParseFloat(commoncfg.GetEnv("REQUEST_TIMEOUT", "120"), 64); err == nil {
		c.RequestTimeout = time.Duration(v * float64(time.Second))
	} else {
		c.RequestTimeout = 2 * time.Minute
	}
	if b, err := strconv.ParseBool(commoncfg.GetEnv("RECONNECT", "true")); err == nil {
		c.Reconnect = b
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "plugin-" + uuid.NewString()[:8]
	}
	c.PluginName = commoncfg.GetEnv("PLUGIN_NAME", host)

	flag.StringVar(&c.BrokerURL, "broker-url", c.BrokerURL, "broker WebSocket URL (e.g. wss://broker.sixerr.ai/plugin/connect)")
	flag.StringVar(&c.JWT, "jwt", c.JWT, "JWT credential for the broker session")
	flag.StringVar(&c.Provider, "provider", c.Provider, "LLM backend provider name")
	flag.StringVar(&c.Model, "model", c.Model, "backend model id served by this plugin")
	flag.StringVar(&c.BackendBaseURL, "backend-base-url", c.BackendBaseURL, "base URL of the OpenAI-compatible backend (e.g. http://127.0.0.1:11434/v1)")
	flag.StringVar(&c.BackendAPIKey, "backend-api-key", c.BackendAPIKey, "API key for the backend; leave empty for no auth")
	flag.StringVar(&c.PluginID, "plugin-id", c.PluginID, "plugin instance identifier; randomly generated if omitted")
	flag.StringVar(&c.PluginName, "plugin-name", c.PluginName, "plugin display name shown in logs and status")
	flag.StringVar(&c.StatusAddr, "status-addr", c.StatusAddr, "local status HTTP listen address (enables /status; e.g. 127.0.0.1:4555)")
	flag.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus metrics listen address (disabled when empty)")
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "plugin config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.Func("request-timeout", "request deadline in seconds", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RequestTimeout = time.Duration(f * float64(time.Second))
		return nil
	})
	flag.BoolVar(&c.Reconnect, "reconnect", c.Reconnect, "reconnect to the broker on failure")
}

// LoadFile populates the config from a YAML file. Fields already set remain
// unless overwritten by corresponding entries in the file. request_timeout
// is in seconds, like the flag and env knobs.
func (c *PluginConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return err
	}
	var extra struct {
		RequestTimeout *float64 `yaml:"request_timeout"`
	}
	if err := yaml.Unmarshal(b, &extra); err != nil {
		return err
	}
	if extra.RequestTimeout != nil {
		c.RequestTimeout = time.Duration(*extra.RequestTimeout * float64(time.Second))
	}
	return nil
}
