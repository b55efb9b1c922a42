/*
Copyright (c) 2025 Mike Lane

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultServiceSelector matches workloads deployed through KubeVela
	DefaultServiceSelector = "app.kubernetes.io/managed-by=kubevela"

	// DefaultDiscoveryInterval is the cadence between discovery ticks
	DefaultDiscoveryInterval = "5m"

	// DefaultRetryDelay is the base delay for exponential backoff after a failed tick
	DefaultRetryDelay = "30s"

	serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
)

// Config holds the full configuration surface of the meshd process. Values are
// loaded from struct defaults, an optional YAML file, and environment
// variables, in increasing order of priority.
type Config struct {
	// Namespace scopes discovery to a single namespace. Empty means
	// all-namespaces. When unset it defaults to the in-cluster service
	// account namespace if one is mounted.
	Namespace string `koanf:"namespace"`

	// ServiceSelectorLabels is the label selector applied to both Knative
	// and regular service listings, e.g. "app.kubernetes.io/managed-by=kubevela".
	ServiceSelectorLabels string `koanf:"service_selector_labels"`

	// DiscoveryInterval is the cadence between discovery ticks, in the
	// "<number><unit>" grammar accepted by ParseInterval.
	DiscoveryInterval string `koanf:"discovery_interval"`

	// AutoDiscovery controls whether the discovery loop starts with the process.
	AutoDiscovery bool `koanf:"auto_discovery"`

	// MaxRetries bounds consecutive retry attempts after a failed tick.
	MaxRetries int `koanf:"max_retries"`

	// RetryDelay is the base backoff delay, doubled on each consecutive retry.
	RetryDelay string `koanf:"retry_delay"`

	// MeshConfigMapName is the ConfigMap the mesh configuration is published to.
	MeshConfigMapName string `koanf:"mesh_config_map_name"`

	// Gateway server knobs.
	GatewayPort         int      `koanf:"gateway_port"`
	Host                string   `koanf:"host"`
	EnablePlayground    bool     `koanf:"enable_playground"`
	EnableIntrospection bool     `koanf:"enable_introspection"`
	CORSOrigins         []string `koanf:"cors_origins"`

	interval   time.Duration
	retryDelay time.Duration
}

func defaults() Config {
	return Config{
		ServiceSelectorLabels: DefaultServiceSelector,
		DiscoveryInterval:     DefaultDiscoveryInterval,
		AutoDiscovery:         true,
		MaxRetries:            3,
		RetryDelay:            DefaultRetryDelay,
		MeshConfigMapName:     "meshd-gateway-config",
		GatewayPort:           8080,
		Host:                  "0.0.0.0",
		EnablePlayground:      false,
		EnableIntrospection:   true,
		CORSOrigins:           []string{"*"},
	}
}

// Load builds a Config from defaults, an optional YAML file, and environment
// variables. Environment variables use the bare upper-snake names of the
// fields (NAMESPACE, SERVICE_SELECTOR_LABELS, DISCOVERY_INTERVAL,
// AUTO_DISCOVERY, MAX_RETRIES, RETRY_DELAY, GATEWAY_PORT, HOST, ...).
//
// Invalid values (unknown interval units, out-of-range ports) fail here,
// before the loop or server ever starts.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	def := defaults()
	if err := k.Load(structs.Provider(def, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		if err := k.Load(file.Provider(configPath), koanfyaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Environment variables map 1:1 onto lower-snake config keys.
	envProvider := env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = serviceAccountNamespace()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and caches the parsed durations. It must
// be called after any field mutation; Load calls it automatically.
func (c *Config) Validate() error {
	interval, err := ParseInterval(c.DiscoveryInterval)
	if err != nil {
		return fmt.Errorf("discovery_interval: %w", err)
	}
	c.interval = interval

	retryDelay, err := ParseInterval(c.RetryDelay)
	if err != nil {
		return fmt.Errorf("retry_delay: %w", err)
	}
	c.retryDelay = retryDelay

	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries: must not be negative, got %d", c.MaxRetries)
	}
	if c.GatewayPort < 1 || c.GatewayPort > 65535 {
		return fmt.Errorf("gateway_port: must be in range 1-65535, got %d", c.GatewayPort)
	}
	if c.MeshConfigMapName == "" {
		return fmt.Errorf("mesh_config_map_name: must not be empty")
	}

	// CORS_ORIGINS arrives from the environment as one comma-separated value.
	if len(c.CORSOrigins) == 1 && strings.Contains(c.CORSOrigins[0], ",") {
		parts := strings.Split(c.CORSOrigins[0], ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		c.CORSOrigins = origins
	}
	return nil
}

// Interval returns the parsed discovery interval. Valid only after Validate.
func (c *Config) Interval() time.Duration { return c.interval }

// RetryInterval returns the parsed base retry delay. Valid only after Validate.
func (c *Config) RetryInterval() time.Duration { return c.retryDelay }

// ListenAddr returns the host:port address the gateway server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GatewayPort)
}

// serviceAccountNamespace reads the namespace the pod runs in, when mounted.
// Outside a cluster it returns empty, which means all-namespaces discovery.
func serviceAccountNamespace() string {
	data, err := os.ReadFile(serviceAccountNamespaceFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
