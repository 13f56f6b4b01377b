// Package config is the configuration loader: compiled-in defaults,
// overridden by an optional config file, overridden by
// LBPROXY_-prefixed environment variables, with BACKEND_NODES as a
// final override of the static node list.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lbproxy/lbproxy/internal/node"
)

// StaticNode is one entry of the static bootstrap node list.
type StaticNode struct {
	ID   string
	Host string
	Port int
}

// Config is the fully-resolved, validated configuration for one run.
type Config struct {
	ServerHost string
	ServerPort int

	RequestTimeout     time.Duration
	RequestMaxAttempts int

	HealthCheckEnabled  bool
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	HealthCheckPath     string

	// HealthDegradedThreshold is the latency cutoff between HEALTHY and
	// DEGRADED, configurable rather than a compiled constant. Default
	// 50ms.
	HealthDegradedThreshold time.Duration

	StaticNodes []StaticNode

	// DiscoveryDNSName and DiscoveryInterval configure DNS-based node
	// discovery. Discovery is disabled when DiscoveryDNSName is empty.
	DiscoveryDNSName string
	DiscoveryInterval time.Duration

	LogLevel string
	LogDev   bool

	ShutdownGrace time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("request.timeout", "10s")
	v.SetDefault("request.maxAttempts", 3)
	v.SetDefault("healthCheck.enabled", true)
	v.SetDefault("healthCheck.interval", "10s")
	v.SetDefault("healthCheck.timeout", "2s")
	v.SetDefault("healthCheck.path", "/health")
	v.SetDefault("healthCheck.degradedThreshold", "50ms")
	v.SetDefault("discovery.dnsName", "")
	v.SetDefault("discovery.interval", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dev", false)
	v.SetDefault("shutdown.grace", "15s")
}

// Load reads defaults, an optional file at path (extension selects the
// decoder: yaml, json, toml), and the environment, in that increasing
// order of precedence, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("lbproxy")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// BACKEND_NODES is read verbatim, unprefixed, unlike every other key.
	v.BindEnv("BACKEND_NODES", "BACKEND_NODES")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := &Config{
		ServerHost:              v.GetString("server.host"),
		ServerPort:              v.GetInt("server.port"),
		RequestTimeout:          v.GetDuration("request.timeout"),
		RequestMaxAttempts:      v.GetInt("request.maxAttempts"),
		HealthCheckEnabled:      v.GetBool("healthCheck.enabled"),
		HealthCheckInterval:     v.GetDuration("healthCheck.interval"),
		HealthCheckTimeout:      v.GetDuration("healthCheck.timeout"),
		HealthCheckPath:         v.GetString("healthCheck.path"),
		HealthDegradedThreshold: v.GetDuration("healthCheck.degradedThreshold"),
		DiscoveryDNSName:        v.GetString("discovery.dnsName"),
		DiscoveryInterval:       v.GetDuration("discovery.interval"),
		LogLevel:                v.GetString("log.level"),
		LogDev:                  v.GetBool("log.dev"),
		ShutdownGrace:           v.GetDuration("shutdown.grace"),
	}

	nodes, err := staticNodes(v)
	if err != nil {
		return nil, err
	}
	cfg.StaticNodes = nodes

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// staticNodes resolves the static node list: BACKEND_NODES, if set and
// non-empty, replaces the file's `nodes` list entirely.
func staticNodes(v *viper.Viper) ([]StaticNode, error) {
	if raw := strings.TrimSpace(v.GetString("BACKEND_NODES")); raw != "" {
		return parseBackendNodes(raw)
	}

	var raw []map[string]interface{}
	if err := v.UnmarshalKey("nodes", &raw); err != nil {
		return nil, fmt.Errorf("config: parsing static node list: %w", err)
	}

	nodes := make([]StaticNode, 0, len(raw))
	for i, entry := range raw {
		id, _ := entry["id"].(string)
		host, _ := entry["host"].(string)
		port, err := toPort(entry["port"])
		if err != nil {
			return nil, fmt.Errorf("config: node %d: %w", i, err)
		}
		if id == "" {
			id = fmt.Sprintf("node-%d", i+1)
		}
		nodes = append(nodes, StaticNode{ID: id, Host: host, Port: port})
	}
	return nodes, nil
}

// parseBackendNodes parses the spec's `host1:port1,host2:port2,...`
// form, assigning 1-based sequential ids.
func parseBackendNodes(raw string) ([]StaticNode, error) {
	parts := strings.Split(raw, ",")
	nodes := make([]StaticNode, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hostPort := strings.Split(part, ":")
		if len(hostPort) != 2 {
			return nil, fmt.Errorf("config: BACKEND_NODES entry %q: want host:port", part)
		}
		port, err := strconv.Atoi(hostPort[1])
		if err != nil {
			return nil, fmt.Errorf("config: BACKEND_NODES entry %q: %w", part, err)
		}
		nodes = append(nodes, StaticNode{
			ID:   fmt.Sprintf("node-%d", i+1),
			Host: hostPort[0],
			Port: port,
		})
	}
	return nodes, nil
}

func toPort(v interface{}) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		return int(val), nil
	case string:
		return strconv.Atoi(val)
	default:
		return 0, fmt.Errorf("invalid port value %v", v)
	}
}

func (c *Config) validate() error {
	if c.RequestMaxAttempts < 1 {
		return fmt.Errorf("config: request.maxAttempts must be >= 1, got %d", c.RequestMaxAttempts)
	}
	for i, n := range c.StaticNodes {
		ep := node.Endpoint{Scheme: node.SchemeHTTP, Host: n.Host, Port: n.Port}
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("config: node %d (%s): %w", i, n.ID, err)
		}
	}
	return nil
}
