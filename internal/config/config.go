package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host                 string
	Port                 int
	DataDir              string   // subsurface data files exposed through the tool server
	ToolsDir             string   // script tool manifests (<name>/tool.toml)
	StateDir             string   // query history database
	AgentBackend         string   // primary backend for backward compat (first in AgentBackends)
	AgentBackends        []string // priority-ordered list: "claude,tools,echo" (default: [AgentBackend])
	ClaudeBinary         string
	QueryTimeout         time.Duration
	ToolTimeout          time.Duration
	HealthInterval       time.Duration // backend re-check period, 0 disables
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	MCPHTTPEnabled       bool
	LogLevel             string
	LogVerbose           bool
	LogFormat            string
	OTELEnabled          bool
	OTELEndpoint         string
	OTELServiceName      string
	OTELEnvironment      string
	OTELInsecure         bool
}

func Load() (*Config, error) {
	host := envOr("HOST", "0.0.0.0")

	port := 8000
	if p := os.Getenv("PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("PORT must be a number: %w", err)
		}
		if port <= 0 || port > 65535 {
			return nil, fmt.Errorf("PORT out of range: %d", port)
		}
	}

	backend := envOr("AGENT_BACKEND", "tools")
	backends := splitList(os.Getenv("AGENT_BACKENDS"))
	if len(backends) == 0 {
		backends = []string{backend}
	} else {
		backend = backends[0]
	}

	queryTimeout, err := durationEnv("QUERY_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	toolTimeout, err := durationEnv("TOOL_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	healthInterval := time.Minute
	if v := strings.TrimSpace(os.Getenv("HEALTH_CHECK_INTERVAL")); v != "0" {
		healthInterval, err = durationEnv("HEALTH_CHECK_INTERVAL", time.Minute)
		if err != nil {
			return nil, err
		}
	} else {
		healthInterval = 0
	}

	origins := splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	allowCredentials, err := boolEnv("CORS_ALLOW_CREDENTIALS", true)
	if err != nil {
		return nil, err
	}
	mcpHTTP, err := boolEnv("MCP_HTTP_ENABLED", true)
	if err != nil {
		return nil, err
	}

	logVerbose, err := boolEnv("LOG_VERBOSE", false)
	if err != nil {
		return nil, err
	}
	otelEnabled, err := boolEnv("OTEL_ENABLED", false)
	if err != nil {
		return nil, err
	}
	otelInsecure, err := boolEnv("OTEL_INSECURE", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		Host:                 host,
		Port:                 port,
		DataDir:              envOr("DATA_DIR", "data"),
		ToolsDir:             envOr("TOOLS_DIR", "tools"),
		StateDir:             envOr("STATE_DIR", "state"),
		AgentBackend:         backend,
		AgentBackends:        backends,
		ClaudeBinary:         envOr("CLAUDE_BINARY", "claude"),
		QueryTimeout:         queryTimeout,
		ToolTimeout:          toolTimeout,
		HealthInterval:       healthInterval,
		CORSAllowedOrigins:   origins,
		CORSAllowCredentials: allowCredentials,
		MCPHTTPEnabled:       mcpHTTP,
		LogLevel:             envOr("LOG_LEVEL", "info"),
		LogVerbose:           logVerbose,
		LogFormat:            envOr("LOG_FORMAT", "text"),
		OTELEnabled:          otelEnabled,
		OTELEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELServiceName:      envOr("OTEL_SERVICE_NAME", "subsurface"),
		OTELEnvironment:      envOr("OTEL_ENVIRONMENT", "dev"),
		OTELInsecure:         otelInsecure,
	}, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HistoryDBPath is where the query history database lives.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.StateDir, "history.db")
}

// CORSAllowsAnyOrigin reports whether the wildcard origin is configured.
func (c *Config) CORSAllowsAnyOrigin() bool {
	for _, o := range c.CORSAllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func boolEnv(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
