// Package config loads the small set of options a runtime embedder needs to
// stand up the session/dispatch core (spec §6.4): which protocol versions
// to accept, how verbosely to log, and where to mount the SSE routes. It
// does not itself construct an HTTP server or parse CLI flags — those
// remain the embedder's concern, per the runtime's own scope.
package config

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Mode gates which HTTP routes beyond /sse are exposed. Debug/inspect
// routes for session introspection are out of scope for this runtime; the
// field is carried so an embedder can branch on it.
type Mode string

const (
	ModeSSEOnly Mode = "sse-only"
	ModeDebug   Mode = "debug"
	ModeInspect Mode = "inspect"
)

// TransportSelect chooses which transport adapter a process runs.
type TransportSelect string

const (
	TransportSelectSSE   TransportSelect = "sse"
	TransportSelectStdio TransportSelect = "stdio"
)

// Config is the environment-variable-decoded configuration surface for a
// runtime process, matching the recognized options in spec §6.4.
type Config struct {
	SupportedVersions []string        `env:"MCP_SUPPORTED_VERSIONS,default=2024-11-05"`
	LogLevel          string          `env:"MCP_LOG_LEVEL,default=info"`
	PathPrefix        string          `env:"MCP_PATH_PREFIX,default="`
	BindHost          string          `env:"MCP_BIND_HOST,default=127.0.0.1"`
	BindPort          int             `env:"MCP_BIND_PORT,default=8080"`
	Mode              Mode            `env:"MCP_MODE,default=sse-only"`
	TransportSelect   TransportSelect `env:"MCP_TRANSPORT,default=sse"`
}

// Load decodes a Config from the process environment, applying the same
// defaults spec §6.4 specifies, and validates the shape of path_prefix.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants spec §6.4 places on path_prefix: it must
// start with "/" if non-empty, and must not end with "/".
func (c Config) Validate() error {
	if c.PathPrefix == "" {
		return nil
	}
	if !strings.HasPrefix(c.PathPrefix, "/") {
		return fmt.Errorf("path_prefix %q must start with '/'", c.PathPrefix)
	}
	if strings.HasSuffix(c.PathPrefix, "/") {
		return fmt.Errorf("path_prefix %q must not end with '/'", c.PathPrefix)
	}
	return nil
}
