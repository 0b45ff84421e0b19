package argoproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/argonne-lcf/argoproxy/internal/logging"
)

// Environment variables recognized by the loader. They override file
// values; the CLI exports its flags through them so there is a single
// precedence chain.
const (
	EnvConfigPath = "CONFIG_PATH"
	EnvShowConfig = "SHOW_CONFIG"
	EnvHost       = "HOST"
	EnvPort       = "PORT"
	EnvNumWorkers = "NUM_WORKERS"
	EnvVerbose    = "VERBOSE"
)

// SearchPaths lists where configuration is looked for when CONFIG_PATH is
// unset, in priority order.
func SearchPaths() []string {
	paths := make([]string, 0, 3)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "argoproxy", "config.yaml"),
			filepath.Join(home, ".argoproxy", "config.yaml"),
		)
	}
	return append(paths, "config.yaml")
}

// DefaultConfigPath is where the first-run dialog persists its result.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "argoproxy", "config.yaml")
}

// Load resolves the proxy configuration: CONFIG_PATH or the search paths,
// the first-run dialog when nothing is found, then environment overrides
// and validation.
func Load() (*Config, error) {
	var cfg *Config

	if path := os.Getenv(EnvConfigPath); path != "" {
		c, err := LoadPath(path)
		if err != nil {
			return nil, err
		}
		logging.Logger.Info("loaded config", "path", path)
		cfg = c
	} else {
		for _, path := range SearchPaths() {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			c, err := LoadPath(path)
			if err != nil {
				return nil, err
			}
			logging.Logger.Info("loaded config", "path", path)
			cfg = c
			break
		}
	}

	if cfg == nil {
		created, err := createInteractive()
		if err != nil {
			return nil, err
		}
		cfg = created
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if showConfig() {
		fmt.Println(cfg.String())
	}
	return cfg, nil
}

// LoadPath reads one config file and fills unset fields with defaults.
// Supported formats: YAML (.yaml, .yml) and JSON (.json).
func LoadPath(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := NewConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvHost); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv(EnvNumWorkers); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvNumWorkers, v, err)
		}
		cfg.NumWorkers = workers
	}
	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Verbose = parseBool(v)
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "t", "true", "y", "yes":
		return true
	}
	return false
}

func showConfig() bool {
	return parseBool(os.Getenv(EnvShowConfig))
}

// ValidateUser enforces the upstream identity rules: non-empty, no
// whitespace, and never the shared service account.
func ValidateUser(user string) error {
	switch {
	case strings.TrimSpace(user) == "":
		return fmt.Errorf("username cannot be empty")
	case strings.ContainsAny(user, " \t"):
		return fmt.Errorf("username cannot contain whitespace")
	case strings.EqualFold(user, "cels"):
		return fmt.Errorf("username %q is not allowed", user)
	}
	return nil
}

// Validate checks the effective configuration. On a terminal, a rejected
// username or a taken port can be fixed interactively; otherwise they are
// fatal. Upstream connectivity problems are never fatal on their own.
func (c *Config) Validate() error {
	if err := ValidateUser(c.User); err != nil {
		if !interactive() {
			return err
		}
		fmt.Printf("Current username is invalid: %v\n", err)
		user, promptErr := promptUser(stdinReader())
		if promptErr != nil {
			return promptErr
		}
		c.User = user
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if !PortAvailable(c.Host, c.Port) {
		if !interactive() {
			return fmt.Errorf("port %d is already in use", c.Port)
		}
		fmt.Printf("Port %d is already in use.\n", c.Port)
		port, err := promptPort(stdinReader(), c.Host, RandomPort(c.Host))
		if err != nil {
			return err
		}
		c.Port = port
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = DefaultNumWorkers
	}

	return c.probeUpstream()
}

// probeUpstream posts minimal requests to the chat and embedding endpoints
// to surface connectivity problems at startup. Failures are logged; on a
// terminal the operator may abort, otherwise startup continues.
func (c *Config) probeUpstream() error {
	probes := []struct {
		name    string
		url     string
		payload map[string]any
	}{
		{
			name: "chat",
			url:  c.ArgoURL,
			payload: map[string]any{
				"model":    "gpt4o",
				"messages": []map[string]string{{"role": "user", "content": "What are you?"}},
				"user":     c.User,
			},
		},
		{
			name: "embedding",
			url:  c.ArgoEmbeddingURL,
			payload: map[string]any{
				"model":  "v3small",
				"prompt": []string{"hello"},
				"user":   c.User,
			},
		},
	}

	failed := false
	for _, probe := range probes {
		if err := postProbe(probe.url, probe.payload); err != nil {
			logging.Logger.Warn("upstream probe failed", "endpoint", probe.name, "url", probe.url, "error", err)
			failed = true
		} else {
			logging.Logger.Info("upstream reachable", "endpoint", probe.name, "url", probe.url)
		}
	}
	if !failed {
		return nil
	}
	if !interactive() {
		return nil
	}
	cont, err := promptYesNo(stdinReader(), "Continue despite connectivity issues? [Y/n] ", true)
	if err != nil {
		return err
	}
	if !cont {
		return fmt.Errorf("startup aborted: upstream unreachable")
	}
	return nil
}

func postProbe(url string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

// PortAvailable reports whether the proxy could bind host:port right now.
func PortAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
