package argoproxy

import (
	"encoding/json"
	"net"
	"strconv"
	"time"
)

// Default server and upstream endpoint values. The chat and stream URLs
// point at the dev deployment, embeddings at prod, matching where each API
// is served.
const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 44497
	DefaultArgoURL          = "https://apps-dev.inside.anl.gov/argoapi/api/v1/resource/chat/"
	DefaultArgoStreamURL    = "https://apps-dev.inside.anl.gov/argoapi/api/v1/resource/streamchat/"
	DefaultArgoEmbeddingURL = "https://apps.inside.anl.gov/argoapi/api/v1/resource/embed/"
	DefaultNumWorkers       = 5
	DefaultTimeout          = 600 // seconds
)

// Config holds the runtime configuration for the proxy. It is loaded once
// at startup and treated as immutable afterwards.
type Config struct {
	// Host is the bind address.
	Host string `json:"host" yaml:"host"`
	// Port is the bind port.
	Port int `json:"port" yaml:"port"`
	// User identifies every forwarded request to the upstream; it replaces
	// whatever user field clients send.
	User string `json:"user" yaml:"user"`
	// ArgoURL is the non-streaming chat endpoint.
	ArgoURL string `json:"argo_url" yaml:"argo_url"`
	// ArgoStreamURL is the streaming chat endpoint.
	ArgoStreamURL string `json:"argo_stream_url" yaml:"argo_stream_url"`
	// ArgoEmbeddingURL is the embedding endpoint.
	ArgoEmbeddingURL string `json:"argo_embedding_url" yaml:"argo_embedding_url"`
	// Verbose enables debug-level logging and request/payload dumps.
	Verbose bool `json:"verbose" yaml:"verbose"`
	// NumWorkers caps request-handling parallelism (GOMAXPROCS).
	NumWorkers int `json:"num_workers" yaml:"num_workers"`
	// Timeout is the default per-request deadline in seconds; a request
	// body's timeout field overrides it per call.
	Timeout int `json:"timeout" yaml:"timeout"`
	// TranslateTools turns on the prompt-based function-calling bridge.
	TranslateTools bool `json:"translate_tools" yaml:"translate_tools"`
}

// NewConfig returns a Config populated with defaults. User has no default
// and must come from the file, the environment, or the first-run dialog.
func NewConfig() *Config {
	return &Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		ArgoURL:          DefaultArgoURL,
		ArgoStreamURL:    DefaultArgoStreamURL,
		ArgoEmbeddingURL: DefaultArgoEmbeddingURL,
		Verbose:          true,
		NumWorkers:       DefaultNumWorkers,
		Timeout:          DefaultTimeout,
	}
}

// Addr returns the host:port the server binds.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RequestTimeout returns the configured default per-request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// String renders the pretty JSON form used by --show and startup logging.
func (c *Config) String() string {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(b)
}
