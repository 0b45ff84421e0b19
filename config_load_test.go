package argoproxy

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPath_YAML(t *testing.T) {
	data := `
user: alice
port: 8080
verbose: false
translate_tools: true
`
	path := writeTempFile(t, "config.yaml", data)
	cfg, err := LoadPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.User != "alice" {
		t.Errorf("user = %q, want alice", cfg.User)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if cfg.Verbose {
		t.Error("verbose should be overridden to false")
	}
	if !cfg.TranslateTools {
		t.Error("translate_tools should be true")
	}
	// Unset keys keep their defaults.
	if cfg.Host != DefaultHost {
		t.Errorf("host = %q, want default", cfg.Host)
	}
	if cfg.ArgoURL != DefaultArgoURL {
		t.Errorf("argo_url = %q, want default", cfg.ArgoURL)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("timeout = %d, want default", cfg.Timeout)
	}
}

func TestLoadPath_JSON(t *testing.T) {
	path := writeTempFile(t, "config.json", `{"user": "bob", "num_workers": 2}`)
	cfg, err := LoadPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.User != "bob" || cfg.NumWorkers != 2 {
		t.Errorf("got user %q workers %d", cfg.User, cfg.NumWorkers)
	}
}

func TestLoadPath_NonExistentFile(t *testing.T) {
	if _, err := LoadPath("/tmp/does-not-exist-argoproxy-12345.yaml"); err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadPath_InvalidYAML(t *testing.T) {
	path := writeTempFile(t, "bad.yaml", "user: [unclosed")
	if _, err := LoadPath(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadPath_UnsupportedExtension(t *testing.T) {
	path := writeTempFile(t, "config.toml", "user = 'alice'")
	if _, err := LoadPath(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvHost, "127.0.0.1")
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvNumWorkers, "3")
	t.Setenv(EnvVerbose, "false")

	cfg := NewConfig()
	cfg.User = "alice"
	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 9000 || cfg.NumWorkers != 3 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Verbose {
		t.Error("VERBOSE=false should disable verbose")
	}
}

func TestApplyEnvOverrides_BadPort(t *testing.T) {
	t.Setenv(EnvPort, "not-a-number")
	if err := applyEnvOverrides(NewConfig()); err == nil {
		t.Fatal("expected error for non-numeric PORT")
	}
}

func TestValidateUser(t *testing.T) {
	tests := []struct {
		user    string
		wantErr bool
	}{
		{"alice", false},
		{"a.lovelace", false},
		{"", true},
		{"   ", true},
		{"two words", true},
		{"tab\tuser", true},
		{"cels", true},
		{"CELS", true},
		{"Cels", true},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			err := ValidateUser(tt.user)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUser(%q) = %v, wantErr %v", tt.user, err, tt.wantErr)
			}
		})
	}
}

func TestValidate_RejectsInvalidUserNonInteractive(t *testing.T) {
	cfg := NewConfig()
	cfg.User = "cels"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for forbidden username")
	}
}

func TestValidate_RejectsTakenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	cfg := NewConfig()
	cfg.User = "alice"
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "already in use") {
		t.Fatalf("Validate() = %v, want port-in-use error", err)
	}
}

func TestValidate_PortOutOfRange(t *testing.T) {
	cfg := NewConfig()
	cfg.User = "alice"
	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestPortAvailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	if PortAvailable("127.0.0.1", port) {
		t.Errorf("port %d is held by the test, should not be available", port)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.User = "alice"
	cfg.Port = 12345
	cfg.TranslateTools = true

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.Persist(path); err != nil {
		t.Fatalf("persist: %v", err)
	}

	loaded, err := LoadPath(path)
	if err != nil {
		t.Fatalf("load back: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", loaded, cfg)
	}
}

func TestConfigAddr(t *testing.T) {
	cfg := &Config{Host: "0.0.0.0", Port: 44497}
	if got := cfg.Addr(); got != "0.0.0.0:44497" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestConfigString(t *testing.T) {
	cfg := NewConfig()
	cfg.User = "alice"
	s := cfg.String()
	for _, want := range []string{`"user": "alice"`, `"port": 44497`, `"argo_url"`} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %s:\n%s", want, s)
		}
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}
