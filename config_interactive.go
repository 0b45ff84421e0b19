package argoproxy

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/argonne-lcf/argoproxy/internal/logging"
)

// Dynamic port range used when suggesting a free port.
const (
	randomPortLow  = 49152
	randomPortHigh = 65535
)

func interactive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func stdinReader() *bufio.Reader {
	return bufio.NewReader(os.Stdin)
}

// createInteractive walks the first-run dialog and persists the result to
// the default config path. Off a terminal there is nothing to ask, so the
// absence of a config file is fatal.
func createInteractive() (*Config, error) {
	if !interactive() {
		return nil, fmt.Errorf("no configuration file found in %s; run once interactively or set %s",
			strings.Join(SearchPaths(), ", "), EnvConfigPath)
	}

	fmt.Println("No configuration file found. Creating one.")
	cfg := NewConfig()
	in := stdinReader()

	port, err := promptPort(in, cfg.Host, RandomPort(cfg.Host))
	if err != nil {
		return nil, err
	}
	cfg.Port = port

	user, err := promptUser(in)
	if err != nil {
		return nil, err
	}
	cfg.User = user

	verbose, err := promptYesNo(in, "Enable verbose mode? [Y/n] ", true)
	if err != nil {
		return nil, err
	}
	cfg.Verbose = verbose

	timeout, err := promptIntOrDefault(in,
		fmt.Sprintf("Use default request timeout of %d seconds? [Y/n/<seconds>] ", DefaultTimeout),
		DefaultTimeout)
	if err != nil {
		return nil, err
	}
	cfg.Timeout = timeout

	path := DefaultConfigPath()
	if err := cfg.Persist(path); err != nil {
		return nil, err
	}
	logging.Logger.Info("created config", "path", path)
	return cfg, nil
}

// Persist writes the YAML form of the config, creating parent directories
// as needed.
func (c *Config) Persist(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// RandomPort picks an available port in the dynamic range. It returns 0
// when nothing free turns up, which callers treat as "ask the user".
func RandomPort(host string) int {
	for i := 0; i < 64; i++ {
		port := randomPortLow + rand.Intn(randomPortHigh-randomPortLow+1)
		if PortAvailable(host, port) {
			return port
		}
	}
	return 0
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptYesNo(in *bufio.Reader, prompt string, def bool) (bool, error) {
	for {
		fmt.Print(prompt)
		answer, err := readLine(in)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Println("Please answer y or n.")
	}
}

func promptUser(in *bufio.Reader) (string, error) {
	for {
		fmt.Print("Enter your username: ")
		user, err := readLine(in)
		if err != nil {
			return "", err
		}
		if vErr := ValidateUser(user); vErr != nil {
			fmt.Printf("Invalid username: %v\n", vErr)
			continue
		}
		return user, nil
	}
}

func promptPort(in *bufio.Reader, host string, suggested int) (int, error) {
	for {
		fmt.Printf("Use port [%d]? [Y/n/<port>] ", suggested)
		line, err := readLine(in)
		if err != nil {
			return 0, err
		}
		switch answer := strings.ToLower(line); answer {
		case "", "y", "yes":
			if suggested > 0 {
				return suggested, nil
			}
		case "n", "no":
			return 0, fmt.Errorf("port selection aborted by user")
		default:
			port, convErr := strconv.Atoi(answer)
			if convErr != nil || port <= 0 || port > 65535 {
				fmt.Println("Please enter a port number between 1 and 65535.")
				continue
			}
			if !PortAvailable(host, port) {
				fmt.Printf("Port %d is already in use, pick another.\n", port)
				continue
			}
			return port, nil
		}
	}
}

func promptIntOrDefault(in *bufio.Reader, prompt string, def int) (int, error) {
	for {
		fmt.Print(prompt)
		line, err := readLine(in)
		if err != nil {
			return 0, err
		}
		switch answer := strings.ToLower(line); answer {
		case "", "y", "yes":
			return def, nil
		case "n", "no":
			fmt.Println("Enter a value in seconds.")
			continue
		default:
			n, convErr := strconv.Atoi(answer)
			if convErr != nil || n <= 0 {
				fmt.Println("Please enter a positive number of seconds.")
				continue
			}
			return n, nil
		}
	}
}
