package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	leasing "github.com/equipcloud/leasing-go"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.leasectl/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
}

// ConfigDefault holds general client settings.
type ConfigDefault struct {
	BaseURL  string `toml:"base_url"`
	PageSize int    `toml:"page_size"`
	Timeout  string `toml:"timeout"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.leasectl, creating it if needed. The
// session and chat history live here too.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".leasectl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "page_size":
			var n int
			if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n < 1 {
				return fmt.Errorf("page_size must be a positive integer")
			}
			cfg.Default.PageSize = n
		case "timeout":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("timeout must be a duration (e.g. 30s)")
			}
			cfg.Default.Timeout = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default)", section)
	}
	return nil
}

// ============================================================================
// Console wiring
// ============================================================================

// newConsole builds the full client stack: file-backed session and chat
// stores under ~/.leasectl, one cache, feedback printed to stderr.
func newConsole() (*leasing.Console, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	storage, err := leasing.NewFileStorage(filepath.Join(dir, "state"))
	if err != nil {
		return nil, err
	}

	var clientOpts []leasing.ClientOption
	if cfg.Default.BaseURL != "" {
		clientOpts = append(clientOpts, leasing.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Default.Timeout); err == nil {
			clientOpts = append(clientOpts, leasing.WithTimeout(d))
		}
	}

	client := leasing.NewClient(clientOpts...)
	cache := leasing.NewCache(nil)
	sessions := leasing.NewSessionStore(storage)
	messages := leasing.NewMessageStore(storage)

	console := leasing.NewConsole(client, cache, sessions, messages,
		leasing.WithNotifier(func(msg string) {
			fmt.Fprintln(os.Stderr, msg)
		}),
	)
	return console, nil
}

// requireSession returns the console only if a user is logged in.
func requireSession() (*leasing.Console, error) {
	console, err := newConsole()
	if err != nil {
		return nil, err
	}
	if console.Session() == nil {
		return nil, fmt.Errorf("not logged in, run 'leasectl login' first")
	}
	return console, nil
}

// defaultPageSize resolves the configured page size, falling back to 10.
func defaultPageSize() int {
	cfg, err := loadConfig()
	if err != nil || cfg.Default.PageSize < 1 {
		return 10
	}
	return cfg.Default.PageSize
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "leasectl",
	Short: "Equipment leasing CLI",
	Long:  "Command-line interface for the equipment leasing service.\nManage accounts, equipments, applications, notifications, and chat.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
