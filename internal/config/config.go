package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Jira    JiraConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type JiraConfig struct {
	BaseURL  string
	Email    string
	APIToken string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.handoff.app) and the
// Jira API token lives in macOS Keychain. On Linux the backend is a JSON
// file at $XDG_CONFIG_HOME/handoff/config.json and the token lives in a
// secrets file under $XDG_DATA_HOME/handoff.
//
// Environment variables (HANDOFF_*) override backend values on all
// platforms. Jira credentials are not required at load time — drafting
// escalations works offline; validate with Config.Jira.Validate() before
// network use.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for the Jira token if still empty.
	if cfg.Jira.APIToken == "" {
		if token, err := kc.Get(keychainService, keychainTokenAccount); err == nil && token != "" {
			cfg.Jira.APIToken = token
		}
	}

	return cfg, nil
}

// Validate reports whether the Jira credentials are complete enough to make
// API calls. The error names the fix so the user can act on it.
func (j JiraConfig) Validate() error {
	var missing []string
	if j.BaseURL == "" {
		missing = append(missing, "jira.base_url (or HANDOFF_JIRA_BASE_URL)")
	}
	if j.Email == "" {
		missing = append(missing, "jira.email (or HANDOFF_JIRA_EMAIL)")
	}
	if j.APIToken == "" {
		missing = append(missing, "Jira API token: run `handoff config set-token` or set HANDOFF_JIRA_API_TOKEN"+apiTokenHint())
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing Jira credentials: %s", strings.Join(missing, "; "))
	}
	return nil
}
