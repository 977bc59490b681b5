package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	keychainService      = "handoff"
	keychainTokenAccount = "jira_api_token"
	keychainAPIAccount   = "api_token"
)

// Keychain abstracts platform secret storage so it can be faked in tests.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// platformKeychain reads and writes the platform secret store
// (macOS Keychain via the security CLI, a secrets file elsewhere).
type platformKeychain struct{}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// SetJiraToken stores the Jira API token in the platform secret store.
func SetJiraToken(kc Keychain, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("token must not be empty")
	}
	return kc.Set(keychainService, keychainTokenAccount, token)
}

// GetAPIToken returns the bearer token protecting the local management API,
// generating and storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	token, err := kc.Get(keychainService, keychainAPIAccount)
	if err == nil && token != "" {
		return token, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token = hex.EncodeToString(buf)
	if err := kc.Set(keychainService, keychainAPIAccount, token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}
