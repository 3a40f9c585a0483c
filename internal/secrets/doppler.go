// Package secrets resolves credentials from Doppler with an environment fallback
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// ErrSecretNotFound is returned when neither the environment nor the
// downloaded Doppler config has the key.
var ErrSecretNotFound = errors.New("secret not found")

// Source is anything that can resolve named secrets
type Source interface {
	Initialize() error
	GetSecretWithFallback(key, fallback string) string
}

// DopplerClient downloads a Doppler config once and serves lookups from memory
type DopplerClient struct {
	Project string
	Config  string

	mu      sync.Mutex
	secrets map[string]string

	lookPath func(string) (string, error)
	run      func(name string, args ...string) ([]byte, error)
}

// NewDopplerClient creates a new Doppler client
func NewDopplerClient(project, config string) *DopplerClient {
	return &DopplerClient{
		Project:  project,
		Config:   config,
		lookPath: exec.LookPath,
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
	}
}

// Initialize fetches every secret of the project config in one CLI call.
// Calling it again after a successful download is a no-op.
func (d *DopplerClient) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.secrets != nil {
		return nil
	}
	if _, err := d.lookPath("doppler"); err != nil {
		return fmt.Errorf("doppler CLI not found: %w", err)
	}

	output, err := d.run("doppler", "secrets", "download",
		"--no-file",
		"--format", "json",
		"--project", d.Project,
		"--config", d.Config)
	if err != nil {
		return fmt.Errorf("failed to download doppler secrets: %w", err)
	}

	secrets := make(map[string]string)
	if err := json.Unmarshal(output, &secrets); err != nil {
		return fmt.Errorf("failed to decode doppler secrets: %w", err)
	}
	d.secrets = secrets
	return nil
}

// GetSecret returns the value injected by `doppler run` when present, else
// the downloaded value.
func (d *DopplerClient) GetSecret(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	if err := d.Initialize(); err != nil {
		return "", err
	}

	d.mu.Lock()
	value, ok := d.secrets[key]
	d.mu.Unlock()
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

// GetSecretWithFallback gets a secret from Doppler with a fallback value
func (d *DopplerClient) GetSecretWithFallback(key, fallback string) string {
	value, err := d.GetSecret(key)
	if err != nil {
		return fallback
	}
	return value
}
