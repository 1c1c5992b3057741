package backend

import (
	"fmt"
	"strings"

	"gasto/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type:           backendType,
		SQLiteDBPath:   appConfig.SQLiteDBPath,
		TursoURL:       appConfig.TursoURL,
		TursoAuthToken: appConfig.TursoAuthToken,
		RemoteTimeout:  appConfig.RemoteTimeout,
	}, nil
}

func (c Config) remoteConfigured() bool {
	return strings.TrimSpace(c.TursoURL) != "" && strings.TrimSpace(c.TursoAuthToken) != ""
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case LocalBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for local backend")
		}
		// The remote is optional here; without it the app is local-only
	case RemoteBackend:
		if !c.remoteConfigured() {
			return fmt.Errorf("Turso URL and auth token are required for remote backend")
		}
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{LocalBackend, RemoteBackend}
}
