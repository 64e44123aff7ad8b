// Package config loads client configuration from defaults, a YAML file and
// COURIER_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/compute/metadata"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "COURIER_CONFIG"
	defaultConfigName = "config.yaml"
)

// ErrNoProject is returned when no project id is configured and none can be
// discovered.
var ErrNoProject = errors.New("project id not configured")

// Load builds configuration and returns the resolved path.
// Precedence: defaults < config file < env vars. A missing file is not an error.
func Load(logger *slog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("COURIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := ResolvePath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
		if logger != nil {
			logger.Debug("config file not found, using defaults", slog.String("path", configPath))
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, configPath, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("project_id", cfg.ProjectID)
	v.SetDefault("credentials_file", cfg.CredentialsFile)
	v.SetDefault("api_key", cfg.APIKey)
	v.SetDefault("auth_endpoint", cfg.AuthEndpoint)
	v.SetDefault("storage_bucket", cfg.StorageBucket)
	v.SetDefault("postgres_dsn", cfg.PostgresDSN)
	v.SetDefault("session_path", cfg.SessionPath)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("remote_logging", cfg.RemoteLogging)
	v.SetDefault("log_id", cfg.LogID)
	v.SetDefault("mirror_recent", cfg.MirrorRecent)
	v.SetDefault("retry.attempts", cfg.Retry.Attempts)
	v.SetDefault("retry.initial", cfg.Retry.Initial)
	v.SetDefault("retry.max", cfg.Retry.Max)
	v.SetDefault("retry.multiplier", cfg.Retry.Multiplier)
	v.SetDefault("avatar_max_dimension", cfg.AvatarMaxDimension)
	v.SetDefault("preview_length", cfg.PreviewLength)
}

// ResolvePath picks the explicit path, then $COURIER_CONFIG, then the user
// config directory.
func ResolvePath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(dir, "courier", defaultConfigName)
}

// WriteDefault writes cfg as YAML, refusing to overwrite an existing file
// unless force is set.
func WriteDefault(path string, cfg Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ResolveProjectID returns the configured project, falling back to
// GOOGLE_CLOUD_PROJECT and then the GCE metadata server.
func (c Config) ResolveProjectID(ctx context.Context) (string, error) {
	if c.ProjectID != "" {
		return c.ProjectID, nil
	}
	if p := os.Getenv("GOOGLE_CLOUD_PROJECT"); p != "" {
		return p, nil
	}
	if metadata.OnGCE() {
		projectID, err := metadata.ProjectIDWithContext(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoProject, err)
		}
		return projectID, nil
	}
	return "", ErrNoProject
}
