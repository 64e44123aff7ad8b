package config

import "time"

const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// Config holds client configuration values.
type Config struct {
	Backend         string `mapstructure:"backend" yaml:"backend"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	APIKey          string `mapstructure:"api_key" yaml:"api_key"`
	AuthEndpoint    string `mapstructure:"auth_endpoint" yaml:"auth_endpoint"`
	StorageBucket   string `mapstructure:"storage_bucket" yaml:"storage_bucket"`
	PostgresDSN     string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	SessionPath     string `mapstructure:"session_path" yaml:"session_path"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	RemoteLogging bool   `mapstructure:"remote_logging" yaml:"remote_logging"`
	LogID         string `mapstructure:"log_id" yaml:"log_id"`

	MirrorRecent       bool        `mapstructure:"mirror_recent" yaml:"mirror_recent"`
	Retry              RetryConfig `mapstructure:"retry" yaml:"retry"`
	AvatarMaxDimension int         `mapstructure:"avatar_max_dimension" yaml:"avatar_max_dimension"`
	PreviewLength      int         `mapstructure:"preview_length" yaml:"preview_length"`
}

// RetryConfig controls dispatcher retries of network failures. Attempts of 1
// disables retrying.
type RetryConfig struct {
	Attempts   int           `mapstructure:"attempts" yaml:"attempts"`
	Initial    time.Duration `mapstructure:"initial" yaml:"initial"`
	Max        time.Duration `mapstructure:"max" yaml:"max"`
	Multiplier float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Backend:            BackendFirestore,
		SessionPath:        "courier-session.db",
		LogLevel:           "info",
		LogID:              "courier",
		MirrorRecent:       true,
		AvatarMaxDimension: 512,
		PreviewLength:      60,
		Retry: RetryConfig{
			Attempts:   3,
			Initial:    200 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		},
	}
}
