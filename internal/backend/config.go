package backend

import (
	"fmt"

	"kakeibo/internal/config"
	gdrive "kakeibo/internal/snapshot/google"
)

// FromAppConfig converts the application config to backend config. Google
// credential files are read here.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.SnapshotBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.SnapshotBackend)
	}

	cfg := Config{
		Type:     backendType,
		FilePath: appConfig.SnapshotFilePath,

		DriveFolder: appConfig.GoogleDriveFolder,
		DriveFile:   appConfig.GoogleDriveFile,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
		InstanceID:   appConfig.InstanceID,
	}

	if backendType == DriveBackend {
		creds, err := readCredentials(appConfig)
		if err != nil {
			return Config{}, err
		}
		cfg.Credentials = creds
	}
	return cfg, nil
}

func readCredentials(c *config.Config) (gdrive.Credentials, error) {
	var creds gdrive.Credentials
	var err error
	if creds.ServiceAccountJSON, err = config.ReadSecret(c.GoogleServiceAccountJSON, c.GoogleServiceAccountFile); err != nil {
		return creds, fmt.Errorf("service account: %w", err)
	}
	if len(creds.ServiceAccountJSON) > 0 {
		return creds, nil
	}
	if creds.OAuthClientJSON, err = config.ReadSecret(c.GoogleOAuthClientJSON, c.GoogleOAuthClientFile); err != nil {
		return creds, fmt.Errorf("oauth client: %w", err)
	}
	if creds.OAuthTokenJSON, err = config.ReadSecret(c.GoogleOAuthTokenJSON, c.GoogleOAuthTokenFile); err != nil {
		return creds, fmt.Errorf("oauth token: %w", err)
	}
	return creds, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case FileBackend:
		if c.FilePath == "" {
			return fmt.Errorf("snapshot file path is required for file backend")
		}
	case DriveBackend:
		if len(c.DriveOptions) > 0 {
			return nil
		}
		hasServiceAccount := len(c.Credentials.ServiceAccountJSON) > 0
		hasOAuth := len(c.Credentials.OAuthClientJSON) > 0 && len(c.Credentials.OAuthTokenJSON) > 0
		if !hasServiceAccount && !hasOAuth {
			return fmt.Errorf("either a service account or an OAuth client and token must be provided for drive backend")
		}
	case MemoryBackend:
		// Nothing to check.
	}

	if c.AMQPURL != "" && c.AMQPExchange == "" {
		return fmt.Errorf("AMQP exchange is required when AMQP URL is set")
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, FileBackend, DriveBackend}
}
