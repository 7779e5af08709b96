package backend

import (
	"fmt"

	"budgetsync/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		LocalType:    LocalType(appConfig.LocalBackend),
		SQLiteDBPath: appConfig.SQLiteDBPath,

		RemoteType:    RemoteType(appConfig.RemoteBackend),
		TreeURL:       appConfig.TreeURL,
		FamilyID:      appConfig.FamilyID,
		RemoteTimeout: appConfig.RemoteTimeout,
		VersionCheck:  appConfig.VersionCheck,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleSheetName:          appConfig.GoogleSheetName,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,

		BackupBucket: appConfig.BackupBucket,
		BackupPrefix: appConfig.BackupPrefix,
		BackupDir:    appConfig.BackupDir,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.LocalType.IsValid() {
		return fmt.Errorf("invalid local backend type: %s", c.LocalType)
	}
	if !c.RemoteType.IsValid() {
		return fmt.Errorf("invalid remote backend type: %s", c.RemoteType)
	}

	if c.LocalType == LocalSQLite && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite backend")
	}

	switch c.RemoteType {
	case RemoteHTTP:
		if c.TreeURL == "" {
			return fmt.Errorf("tree URL is required for http remote backend")
		}
		fallthrough
	case RemoteMemory:
		if c.FamilyID == "" {
			return fmt.Errorf("family id is required when a remote backend is set")
		}
	}

	if c.GoogleSpreadsheetID != "" && c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
		return fmt.Errorf("either GoogleServiceAccountJSON or GoogleServiceAccountFile must be provided for the sheets mirror")
	}
	// AMQP and backups are optional, so we don't validate them

	return nil
}

// GetLocalTypes returns all valid local backend types
func GetLocalTypes() []LocalType {
	return []LocalType{LocalSQLite, LocalMemory}
}

// GetRemoteTypes returns all valid remote backend types
func GetRemoteTypes() []RemoteType {
	return []RemoteType{RemoteNone, RemoteMemory, RemoteHTTP}
}
