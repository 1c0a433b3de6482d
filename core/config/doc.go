// Package config provides configuration management for the reconciler.
//
// It utilizes Viper for loading configuration from environment variables
// and an optional .env file, with defaults taken from struct tags.
//
// # Configuration Structure
//
// The Config struct is the central repository for all application settings, divided into subsections:
//   - Server: HTTP server settings (port, API key)
//   - Source: MySQL connection for the source database being extracted
//   - State: MySQL connection for watermark/target/dead-letter state
//   - Storage: S3/MinIO credentials and the archive bucket
//   - Log: Logging level and format
//   - Engine: table registration and reconciliation settings
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Port)
package config
