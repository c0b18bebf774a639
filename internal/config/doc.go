// Package config defines configuration structures for the relay service
// and its transfer worker.
//
// Configuration can be provided via:
//   - YAML configuration file
//   - A dotenv file (.env by default)
//   - Environment variables
//
// Later sources override earlier ones. Variable names follow the keys used
// by existing deployments (R2_BUCKET, R2_KEY_ID, DB_HOST, UPLOAD_RETRY, ...).
//
// # Structure
//
//	type Config struct {
//	    Storage  StorageConfig
//	    Database DatabaseConfig
//	    Transfer TransferConfig
//	    Server   ServerConfig
//	    Log      LogConfig
//	}
package config
