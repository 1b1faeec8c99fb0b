// Package config handles loading and validating peerlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PEERLINK_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords, Influx tokens and inference API keys should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/peerlink.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Host.ID)
package config
