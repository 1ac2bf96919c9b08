// Package config handles loading and validating the mesh bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//   - Resolving the TLS certificate paths
//
// Command-line flags are applied by the caller after Load and before
// Validate, so the precedence is defaults, file, environment, flags.
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The private key file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.MQTT.Broker.Host = host
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	paths := cfg.MQTT.CertificatePaths(cwd)
package config
