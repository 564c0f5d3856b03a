// Package config provides configuration loading and validation for the voice
// session service. It handles YAML-based configuration with struct validation
// and environment-variable overrides for secret fields.
package config
