// Package config provides configuration loading for the relay: defaults,
// a YAML file, and environment variable overrides, with validation of the
// merged result.
package config
