// Package config loads the daemon's configuration from a YAML file,
// overlaid with environment variables, and validates it before the
// connection, command executor, and FUSE layers start.
package config
