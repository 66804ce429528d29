// Package config loads, normalizes, and validates docpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DOCPIPE_JWT_SECRET and MINIO_ACCESS_KEY. The Config type centralizes every
// knob the daemon, CLI, and remote workers need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical backend names, and clear validation errors.
package config
