// Package config loads, normalizes, and validates cw configuration data.
//
// It supplies repository defaults, resolves the XDG data and cache
// directories, expands user paths (including tilde shortcuts) and reads TOML
// files. The Config type centralizes tail, query and retry tuning so the CLI
// and engines read their knobs from one place.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
