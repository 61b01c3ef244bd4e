// Package config loads and validates the opsplane configuration.
//
// Configuration comes from an optional JSON file plus OPSPLANE_* environment
// overrides; defaults are usable against a local NATS server. Validation
// errors name the offending field explicitly.
package config
