// Package config loads, normalizes, and validates framegate configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads .env files, and honours FRAMEGATE_*
// environment overrides such as FRAMEGATE_BACKEND_URL. The Config type
// centralizes every knob the CLI and pipeline need and is passed to
// constructors as an immutable snapshot; nothing reads global settings.
//
// Feature flags are stored as base values only. Read them through
// Config.EffectiveFlags so implied flags are always resolved.
package config
