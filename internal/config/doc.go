// Package config loads, normalizes, and validates voicegrade configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours secret fallbacks from the
// environment or an optional .env file (VOICEGRADE_CLIENT_ID,
// VOICEGRADE_CLIENT_SECRET, VOICEGRADE_REFRESH_TOKEN, VOICEGRADE_API_TOKEN).
// Single-language rubrics are declared as [[rubrics]] tables and validated
// together with the built-in Korean/English rubric.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
