// Package config loads, validates, and materializes transcribeflow
// configuration from TOML files. It resolves the configuration path,
// expands user paths, applies defaults for missing keys, and creates
// the directory trees the daemon needs at startup.
package config
