// Package config loads the refresher's YAML configuration.
//
// Values may reference the environment as ${VAR} or ${VAR:-fallback}; this is
// how provider API keys and database passwords are normally supplied. Loading
// runs in three steps: Load (parse and expand), applyDefaults (Default*
// constants, default stage plan) and Validate.
package config
