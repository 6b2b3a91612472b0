// Package config defines the naming conventions and defaults of the packager and
// loads them from an optional packager.yaml, PACKAGER_* environment variables and
// built-in defaults.
//
// Marshal and Save render the effective configuration as YAML.
package config
