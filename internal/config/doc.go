// Package config loads the YAML configuration for the wsclient command.
//
// Values of the form ${VAR} are expanded from the environment before
// parsing. Optional fields fall back to the Default* constants.
package config
