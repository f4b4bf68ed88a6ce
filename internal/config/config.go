// Package config defines the CLI structure and configuration for xhcid.
package config

import (
	"github.com/halfdome/xhci/internal/cmd"
)

type Log struct {
	Level string `help:"Log level: trace, debug, info, warn, error" default:"info" env:"XHCID_LOG_LEVEL"`
	File  string `help:"Log file path (default: none; logs only to console)" env:"XHCID_LOG_FILE"`
}

// CLI is the root command structure for Kong CLI parsing.
type CLI struct {
	Log `embed:"" prefix:"log."`

	Config string `help:"Path to a config file (JSON, YAML or TOML)" env:"XHCID_CONFIG"`

	Run      cmd.Run      `cmd:"" help:"Bring up the emulated controller and stream input reports"`
	Profiles cmd.Profiles `cmd:"" help:"List or dump emulated device profiles"`
}
