package main

import "github.com/urfave/cli"

var (
	flConfig = cli.StringFlag{
		Name:   "config, c",
		Usage:  "Path to a JSON or YAML config file",
		EnvVar: "CALSCHED_CONFIG",
		Value:  "./calsched.yaml",
	}
	flCount = cli.IntFlag{
		Name:  "count, n",
		Usage: "Number of fire times to print per trigger",
		Value: 5,
	}
	flTrigger = cli.StringFlag{
		Name:  "trigger, t",
		Usage: "Only this trigger",
	}
	flFrom = cli.StringFlag{
		Name:  "from",
		Usage: "Reference instant (RFC 3339 or YYYY-MM-DD); defaults to now",
	}
	flLimit = cli.IntFlag{
		Name:  "limit",
		Usage: "Number of history entries to print",
		Value: 20,
	}
)
