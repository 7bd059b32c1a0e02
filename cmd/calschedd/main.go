package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
)

var version = "dev"

func main() {
	app := newApp(afero.NewOsFs(), os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// newApp builds the command tree. Config files are read from fs and command
// output goes to out.
func newApp(fs afero.Fs, out io.Writer) *cli.App {
	env := &environment{fs: fs}

	app := cli.NewApp()
	app.Name = "calschedd"
	app.Version = version
	app.Usage = "Calendar-interval job scheduler"
	app.Writer = out
	app.ErrWriter = out
	app.Flags = []cli.Flag{flConfig}
	app.Commands = []cli.Command{
		{
			Name:   "validate",
			Usage:  "Parse the config and build every calendar and trigger",
			Action: env.validate,
		},
		{
			Name:      "preview",
			Usage:     "Print upcoming fire times",
			ArgsUsage: " ",
			Flags:     []cli.Flag{flCount, flTrigger, flFrom},
			Action:    env.preview,
		},
		{
			Name:   "history",
			Usage:  "Print recent firings of a trigger from storage",
			Flags:  []cli.Flag{flTrigger, flLimit},
			Action: env.history,
		},
		{
			Name:   "run",
			Usage:  "Run the scheduler until interrupted",
			Action: env.run,
		},
	}
	return app
}
