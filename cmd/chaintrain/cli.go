package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/latticefree/chaintrain/internal/obslog"
)

// App holds the CLI's shared, lazily-initialized dependencies, the way
// baranylcn-dit/internal/cli wires a verbose/silent flag pair into
// slog.SetDefault before any subcommand runs.
type App struct {
	verbose bool
	silent  bool
	logger  obslog.Logger
}

func newRootCommand() *cobra.Command {
	app := &App{}

	root := &cobra.Command{
		Use:   "chaintrain",
		Short: "Run and benchmark the lattice-free MMI chain objective",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.init()
		},
	}
	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&app.silent, "silent", "s", false, "suppress all logging")

	root.AddCommand(newRunCommand(app))
	root.AddCommand(newBenchCommand(app))
	return root
}

func (a *App) init() {
	if a.logger != nil {
		return
	}
	level := slog.LevelInfo
	switch {
	case a.silent:
		level = slog.Level(100)
	case a.verbose:
		level = slog.LevelDebug
	}
	a.logger = obslog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
