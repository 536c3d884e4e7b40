// Package main is the entry point for the ReplayKing CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/session"
)

// version is set at build time via -ldflags.
var version = "dev"

// ffmpegHint is printed when the capture process cannot be launched.
const ffmpegHint = `ReplayKing needs ffmpeg to record the screen.
Install it and make sure it is on PATH, or set capture.ffmpeg_path:
  Linux:   sudo apt install ffmpeg   (or your distribution's package)
  macOS:   brew install ffmpeg
  Windows: winget install ffmpeg`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and maps the result to an exit status.
func run(args []string) int {
	root := rootCmd()
	root.SetArgs(args)
	err := root.Execute()
	switch {
	case err == nil:
		return 0
	case session.IsStartError(err):
		fmt.Fprintln(os.Stderr, ffmpegHint)
		return 2
	default:
		return 1
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "replay",
		Short:        "ReplayKing — instant replay screen recorder",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default: replay.toml searched upward from the working directory)")

	root.AddCommand(
		recordCmd(),
		saveCmd(),
		statusCmd(),
		clipsCmd(),
		initCmd(),
	)
	return root
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
	return ctx, cancel
}
