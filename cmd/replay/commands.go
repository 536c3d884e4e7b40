package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/config"
)

func recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the primary monitor into the rolling buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := recordOptions{}
			opts.configPath, _ = cmd.Flags().GetString("config")
			opts.noTUI, _ = cmd.Flags().GetBool("no-tui")
			opts.verbose, _ = cmd.Flags().GetBool("verbose")
			opts.clipLength, _ = cmd.Flags().GetInt("clip-length")
			opts.autoSave, _ = cmd.Flags().GetInt("auto-save")
			return executeRecord(opts)
		},
	}
	cmd.Flags().Bool("no-tui", false, "print a plain status line instead of the terminal UI")
	cmd.Flags().BoolP("verbose", "v", false, "log debug output to the console")
	cmd.Flags().Int("clip-length", 0, "override capture.clip_length in seconds (0 = use config)")
	cmd.Flags().Int("auto-save", -1, "override clips.auto_save_interval_seconds (0 = off, -1 = use config)")
	return cmd
}

func saveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save the trailing part of the buffer as a clip",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			d, _ := cmd.Flags().GetDuration("duration")
			viaSignal, _ := cmd.Flags().GetBool("signal")
			if viaSignal {
				return executeSignalSave(configPath, os.Stdout)
			}
			return executeSave(configPath, d, os.Stdout)
		},
	}
	cmd.Flags().DurationP("duration", "d", 0, "how much to save (default: capture.clip_length)")
	cmd.Flags().Bool("signal", false, "ask the running recorder to save instead of assembling here")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recorder's state, buffer and free space",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return executeStatus(configPath, os.Stdout)
		},
	}
}

func clipsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clips",
		Short: "List saved clips from the history",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			limit, _ := cmd.Flags().GetInt("limit")
			return executeClips(configPath, limit, os.Stdout)
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "show at most this many clips (0 = all)")
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create replay.toml in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			path, err := config.InitFile(dir)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s\n", path)
			return nil
		},
	}
}

// loadConfig loads the config at path, or searches upward from the working
// directory and falls back to defaults rooted there.
func loadConfig(path string) (*config.Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return config.LoadOrDefault(path, dir)
}

// seconds formats d in whole seconds for command output.
func seconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int(d.Round(time.Second).Seconds()))
}
