// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"audiopipe/internal/capture"
	"audiopipe/internal/config"
	applog "audiopipe/internal/log"
	"audiopipe/internal/tui"
	"audiopipe/pkg/build"
)

// Options holds the flags shared by every command. Flags the user did not
// set leave the config file values alone.
type Options struct {
	ConfigPath string
	DeviceID   int
	Channels   int
	SampleRate int
	Verbose    bool
}

// Execute parses args and runs the selected command.
func Execute(args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&Options{})
}

func newRootCommand(opts *Options) *cobra.Command {
	buildInfo := build.Get()

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "",
		"Path to the YAML configuration file (default: ./config.yaml or /etc/audiopipe/config.yaml)")
	rootCmd.PersistentFlags().IntVarP(&opts.DeviceID, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	rootCmd.PersistentFlags().IntVarP(&opts.Channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture (1=mono, 2=stereo)")
	rootCmd.PersistentFlags().IntVarP(&opts.SampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Pipeline sample rate, measured in Hertz (Hz)")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.AddCommand(
		newListCommand(opts),
		&cobra.Command{
			Use:   "capture",
			Short: "Capture from the input device and feed the named pipes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd, opts)
				if err != nil {
					return err
				}
				return runCapture(cfg)
			},
		},
		&cobra.Command{
			Use:   "livestream",
			Short: "Serve the encoded stream and spectrogram over websockets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd, opts)
				if err != nil {
					return err
				}
				return runLivestream(cfg)
			},
		},
		&cobra.Command{
			Use:   "analysis",
			Short: "Write fixed-size analysis chunks to stdout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd, opts)
				if err != nil {
					return err
				}
				return runAnalysis(cfg, os.Stdout)
			},
		},
	)
	return rootCmd
}

func newListCommand(opts *Options) *cobra.Command {
	var refresh, interactive bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			backend, closeBackend, err := openBackend(cfg.Audio)
			if err != nil {
				return err
			}
			defer closeBackend()

			load := func() ([]capture.DeviceInfo, error) {
				return capture.DiscoverInputDevices(backend, refresh)
			}
			if !interactive {
				devices, err := load()
				if err != nil {
					return err
				}
				capture.PrintDevices(cmd.OutOrStdout(), devices)
				return nil
			}

			sel, ok, err := tui.Run(load)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s capture %s\n", cmd.Root().Name(), sel.Flags())
			}
			return nil
		},
	}
	listCmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "Re-query the audio backend before listing")
	listCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Pick a device interactively")
	return listCmd
}

// loadConfig reads the config file and applies flags the user set. Flags
// are applied before validation and before derived defaults are filled.
func loadConfig(cmd *cobra.Command, opts *Options) (*config.Config, error) {
	flags := cmd.Flags()
	cfg, err := config.LoadConfig(opts.ConfigPath, func(cfg *config.Config) {
		if flags.Changed("device") {
			cfg.Audio.InputDevice = opts.DeviceID
		}
		if flags.Changed("channels") {
			cfg.Audio.Channels = opts.Channels
		}
		if flags.Changed("sample-rate") {
			cfg.Audio.SampleRate = opts.SampleRate
		}
		if opts.Verbose {
			cfg.LogLevel = applog.LevelDebug.String()
		}
	})
	if err != nil {
		return nil, err
	}

	level, _ := applog.ParseLevel(cfg.LogLevel)
	applog.SetLevel(level)
	return cfg, nil
}
