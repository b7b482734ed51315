package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/michcald/esb"
)

var (
	configPath string
	seed       uint64
	loss       float64
	latency    time.Duration
	tapPort    string
	baudRate   int
	verbose    bool

	// settings is the link configuration after the config file and flags are applied.
	settings simConfig

	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "esbsim",
	Short: "Enhanced ShockBurst link simulator",
	Long: `esbsim - run Enhanced ShockBurst links over simulated air.

A PTX and a PRX engine exchange payloads through a medium with configurable
loss and latency. Link settings come from a JSON5 file (--config) and can be
overridden by flags. Every frame on air can be mirrored to a serial port
(--tap-port) as one hex line per frame.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "JSON5 link configuration file")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 1, "Seed of the loss generator")
	rootCmd.PersistentFlags().Float64Var(&loss, "loss", 0, "Probability that a frame is lost, 0 to 1")
	rootCmd.PersistentFlags().DurationVar(&latency, "latency", 0, "Air time added to every frame")
	rootCmd.PersistentFlags().StringVarP(&tapPort, "tap-port", "p", "", "Serial port mirroring every frame on air")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate of the tap port")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity")
}

func setup(cmd *cobra.Command, args []string) error {
	log.Formatter = new(logrus.TextFormatter)
	log.Level = logrus.WarnLevel
	if verbose {
		log.Level = logrus.DebugLevel
	}
	esb.SetLogger(esb.NewLogrusLogger(log))

	settings = defaultSimConfig()
	if configPath != "" {
		c, err := loadSimConfig(configPath)
		if err != nil {
			return err
		}
		settings = c
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		settings.Seed = seed
	}
	if flags.Changed("loss") {
		settings.Loss = loss
	}
	if flags.Changed("latency") {
		settings.LatencyUS = latency.Microseconds()
	}
	return settings.validate()
}
