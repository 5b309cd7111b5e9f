package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweeney/filter-control/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithEnv(cfgFile, envFile)
		if err != nil {
			return err
		}
		printSummary(cmd, cfg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func printSummary(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	set := cfg.FilterSet()
	fmt.Fprintf(out, "config ok: %s\n", cfgFile)
	fmt.Fprintf(out, "  sources:   %s (%s)\n", strings.Join(cfg.Detector.Endpoints, ", "), cfg.Detector.Encoding)
	fmt.Fprintf(out, "  broker:    %s prefix=%s\n", cfg.MQTT.Broker, cfg.MQTT.TopicPrefix)
	fmt.Fprintf(out, "  filters:   %d (max attenuation %d)\n", set.Len(), set.MaxAttenuation())
	for i, f := range cfg.Filters {
		fmt.Fprintf(out, "    filter%d axis=%d in=%g out=%g\n", i+1, f.Axis, f.In, f.Out)
	}
	fmt.Fprintf(out, "  shutter:   axis=%d closed=%g\n", cfg.Shutter.Axis, cfg.Shutter.ClosedPosition)
	fmt.Fprintf(out, "  policy:    mode=%s trigger=%s threshold=%d\n",
		cfg.Policy.Mode, cfg.Policy.Trigger, cfg.Policy.PixelCountThreshold)
	fmt.Fprintf(out, "  motion:    %s\n", cfg.Motion.Address)
}
