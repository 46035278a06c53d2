package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Read the device clock counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.LogLevel)

		session, cleanup, err := openSession(cfg, log)
		if err != nil {
			return err
		}
		defer cleanup()

		clock, err := session.GetClock()
		if err != nil {
			return err
		}
		fmt.Printf("clock: %d (0x%08x)\n", uint32(clock), uint32(clock))
		return nil
	},
}
