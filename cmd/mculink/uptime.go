package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var uptimeCmd = &cobra.Command{
	Use:   "uptime",
	Short: "Read the device 64-bit uptime counter",
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

		ticks, err := session.GetUptime()
		if err != nil {
			return err
		}
		fmt.Printf("uptime: %d ticks\n", ticks)
		return nil
	},
}
