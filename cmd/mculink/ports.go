package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mculink-host/pkg/serial"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports that look like MCU boards",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serial.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("no serial devices found")
			return nil
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	},
}
