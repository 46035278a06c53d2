package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"mculink-host/pkg/mcu"
)

var flagRawDict string

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Fetch and decode the device data dictionary",
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

		blob, err := session.FetchDictionary()
		if err != nil {
			return err
		}
		if len(blob) == 0 {
			return fmt.Errorf("device did not respond to identify: check wiring and baud rate")
		}

		if flagRawDict != "" {
			if err := os.WriteFile(flagRawDict, blob, 0o644); err != nil {
				return err
			}
			log.Info().Str("path", flagRawDict).Int("bytes", len(blob)).Msg("raw dictionary saved")
		}

		dict, err := mcu.ParseDictionary(blob)
		if err != nil {
			return fmt.Errorf("dictionary received but undecodable (link may be dropping bytes): %w", err)
		}

		fmt.Printf("version:  %s\n", dict.Version)
		if dict.BuildVersions != "" {
			fmt.Printf("build:    %s\n", dict.BuildVersions)
		}
		fmt.Printf("commands: %d\n", len(dict.Commands))
		fmt.Printf("responses: %d\n", len(dict.Responses))
		if len(dict.Enumerations) > 0 {
			names := make([]string, 0, len(dict.Enumerations))
			for name := range dict.Enumerations {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Printf("enumerations: %v\n", names)
		}
		for _, key := range sortedKeys(dict.Config) {
			fmt.Printf("config %s: %v\n", key, dict.Config[key])
		}
		return nil
	},
}

func init() {
	identifyCmd.Flags().StringVar(&flagRawDict, "save-raw", "", "write the raw dictionary blob to this file")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
