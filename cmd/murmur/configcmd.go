package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"murmur/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the murmur configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Write a commented sample configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := flagConfig
				if path == "" {
					defaultPath, err := config.DefaultConfigPath()
					if err != nil {
						return err
					}
					path = defaultPath
				}
				if err := config.WriteSample(path); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, path, exists, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				if exists {
					fmt.Printf("# loaded from %s\n", path)
				} else {
					fmt.Printf("# defaults (no file at %s)\n", path)
				}
				return printJSON(cfg)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, path, exists, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				fmt.Println(path)
				if !exists {
					fmt.Println("(not created yet; run 'murmur config init')")
				}
				return nil
			},
		},
	)
	return cmd
}
