package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chatwidget/internal/config"
)

var configForce bool

// configCmd manages the config file
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or print the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Writes the default configuration to the config path
(` + config.DefaultPath + ` in the workspace unless --config is given).
An existing file is left alone unless --force is set.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Prints the configuration after .env files, environment variables, and flags are applied.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err == nil && !configForce {
		fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s (use --force to overwrite)\n", path)
		return nil
	}

	def := config.DefaultConfig()
	if endpoint != "" {
		def.Backend.Endpoint = endpoint
	}
	if err := def.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", resolveConfigPath())
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
