package commands

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/errwatch/errwatch/config"
	"github.com/errwatch/errwatch/errors"
)

// ConfigCmd groups configuration operations.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage errwatch configuration",
	Long: `Manage the errwatch.toml configuration file.

Configuration is resolved from built-in defaults, an errwatch.toml file
discovered by walking up from the working directory, and ERRWATCH_*
environment variables, in that order of precedence.

Examples:
  errwatch config init   # Write errwatch.toml with the built-in defaults
  errwatch config show   # Print the effective configuration`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var configInitPath string

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file populated with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(configInitPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configInitPath)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "load configuration")
		}

		content, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "marshal configuration")
		}
		fmt.Print(string(content))
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&configInitPath, "path", "p", "errwatch.toml", "Where to write the config file")

	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configShowCmd)
}
