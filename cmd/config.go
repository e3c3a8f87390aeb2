package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudchase/ollama-organizer/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change persistent settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a setting in the settings file",
	Long:  "Store a setting in the settings file. Known keys: " + fmt.Sprint(config.KnownKeys()),
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), loader.Path())
		return nil
	},
}

func init() {
	configShowCmd.Flags().StringVarP(&configFormat, "output", "o", formatYAML, "Output format: json or yaml")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if configFormat != formatJSON && configFormat != formatYAML {
		return fmt.Errorf("unknown output format %q (want json or yaml)", configFormat)
	}
	_, err := writeStructured(cmd.OutOrStdout(), configFormat, settings)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if err := loader.Set(args[0], args[1]); err != nil {
		return err
	}
	logger.WithField("key", args[0]).Debug("setting stored")
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (%s)\n", args[0], args[1], loader.Path())
	return nil
}
