package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/smartstore/internal/registry"
	"github.com/andresmejia3/smartstore/internal/utils"
)

var labelAdd bool

var labelCmd = &cobra.Command{
	Use:   "label <text>",
	Short: "Look up the numeric ID of a label",
	Long:  "Prints the ID assigned to a label. With --add, an unknown label is registered and the registry is persisted.",
	Args:  cobra.ExactArgs(1),
	Annotations: map[string]string{
		usesRegistry: "true",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runLabel(cmd, args[0])
	},
}

func init() {
	labelCmd.Flags().BoolVar(&labelAdd, "add", false, "Register the label if it is unknown")
	rootCmd.AddCommand(labelCmd)
}

func runLabel(cmd *cobra.Command, label string) error {
	// 1. Registry is opened in Root PersistentPreRunE (usesRegistry annotation)
	id, err := Registry.GetID(label)
	if err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}
	if !errors.Is(err, registry.ErrUnknownLabel) || !labelAdd {
		return err
	}

	// 2. Register and persist the new identity
	id, err = Registry.GetOrAdd(label)
	if err != nil {
		return err
	}
	if err := Registry.Persist(cmd.Context()); err != nil {
		utils.ShowError("Failed to persist label registry", err)
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✅ Label '%s' registered\n", label)
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
