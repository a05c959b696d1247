package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/smartstore/internal/registry"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered labels with their IDs",
	Annotations: map[string]string{
		usesRegistry: "true",
	},
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.OutOrStdout(), Registry)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(out io.Writer, reg *registry.Registry) {
	labels := reg.Labels()
	if len(labels) == 0 {
		fmt.Fprintln(out, "No labels found in registry.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL")
	fmt.Fprintln(w, "--\t-----")

	for id, label := range labels {
		fmt.Fprintf(w, "%d\t%s\n", id, label)
	}
	w.Flush()
}
