package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	resetPoints    string
	resetCatalogue string
	resetYes       bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete generated outputs (projected points, catalogue)",
	Long:  "Clears generated files. The label registry is never touched: IDs stay assigned for the lifetime of the dataset.",
	Run: func(cmd *cobra.Command, args []string) {
		reader := bufio.NewReader(cmd.InOrStdin())

		if resetPoints != "" {
			if resetYes || confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all projected points in %s?", resetPoints)) {
				fmt.Println("🗑️  Clearing Projected Points...")
				removePath(resetPoints)
			}
		}

		if resetCatalogue != "" {
			if resetYes || confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete the catalogue %s?", resetCatalogue)) {
				fmt.Println("🗑️  Clearing Catalogue...")
				removePath(resetCatalogue)
			}
		}

		fmt.Println("✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().StringVar(&resetPoints, "points", "output", "Projected points folder to clear (empty to skip)")
	resetCmd.Flags().StringVar(&resetCatalogue, "catalogue", "", "Catalogue file to delete")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return false
	}
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removePath(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
