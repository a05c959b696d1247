package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/andresmejia3/smartstore/internal/aggregate"
	"github.com/andresmejia3/smartstore/internal/utils"
)

var aggregateOpts Options

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Fold annotation files into a deduplicated label catalogue",
	Annotations: map[string]string{
		usesRegistry: "true",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAggregate(cmd.Context(), aggregateOpts)
	},
}

func init() {
	aggregateCmd.Flags().StringVarP(&aggregateOpts.InputPath, "input", "i", "", "Folder of annotation JSON files")
	aggregateCmd.Flags().StringVarP(&aggregateOpts.OutputPath, "output", "o", "", "Write the catalogue as JSON to this file")
	aggregateCmd.Flags().IntVar(&aggregateOpts.Width, "width", 0, "Image width; vertices outside (0, width] are dropped (0 keeps all)")
	aggregateCmd.Flags().IntVar(&aggregateOpts.Height, "height", 0, "Image height; vertices outside (0, height] are dropped (0 keeps all)")

	aggregateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(aggregateCmd)
}

// runAggregate drives the aggregation: file discovery, per-file folding with
// progress tracking, registry persistence and the summary report.
func runAggregate(ctx context.Context, opts Options) error {
	if err := validateAggregateFlags(&opts); err != nil {
		utils.ShowError("Invalid aggregate options", err)
		return err
	}

	// 1. Discover annotation files
	files, err := utils.AnnotationFiles(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to list annotation files", err)
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "⚠️  No annotation files found in %s\n", opts.InputPath)
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("🏷️  Aggregating"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	agg := aggregate.New(Registry,
		aggregate.WithLogger(Logger),
		aggregate.WithBounds(aggregate.Bounds{Width: opts.Width, Height: opts.Height}),
	)
	labelsBefore := Registry.Count()

	// 2. Fold every file; bad polygons and unreadable files are reported, not fatal
	var polygonErrs []*aggregate.PolygonError
	var fileErrs []error
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			// Nothing has been persisted, the registry on disk is untouched.
			return err
		}
		if err := agg.AddFile(f); err != nil {
			for _, e := range multierr.Errors(err) {
				var perr *aggregate.PolygonError
				if errors.As(e, &perr) {
					polygonErrs = append(polygonErrs, perr)
				} else {
					fileErrs = append(fileErrs, e)
				}
			}
		}
		bar.Add(1)
	}
	bar.Finish()

	// 3. Persist identities. Losing them would break ID stability, so failure is fatal.
	if err := Registry.Persist(ctx); err != nil {
		utils.ShowError("Failed to persist label registry", err)
		return err
	}

	// 4. Catalogue output
	cat := agg.Catalogue()
	if opts.OutputPath != "" {
		if err := writeCatalogue(opts.OutputPath, cat); err != nil {
			utils.ShowError("Failed to write catalogue", err)
			return err
		}
	}

	printAggregateSummary(agg.Stats(), len(cat.Frames()), Registry.Count()-labelsBefore, polygonErrs, fileErrs)
	return nil
}

func writeCatalogue(path string, cat *aggregate.Catalogue) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return cat.WriteJSON(f)
}

func printAggregateSummary(stats aggregate.Stats, frames, newLabels int, polygonErrs []*aggregate.PolygonError, fileErrs []error) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 AGGREGATION SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	w := tabwriter.NewWriter(os.Stderr, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "Files\t%d\n", stats.Files)
	fmt.Fprintf(w, "Frames\t%d\n", frames)
	fmt.Fprintf(w, "Polygons\t%d\n", stats.Polygons)
	fmt.Fprintf(w, "Label sets\t%d\n", stats.Inserted)
	fmt.Fprintf(w, "Duplicates\t%d\n", stats.Duplicates)
	fmt.Fprintf(w, "Rejected polygons\t%d\n", stats.Rejected)
	fmt.Fprintf(w, "Dropped vertices\t%d\n", stats.Dropped)
	fmt.Fprintf(w, "New labels\t%d\n", newLabels)
	w.Flush()

	for _, e := range fileErrs {
		fmt.Fprintf(os.Stderr, "\n⚠️  Skipped file: %v\n", e)
	}
	for _, e := range polygonErrs {
		fmt.Fprintf(os.Stderr, "⚠️  %v\n", e)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// validateAggregateFlags ensures all CLI arguments are valid before touching the registry.
func validateAggregateFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("annotation folder does not exist: %w", err)
		}
		return fmt.Errorf("unable to access annotation folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input path %s is a file, expected a folder", opts.InputPath)
	}
	if opts.Width < 0 || opts.Height < 0 {
		return fmt.Errorf("image bounds must be non-negative, got %dx%d", opts.Width, opts.Height)
	}
	if (opts.Width == 0) != (opts.Height == 0) {
		return fmt.Errorf("set both --width and --height or neither")
	}
	return nil
}
