package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/smartstore/internal/dataset"
	"github.com/andresmejia3/smartstore/internal/geometry"
	"github.com/andresmejia3/smartstore/internal/types"
	"github.com/andresmejia3/smartstore/internal/utils"
	"github.com/andresmejia3/smartstore/internal/worker"
)

const pointsFile = "points.xyz"

var (
	projectOpts       Options
	projectAnnotation string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Back-project depth frames of a scene into world coordinates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runProject(cmd.Context(), projectOpts)
	},
}

func init() {
	projectCmd.Flags().StringVar(&projectOpts.DatasetRoot, "root", os.Getenv("SMARTSTORE_ROOT"), "Dataset root containing data/<scene>/ (env SMARTSTORE_ROOT)")
	projectCmd.Flags().StringVar(&projectOpts.Scene, "scene", "", "Scene name")
	projectCmd.Flags().IntSliceVarP(&projectOpts.Frames, "frame", "f", nil, "Frame indices to project (repeatable or comma-separated)")
	projectCmd.Flags().StringVarP(&projectAnnotation, "annotation", "a", "", "Project every annotated frame of this annotation file")
	projectCmd.Flags().IntVarP(&projectOpts.NumEngines, "engines", "e", 1, "Number of parallel projection engines")
	projectCmd.Flags().StringVarP(&projectOpts.OutputPath, "output", "o", "output", "Output folder for <scene>/<frame>/points.xyz")

	rootCmd.AddCommand(projectCmd)
}

// runProject fans frames out to the worker pool and writes each frame's
// points as they arrive. A failing frame is reported and skipped.
func runProject(ctx context.Context, opts Options) error {
	if projectAnnotation != "" {
		scene, frames, err := annotatedFrames(projectAnnotation)
		if err != nil {
			utils.ShowError("Failed to read annotation file", err)
			return err
		}
		if opts.Scene == "" {
			opts.Scene = scene
		}
		opts.Frames = append(opts.Frames, frames...)
	}
	if err := validateProjectFlags(&opts); err != nil {
		utils.ShowError("Invalid project options", err)
		return err
	}

	ds := dataset.New(opts.DatasetRoot)
	tasks := make([]types.FrameTask, len(opts.Frames))
	for i, idx := range opts.Frames {
		tasks[i] = types.FrameTask{Frame: types.Frame{Scene: opts.Scene, Index: idx}}
	}

	bar := progressbar.NewOptions(len(tasks),
		progressbar.OptionSetDescription("📐 Projecting"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	results := make(chan worker.Result, opts.NumEngines*2)
	type outcome struct {
		written int
		failed  []worker.Result
	}
	done := make(chan outcome)

	// Must run concurrently to prevent deadlock on results
	go func() {
		var out outcome
		for res := range results {
			if res.Err == nil {
				res.Err = writePoints(opts.OutputPath, res.Frame, res.Points)
			}
			if res.Err != nil {
				out.failed = append(out.failed, res)
			} else {
				out.written++
			}
			bar.Add(1)
		}
		done <- out
	}()

	runErr := worker.NewPool(opts.NumEngines, Logger).Run(ctx, ds, tasks, results)
	out := <-done
	bar.Finish()

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 PROJECTION SUMMARY: %d written, %d failed\n", out.written, len(out.failed))
	sort.Slice(out.failed, func(i, j int) bool { return out.failed[i].Frame.Index < out.failed[j].Frame.Index })
	for _, r := range out.failed {
		fmt.Fprintf(os.Stderr, "⚠️  %s: %v\n", r.Frame, r.Err)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	if runErr != nil {
		return runErr
	}
	if len(out.failed) > 0 {
		return fmt.Errorf("%d of %d frames failed", len(out.failed), len(tasks))
	}
	return nil
}

// writePoints stores the valid points of one frame as "u v x y z" lines,
// where (u, v) is the one-based source pixel.
func writePoints(outDir string, f types.Frame, wp *geometry.WorldPoints) (err error) {
	dir := filepath.Join(outDir, f.Scene, strconv.Itoa(f.Index))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	file, err := os.Create(filepath.Join(dir, pointsFile))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(file)
	pixels := wp.Valid.Pixels()
	if len(pixels) != len(wp.Points) {
		return fmt.Errorf("mask has %d pixels for %d points", len(pixels), len(wp.Points))
	}
	buf := make([]byte, 0, 96)
	for i, p := range wp.Points {
		buf = buf[:0]
		buf = strconv.AppendInt(buf, int64(pixels[i].X), 10)
		buf = append(buf, ' ')
		buf = strconv.AppendInt(buf, int64(pixels[i].Y), 10)
		for _, v := range [3]float64{p.X, p.Y, p.Z} {
			buf = append(buf, ' ')
			buf = strconv.AppendFloat(buf, v, 'f', 6, 64)
		}
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return w.Flush()
}

// annotatedFrames returns the scene name of an annotation file and the
// indices of its frames that carry at least one polygon.
func annotatedFrames(path string) (string, []int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	var af types.AnnotationFile
	if err := json.Unmarshal(data, &af); err != nil {
		return "", nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	var frames []int
	for i, fr := range af.Frames {
		if fr != nil && len(fr.Polygon) > 0 {
			frames = append(frames, i)
		}
	}
	return af.Name, frames, nil
}

// validateProjectFlags ensures all CLI arguments are valid before starting the pool.
func validateProjectFlags(opts *Options) error {
	if opts.DatasetRoot == "" {
		return fmt.Errorf("dataset root is required (--root or SMARTSTORE_ROOT)")
	}
	if opts.Scene == "" {
		return fmt.Errorf("scene is required (--scene or --annotation)")
	}
	info, err := os.Stat(filepath.Join(opts.DatasetRoot, "data", opts.Scene))
	if err != nil {
		return fmt.Errorf("scene %q not found under %s: %w", opts.Scene, opts.DatasetRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scene path for %q is not a folder", opts.Scene)
	}
	if len(opts.Frames) == 0 {
		return fmt.Errorf("no frames selected (use --frame or --annotation)")
	}

	// Deduplicate while keeping the first occurrence
	seen := make(map[int]bool, len(opts.Frames))
	frames := opts.Frames[:0:0]
	for _, f := range opts.Frames {
		if f < 0 {
			return fmt.Errorf("frame index must be non-negative, got %d", f)
		}
		if !seen[f] {
			seen[f] = true
			frames = append(frames, f)
		}
	}
	opts.Frames = frames

	if opts.NumEngines < 1 {
		return fmt.Errorf("engines must be at least 1, got %d", opts.NumEngines)
	}
	return nil
}
