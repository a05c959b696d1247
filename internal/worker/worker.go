package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/smartstore/internal/geometry"
	"github.com/andresmejia3/smartstore/internal/types"
)

// Projector materialises the world points of one frame.
type Projector interface {
	Project(f types.Frame) (*geometry.WorldPoints, error)
}

// Result is the outcome of one FrameTask.
type Result struct {
	Frame   types.Frame
	Points  *geometry.WorldPoints
	Err     error
	Elapsed time.Duration
}

// Pool runs projections on a bounded number of engines.
type Pool struct {
	Engines int
	Logger  *zap.Logger
}

// NewPool returns a pool of n engines. n < 1 is treated as 1.
func NewPool(n int, logger *zap.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{Engines: n, Logger: logger}
}

// Run projects every task and sends one Result per task to results in
// completion order, closing results when done. A failing frame is reported in
// its Result and does not stop the others; only cancellation of ctx does,
// in which case ctx.Err() is returned.
func (p *Pool) Run(ctx context.Context, proj Projector, tasks []types.FrameTask, results chan<- Result) error {
	defer close(results)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Engines)

	for _, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			wp, err := proj.Project(task.Frame)
			res := Result{Frame: task.Frame, Points: wp, Err: err, Elapsed: time.Since(start)}
			if err != nil {
				p.Logger.Warn("projection failed", zap.Stringer("frame", task.Frame), zap.Error(err))
			} else {
				p.Logger.Debug("projected frame",
					zap.Stringer("frame", task.Frame),
					zap.Int("points", len(wp.Points)),
					zap.Duration("elapsed", res.Elapsed))
			}

			select {
			case results <- res:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
