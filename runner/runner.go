package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/notargets/ipsens/partitions"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrNoLayout = errors.New("runner: no partition layout")

// Runner dispatches the partitions of a layout to a bounded set of workers.
// Items inside one partition run in order on the same goroutine.
type Runner struct {
	Layout  *partitions.PartitionLayout
	Workers int
	Logger  *zap.Logger
}

// NewRunner builds a runner. workers <= 0 means GOMAXPROCS, and a nil logger
// discards output.
func NewRunner(layout *partitions.PartitionLayout, workers int, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Layout: layout, Workers: workers, Logger: logger}
}

// Run calls fn once for every item of the layout. The first error cancels
// the partitions that have not started and is returned wrapped with the item
// that produced it.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context, item int) error) error {
	if r.Layout == nil {
		return ErrNoLayout
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.Workers)
	for _, p := range r.Layout.Partitions {
		if p.NumItems == 0 {
			continue
		}
		p := p
		eg.Go(func() error {
			r.Logger.Debug("partition start",
				zap.Int("partition", p.ID), zap.Int("items", p.NumItems))
			for _, it := range p.Items {
				if err := egCtx.Err(); err != nil {
					return err
				}
				if err := fn(egCtx, it); err != nil {
					return fmt.Errorf("item %d: %w", it, err)
				}
			}
			return nil
		})
	}
	return eg.Wait()
}
