// Package poll provides the file/condition pollers used by spawned
// workers (spec §4.8): thin, generalized wrappers over the teacher's
// utils.WaitFor, plus file-existence and fan-out helpers built the same
// way.
package poll

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coredpl/dpl/utils"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultInterval = 100 * time.Millisecond
)

// Options bounds a poll's timeout and retry interval. A zero Options uses
// defaultTimeout/defaultInterval.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	return o
}

// WaitFor polls check until it returns (true, nil), a non-nil error, or
// opts' timeout/context expires.
func WaitFor(ctx context.Context, opts Options, check func() (bool, error)) error {
	opts = opts.withDefaults()
	return utils.WaitFor(ctx, opts.Timeout, opts.Interval, check)
}

// File polls for path to exist as a non-empty regular file.
func File(ctx context.Context, path string, opts Options) error {
	return WaitFor(ctx, opts, func() (bool, error) {
		return utils.ValidFile(path), nil
	})
}

// Files polls for every path in paths concurrently, bounded by a small
// errgroup fan-out (grounded on the teacher's layer-pull
// errgroup.WithContext + SetLimit idiom), and returns the first error
// encountered, if any.
func Files(ctx context.Context, paths []string, opts Options) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8) //nolint:mnd
	for _, p := range paths {
		p := p
		g.Go(func() error {
			return File(gctx, p, opts)
		})
	}
	return g.Wait()
}
