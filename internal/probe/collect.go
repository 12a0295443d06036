package probe

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many hosts are probed at once.
const DefaultConcurrency = 16

// CollectAll probes every distinct ip concurrently and waits for all of them.
// Degraded facts never fail the collection; the returned error joins them for
// logging and is nil when every fact was read. Only context cancellation
// aborts, in which case the facts map is nil.
func CollectAll(ctx context.Context, p Prober, ips []string, concurrency int) (map[string]*Facts, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var (
		mu       sync.Mutex
		facts    = make(map[string]*Facts, len(ips))
		degraded error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	seen := map[string]bool{}
	for _, ip := range ips {
		if seen[ip] {
			continue
		}
		seen[ip] = true
		g.Go(func() error {
			f, err := p.Collect(gctx, ip)
			if cerr := gctx.Err(); cerr != nil {
				return cerr
			}
			mu.Lock()
			defer mu.Unlock()
			facts[ip] = f
			degraded = multierr.Append(degraded, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return facts, degraded
}

// ClockSkew samples every ip and returns the spread between the fastest and
// slowest clock together with the samples. Hosts that could not be sampled
// are returned as errors and excluded from the spread.
func ClockSkew(ctx context.Context, p Prober, ips []string) (spread ClockSpread, err error) {
	for _, ip := range ips {
		s, serr := p.Clock(ctx, ip)
		if serr != nil {
			err = multierr.Append(err, serr)
			continue
		}
		spread.Samples = append(spread.Samples, s)
	}
	for i, s := range spread.Samples {
		if i == 0 || s.Offset < spread.Min {
			spread.Min = s.Offset
		}
		if i == 0 || s.Offset > spread.Max {
			spread.Max = s.Offset
		}
	}
	return spread, err
}
