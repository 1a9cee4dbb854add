package nodepool

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout bounds a single node probe.
const DefaultProbeTimeout = 5 * time.Second

// Sample is the result of probing one node. StateVersion is only meaningful
// when Err is nil.
type Sample struct {
	Node         Node
	StateVersion uint64
	Err          error
}

// ProbeAll asks every member for its network status concurrently. Each
// probe has its own timeout so a hung node does not delay the others. Probe
// errors are recorded in the returned samples, which are in members order.
func ProbeAll(ctx context.Context, members []*Member, timeout time.Duration) []Sample {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	samples := make([]Sample, len(members))
	var g errgroup.Group
	for i, m := range members {
		i, m := i, m
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			samples[i] = probe(probeCtx, m)
			return nil
		})
	}
	_ = g.Wait()
	return samples
}

func probe(ctx context.Context, m *Member) Sample {
	sample := Sample{Node: m.Node}
	api, err := m.API(ctx)
	if err != nil {
		sample.Err = err
		return sample
	}
	status, err := api.NetworkStatus(ctx)
	if err != nil {
		sample.Err = err
		return sample
	}
	sample.StateVersion = status.StateVersion
	return sample
}
