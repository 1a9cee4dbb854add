package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/vipnode/gateway/coreapi"
	"github.com/vipnode/gateway/internal/pretty"
	"github.com/vipnode/gateway/nodepool"
)

// runProbe runs a single probe cycle against the configured nodes and
// prints the result.
func runProbe(cfg *Config) error {
	pool, err := nodepool.NewPool(cfg.poolConfig(), cfg.Nodes, coreapi.Dial)
	if err != nil {
		return err
	}
	if err := pool.Refresh(context.Background()); err != nil {
		return err
	}

	health := pool.Statuses()
	var top uint64
	for _, h := range health {
		if h.StateVersion > top {
			top = h.StateVersion
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tSTATUS\tSTATE VERSION\tLAG\tIN POOL\tERROR")
	for _, h := range health {
		lag := "-"
		if h.Error == "" {
			lag = pretty.Lag(h.StateVersion, top)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\t%s\n", h.Name, h.Status, h.StateVersion, lag, h.InPool, pretty.Abbrev(h.Error, 60, 57))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nRouting to the %s tier.\n", pool.Tier())

	if _, err := pool.Pick(); err != nil {
		return err
	}
	return nil
}
