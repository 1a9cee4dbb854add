package submission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vipnode/gateway/mempool"
	"github.com/vipnode/gateway/metrics"
	"github.com/vipnode/gateway/nodepool"
)

// ResubmitConfig is the schedule of background resubmissions.
type ResubmitConfig struct {
	// Interval is the time between passes over pending transactions.
	Interval time.Duration
	// BaseDelay is the wait after the first submission. Each further
	// submission multiplies it by DelayExponent.
	BaseDelay     time.Duration
	DelayExponent float64
	// MaxAttempts is the number of submissions, including the first, after
	// which a pending transaction is marked failed.
	MaxAttempts int
	// StopAfter is the age after which a pending transaction is marked
	// failed.
	StopAfter time.Duration
	// Timeout bounds each resubmission to a node.
	Timeout time.Duration
	// BatchSize is the number of pending transactions looked at per pass.
	BatchSize int
	// RateLimit caps resubmissions per second. Zero is unlimited.
	RateLimit float64
	// PruneCommittedAfter is how long committed transactions are tracked.
	PruneCommittedAfter time.Duration
}

// DefaultResubmitConfig returns the default schedule.
func DefaultResubmitConfig() ResubmitConfig {
	return ResubmitConfig{
		Interval:            5 * time.Second,
		BaseDelay:           10 * time.Second,
		DelayExponent:       2,
		MaxAttempts:         5,
		StopAfter:           5 * time.Minute,
		Timeout:             4 * time.Second,
		BatchSize:           100,
		RateLimit:           20,
		PruneCommittedAfter: 20 * time.Second,
	}
}

// delayAfter returns how long to wait after the n-th submission before the
// next one.
func (cfg ResubmitConfig) delayAfter(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.DelayExponent, float64(n-1)))
}

// Resubmitter resolves transactions whose first submission had an
// ambiguous outcome. Pending transactions are resubmitted with exponential
// backoff until they are committed, rejected, or too old.
type Resubmitter struct {
	// Now is the clock used for scheduling. (Optional)
	Now func() time.Time

	pool    Picker
	store   mempool.Store
	cfg     ResubmitConfig
	limiter *rate.Limiter
	metrics *metrics.GatewayMetrics

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	waitCh  chan error
}

// NewResubmitter returns a Resubmitter of the pending transactions in store.
func NewResubmitter(pool Picker, store mempool.Store, cfg ResubmitConfig) *Resubmitter {
	limit, burst := rate.Inf, 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = int(math.Ceil(cfg.RateLimit))
	}
	if cfg.DelayExponent < 1 {
		cfg.DelayExponent = 1
	}
	return &Resubmitter{
		pool:    pool,
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// WithMetrics counts resubmission outcomes in m.
func (r *Resubmitter) WithMetrics(m *metrics.GatewayMetrics) *Resubmitter {
	r.metrics = m
	return r
}

func (r *Resubmitter) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Resubmit runs a single pass over pending transactions.
func (r *Resubmitter) Resubmit(ctx context.Context) error {
	now := r.now()
	if r.cfg.PruneCommittedAfter > 0 {
		n, err := r.store.PruneCommitted(now.Add(-r.cfg.PruneCommittedAfter))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Debugf("Pruned %d committed transactions", n)
		}
	}

	pending, err := r.store.ListPending(r.cfg.BatchSize)
	if err != nil {
		return err
	}
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &pending[i]
		err := r.resubmit(ctx, tx)
		if errors.As(err, &nodepool.NoNodesAvailableError{}) {
			logger.Warningf("Resubmission pass cut short: %s", err)
			return nil
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (r *Resubmitter) resubmit(ctx context.Context, tx *mempool.Transaction) error {
	now := r.now()
	if r.cfg.StopAfter > 0 && now.Sub(tx.FirstSubmittedToGateway) >= r.cfg.StopAfter {
		return r.giveUp(tx, fmt.Sprintf("no outcome after %s", r.cfg.StopAfter))
	}
	if now.Sub(tx.LastSubmittedToNode) < r.cfg.delayAfter(tx.SubmissionCount) {
		return nil
	}
	if r.cfg.MaxAttempts > 0 && tx.SubmissionCount >= r.cfg.MaxAttempts {
		return r.giveUp(tx, fmt.Sprintf("no outcome after %d submissions", tx.SubmissionCount))
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	member, err := r.pool.Pick()
	if err != nil {
		return err
	}
	err = r.store.MarkResubmitted(tx.IntentHash, member.Name, now)
	if errors.Is(err, mempool.ErrNotPending) || errors.Is(err, mempool.ErrNotFound) {
		// Resolved since it was listed.
		return nil
	} else if err != nil {
		return err
	}

	o := sendToNode(ctx, r.store, r.now, r.cfg.Timeout, member, tx.IntentHash, tx.Payload)
	r.metrics.ObserveResubmitResolution(o.label)
	return nil
}

func (r *Resubmitter) giveUp(tx *mempool.Transaction, explanation string) error {
	logger.Infof("Marking transaction %s as failed: %s", tx.IntentHash, explanation)
	r.metrics.ObserveResubmitResolution(resultGaveUp)
	err := r.store.MarkAsFailed(tx.IntentHash, mempool.ReasonTimeout, explanation, r.now())
	if errors.Is(err, mempool.ErrNotFound) {
		return nil
	}
	return err
}

// Start begins resubmitting in the background until Stop is called.
func (r *Resubmitter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("resubmitter already started")
	}
	r.started = true
	r.stopCh = make(chan struct{})
	r.waitCh = make(chan error, 1)

	go func() {
		r.waitCh <- r.serve(ctx)
	}()
	return nil
}

// Stop ends the background loop.
func (r *Resubmitter) Stop() {
	r.stopCh <- struct{}{}
}

// Wait blocks until the background loop ends.
func (r *Resubmitter) Wait() error {
	return <-r.waitCh
}

func (r *Resubmitter) serve(ctx context.Context) error {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = DefaultResubmitConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer func() {
		r.mu.Lock()
		r.started = false
		r.mu.Unlock()
	}()
	for {
		select {
		case <-ticker.C:
			if err := r.Resubmit(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("Resubmission pass failed: %s", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			return nil
		}
	}
}
