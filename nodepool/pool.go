package nodepool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/vipnode/gateway/metrics"
)

// Config controls how nodes are classified and how often they are probed.
type Config struct {
	// MaxLag is the number of state versions a node may be behind the top
	// of the ledger and still count as synced.
	MaxLag uint64
	// IgnoreNonSyncedNodes excludes lagging nodes from the pool even when
	// no node is synced.
	IgnoreNonSyncedNodes bool
	// ProbeTimeout bounds each node probe.
	ProbeTimeout time.Duration
	// RefreshInterval is the time between probe cycles of a started pool.
	RefreshInterval time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxLag:               100,
		IgnoreNonSyncedNodes: true,
		ProbeTimeout:         DefaultProbeTimeout,
		RefreshInterval:      10 * time.Second,
	}
}

// NodeHealth is the per-node view from the last probe cycle.
type NodeHealth struct {
	Name         string `json:"name"`
	Status       Status `json:"status"`
	StateVersion uint64 `json:"state_version,omitempty"`
	Error        string `json:"error,omitempty"`
	InPool       bool   `json:"in_pool"`
}

// snapshot is an immutable result of one probe cycle.
type snapshot struct {
	tier        Status
	members     []*Member
	totalWeight float64
	health      []NodeHealth
	topOfLedger uint64
	updated     time.Time
}

// Pool keeps the set of nodes that requests should be sent to. Readers
// always see a complete probe cycle result.
type Pool struct {
	// TopOfLedger returns the gateway's own view of the ledger tip. When it
	// is unset or fails, the highest state version reported by a node is
	// used instead. (Optional)
	TopOfLedger func(ctx context.Context) (uint64, error)

	// Rand returns a number in [0, 1) and is used for weighted picks.
	// (Optional)
	Rand func() float64

	cfg     Config
	members []*Member
	current *atomic.Pointer[snapshot]
	metrics *metrics.GatewayMetrics

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	waitCh  chan error
}

// NewPool validates nodes and returns a pool of the enabled ones. The pool is
// empty until the first Refresh.
func NewPool(cfg Config, nodes []Node, dial DialFunc) (*Pool, error) {
	var problems []string
	seen := map[string]struct{}{}
	members := []*Member{}
	for i, n := range nodes {
		if n.Name == "" {
			problems = append(problems, fmt.Sprintf("node %d has no name", i))
			continue
		}
		if _, ok := seen[n.Name]; ok {
			problems = append(problems, fmt.Sprintf("duplicate node name %q", n.Name))
			continue
		}
		seen[n.Name] = struct{}{}
		if !n.IsEnabled() {
			continue
		}
		if n.Weight <= 0 {
			problems = append(problems, fmt.Sprintf("node %q has non-positive weight %v", n.Name, n.Weight))
			continue
		}
		members = append(members, &Member{Node: n, dial: dial})
	}
	if len(problems) == 0 && len(members) == 0 {
		problems = append(problems, "no enabled nodes")
	}
	if len(problems) > 0 {
		return nil, ConfigurationError{Problems: problems}
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Pool{
		cfg:     cfg,
		members: members,
		current: atomic.NewPointer(&snapshot{}),
	}, nil
}

// WithMetrics reports probe cycles to m.
func (p *Pool) WithMetrics(m *metrics.GatewayMetrics) *Pool {
	p.metrics = m
	return p
}

// Members returns every enabled member, regardless of health.
func (p *Pool) Members() []*Member {
	return p.members
}

// Refresh runs one probe cycle and replaces the pool with the best non-empty
// healthy tier.
func (p *Pool) Refresh(ctx context.Context) error {
	var samples []Sample
	var top uint64
	var topErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		samples = ProbeAll(gctx, p.members, p.cfg.ProbeTimeout)
		return nil
	})
	if p.TopOfLedger != nil {
		g.Go(func() error {
			top, topErr = p.TopOfLedger(gctx)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.TopOfLedger == nil || topErr != nil {
		if topErr != nil {
			logger.Warningf("Failed to read top of ledger, using highest node-reported version: %s", topErr)
		}
		top = highestReported(samples)
	}

	next := p.classify(samples, top)
	p.current.Store(next)
	p.report(next)
	return nil
}

func highestReported(samples []Sample) uint64 {
	var top uint64
	for _, s := range samples {
		if s.Err == nil && s.StateVersion > top {
			top = s.StateVersion
		}
	}
	return top
}

func (p *Pool) classify(samples []Sample, top uint64) *snapshot {
	tiers := map[Status][]*Member{}
	statuses := make([]Status, len(samples))
	var probeErr error
	for i, s := range samples {
		status := Classify(s, top, p.cfg.MaxLag)
		statuses[i] = status
		tiers[status] = append(tiers[status], p.members[i])
		if s.Err != nil {
			probeErr = multierror.Append(probeErr, fmt.Errorf("%s: %w", s.Node.Name, s.Err))
		}
	}
	if probeErr != nil {
		logger.Debugf("Probe errors: %s", probeErr)
	}

	next := &snapshot{
		tier:        Unhealthy,
		topOfLedger: top,
		updated:     time.Now(),
	}
	for _, status := range statusOrder {
		if status == Unhealthy {
			break
		}
		if status != HealthyAndSynced && p.cfg.IgnoreNonSyncedNodes {
			break
		}
		if len(tiers[status]) > 0 {
			next.tier = status
			next.members = tiers[status]
			break
		}
	}
	inPool := map[*Member]bool{}
	for _, m := range next.members {
		next.totalWeight += m.Weight
		inPool[m] = true
	}
	next.health = make([]NodeHealth, len(samples))
	for i, s := range samples {
		h := NodeHealth{
			Name:   s.Node.Name,
			Status: statuses[i],
			InPool: inPool[p.members[i]],
		}
		if s.Err != nil {
			h.Error = s.Err.Error()
		} else {
			h.StateVersion = s.StateVersion
		}
		next.health[i] = h
	}
	return next
}

func (p *Pool) report(s *snapshot) {
	counts := map[Status]int{}
	for _, h := range s.health {
		counts[h.Status]++
		p.metrics.SetNodeHealth(h.Name, h.Status.healthValue())
	}
	for _, status := range statusOrder {
		p.metrics.SetNodesByStatus(status.String(), counts[status])
	}

	synced := counts[HealthyAndSynced]
	enabled := len(p.members)
	if synced <= enabled/2 {
		logger.Errorf("Only %d of %d enabled core nodes are synced (top of ledger: %d)", synced, enabled, s.topOfLedger)
	} else {
		logger.Debugf("Probe cycle: %d synced, %d lagging, %d unhealthy (top of ledger: %d)", synced, counts[HealthyButLagging], counts[Unhealthy], s.topOfLedger)
	}
}

// Pick returns a member of the current pool, chosen at random in proportion
// to its weight.
func (p *Pool) Pick() (*Member, error) {
	s := p.current.Load()
	if len(s.members) == 0 {
		return nil, NoNodesAvailableError{NumEnabled: len(p.members)}
	}
	random := rand.Float64
	if p.Rand != nil {
		random = p.Rand
	}
	target := random() * s.totalWeight
	for _, m := range s.members {
		target -= m.Weight
		if target < 0 {
			return m, nil
		}
	}
	return s.members[len(s.members)-1], nil
}

// Tier returns the status shared by every member of the current pool.
func (p *Pool) Tier() Status {
	return p.current.Load().tier
}

// Statuses returns the per-node view of the last probe cycle.
func (p *Pool) Statuses() []NodeHealth {
	s := p.current.Load()
	r := make([]NodeHealth, len(s.health))
	copy(r, s.health)
	return r
}

// Start runs a probe cycle and then keeps refreshing the pool every
// RefreshInterval until Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("pool already started")
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.waitCh = make(chan error, 1)
	p.mu.Unlock()

	if err := p.Refresh(ctx); err != nil {
		return err
	}
	logger.Infof("Node pool started: %d enabled nodes, %d in %s tier", len(p.members), len(p.current.Load().members), p.Tier())

	go func() {
		p.waitCh <- p.serveRefresh(ctx)
	}()
	return nil
}

// Stop ends the refresh loop.
func (p *Pool) Stop() {
	p.stopCh <- struct{}{}
}

// Wait blocks until the refresh loop ends.
func (p *Pool) Wait() error {
	return <-p.waitCh
}

func (p *Pool) serveRefresh(ctx context.Context) error {
	interval := p.cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultConfig().RefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				logger.Warningf("Probe cycle failed: %s", err)
			}
		case <-ctx.Done():
			p.setStopped()
			return ctx.Err()
		case <-p.stopCh:
			p.setStopped()
			return nil
		}
	}
}

func (p *Pool) setStopped() {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
}
