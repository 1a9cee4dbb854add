// Package status serves a cached public summary of the gateway's health.
package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vipnode/gateway/ledger"
	"github.com/vipnode/gateway/ledgerstate"
	"github.com/vipnode/gateway/mempool"
	"github.com/vipnode/gateway/nodepool"
)

const statusTimeout = time.Second * 10

// Nodes is the node pool view reported in the status.
type Nodes interface {
	Tier() nodepool.Status
	Statuses() []nodepool.NodeHealth
}

// Ledger is the read replica view reported in the status.
type Ledger interface {
	Status(ctx context.Context) (*ledgerstate.Status, error)
}

// Response is the response type for Status RPC calls.
type Response struct {
	// TimeUpdated is the time when the response was generated. Because the
	// response is cached, it can be sometime in the past.
	TimeUpdated time.Time `json:"time_updated"`

	// TimeStarted is when the gateway was started.
	TimeStarted time.Time `json:"time_started"`

	// Version of the gateway that is currently running.
	Version string `json:"version"`

	Network string `json:"network"`

	// Ledger is nil until the replica ingested its first transaction.
	Ledger *ledgerstate.Status `json:"ledger,omitempty"`

	// PoolTier is the health tier requests are currently routed to.
	PoolTier nodepool.Status `json:"pool_tier"`

	Nodes []nodepool.NodeHealth `json:"nodes"`

	// Mempool contains aggregate statistics about tracked submissions.
	Mempool *mempool.Stats `json:"mempool"`

	// Error is set if the last cache update attempt failed.
	Error string `json:"error,omitempty"`
}

// GatewayStatus provides data to a status dashboard over RPC. Because
// status calls are unauthenticated, only cached public data is served.
type GatewayStatus struct {
	Network string
	Nodes   Nodes
	Ledger  Ledger
	Mempool mempool.Store

	// TimeStarted is the time when the server was started.
	TimeStarted time.Time

	// Version of the gateway to report.
	Version string

	// CacheDuration is the time for responses to be cached.
	CacheDuration time.Duration

	mu         sync.RWMutex
	cachedResp *Response
}

// getStatus is an uncached version of Status
func (s *GatewayStatus) getStatus() (*Response, error) {
	r := &Response{
		TimeUpdated: time.Now(),
		TimeStarted: s.TimeStarted,
		Version:     s.Version,
		Network:     s.Network,
		PoolTier:    s.Nodes.Tier(),
		Nodes:       s.Nodes.Statuses(),
	}

	stats, err := s.Mempool.Stats()
	if err != nil {
		r.Error = err.Error()
		return r, err
	}
	r.Mempool = stats

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	ledgerStatus, err := s.Ledger.Status(ctx)
	if errors.Is(err, ledger.ErrNoTransactions) {
		// Still a useful status while the replica catches up.
		return r, nil
	} else if err != nil {
		r.Error = err.Error()
		return r, err
	}
	r.Ledger = ledgerStatus
	return r, nil
}

// Status returns the status of the gateway.
func (s *GatewayStatus) Status(ctx context.Context) (*Response, error) {
	s.mu.RLock()
	cachedResp := s.cachedResp
	s.mu.RUnlock()

	if cachedResp != nil && cachedResp.TimeUpdated.Add(s.CacheDuration).After(time.Now()) {
		return cachedResp, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Did another request beat us to it?
	if s.cachedResp != cachedResp {
		return s.cachedResp, nil
	}

	// Cached even on error, so failing dependencies are not hammered.
	r, err := s.getStatus()
	s.cachedResp = r
	return r, err
}
