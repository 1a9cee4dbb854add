package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vipnode/gateway/mempool"
)

// New implements an ephemeral in-memory store. Registrations are serialized
// by a single mutex.
func New() *memoryStore {
	return &memoryStore{
		txs: map[string]mempool.Transaction{},
	}
}

// Assert Store implementation
var _ mempool.Store = &memoryStore{}

type memoryStore struct {
	mu  sync.Mutex
	txs map[string]mempool.Transaction
}

func (s *memoryStore) TrackInitialSubmission(now time.Time, sub mempool.Submission) (mempool.TrackGuidance, error) {
	if sub.IntentHash == "" || sub.PayloadHash == "" {
		return mempool.TrackGuidance{}, mempool.ErrMalformedSubmission
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[sub.IntentHash]; ok {
		g := tx.Guidance(now)
		s.txs[sub.IntentHash] = tx
		return g, nil
	}
	s.txs[sub.IntentHash] = mempool.NewTransaction(now, sub)
	return mempool.TrackGuidance{ShouldSubmitToNode: true}, nil
}

func (s *memoryStore) MarkAsFailed(intentHash string, reason mempool.FailureReason, explanation string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[intentHash]
	if !ok {
		return mempool.ErrNotFound
	}
	tx.Status = mempool.StatusFailed
	tx.FailureReason = reason
	tx.FailureExplanation = explanation
	s.txs[intentHash] = tx
	return nil
}

func (s *memoryStore) Get(intentHash string) (*mempool.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[intentHash]
	if !ok {
		return nil, mempool.ErrNotFound
	}
	return &tx, nil
}

func (s *memoryStore) ListPending(limit int) ([]mempool.Transaction, error) {
	s.mu.Lock()
	r := []mempool.Transaction{}
	for _, tx := range s.txs {
		if tx.Status == mempool.StatusPending {
			r = append(r, tx)
		}
	}
	s.mu.Unlock()

	sort.Slice(r, func(i, j int) bool {
		if r[i].FirstSubmittedToGateway.Equal(r[j].FirstSubmittedToGateway) {
			return r[i].IntentHash < r[j].IntentHash
		}
		return r[i].FirstSubmittedToGateway.Before(r[j].FirstSubmittedToGateway)
	})
	if limit > 0 && len(r) > limit {
		r = r[:limit]
	}
	return r, nil
}

func (s *memoryStore) MarkResubmitted(intentHash string, nodeName string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[intentHash]
	if !ok {
		return mempool.ErrNotFound
	}
	if tx.Status != mempool.StatusPending {
		return mempool.ErrNotPending
	}
	tx.LastSubmittedToNode = now
	tx.LastNodeName = nodeName
	tx.SubmissionCount++
	s.txs[intentHash] = tx
	return nil
}

func (s *memoryStore) MarkCommitted(intentHash string, stateVersion uint64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[intentHash]
	if !ok {
		return mempool.ErrNotFound
	}
	if tx.Status == mempool.StatusCommitted {
		return nil
	}
	tx.Status = mempool.StatusCommitted
	tx.CommittedStateVersion = stateVersion
	tx.CommittedAt = now
	s.txs[intentHash] = tx
	return nil
}

func (s *memoryStore) PruneCommitted(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, tx := range s.txs {
		if tx.Status == mempool.StatusCommitted && tx.CommittedAt.Before(before) {
			delete(s.txs, k)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Stats() (*mempool.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &mempool.Stats{}
	for _, tx := range s.txs {
		switch tx.Status {
		case mempool.StatusPending:
			stats.NumPending++
		case mempool.StatusFailed:
			stats.NumFailed++
		case mempool.StatusCommitted:
			stats.NumCommitted++
		}
	}
	return stats, nil
}

func (s *memoryStore) Close() error {
	return nil
}
