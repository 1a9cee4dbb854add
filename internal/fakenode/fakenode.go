package fakenode

import (
	"context"
	"fmt"
	"sync"

	"github.com/vipnode/gateway/coreapi"
)

type call struct {
	Method string
	Args   []interface{}
}

type Calls []call

func Call(method string, args ...interface{}) call {
	return call{method, args}
}

func Node(network string, stateVersion uint64) *FakeNode {
	return &FakeNode{
		Network:      network,
		StateVersion: stateVersion,
		Calls:        Calls{},
	}
}

// FakeNode is an in-memory implementation of coreapi.Node. It keeps a
// mempool keyed by payload hash so repeated submissions report duplicates.
type FakeNode struct {
	Network      string
	StateVersion uint64

	// StatusErr is returned from NetworkStatus when set.
	StatusErr error
	// SubmitErr is returned from SubmitTransaction when set.
	SubmitErr error
	// Hang makes SubmitTransaction block until the context is done.
	Hang bool
	// StatusHang makes NetworkStatus block until the context is done.
	StatusHang bool
	// Committed is served by CommittedTransactions.
	Committed []coreapi.CommittedTransaction

	mu      sync.Mutex
	Calls   Calls
	mempool map[string]struct{}
}

func (n *FakeNode) record(method string, args ...interface{}) {
	n.mu.Lock()
	n.Calls = append(n.Calls, Call(method, args...))
	n.mu.Unlock()
}

// NumCalls returns how many times method was called.
func (n *FakeNode) NumCalls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	num := 0
	for _, c := range n.Calls {
		if c.Method == method {
			num++
		}
	}
	return num
}

func (n *FakeNode) NetworkStatus(ctx context.Context) (*coreapi.NetworkStatus, error) {
	n.record("NetworkStatus")
	n.mu.Lock()
	hang := n.StatusHang
	n.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.StatusErr != nil {
		return nil, n.StatusErr
	}
	return &coreapi.NetworkStatus{Network: n.Network, StateVersion: n.StateVersion}, nil
}

func (n *FakeNode) ParseTransaction(ctx context.Context, payload []byte, signed bool) (*coreapi.ParsedTransaction, error) {
	n.record("ParseTransaction", signed)
	parsed, err := coreapi.ParseNotarized(payload)
	if err != nil {
		return nil, coreapi.NewAPIError(coreapi.KindInvalidTransaction, false, true, err.Error())
	}
	return parsed, nil
}

func (n *FakeNode) SubmitTransaction(ctx context.Context, payload []byte) (*coreapi.SubmitResult, error) {
	parsed, err := coreapi.ParseNotarized(payload)
	if err != nil {
		n.record("SubmitTransaction", "")
		return nil, coreapi.NewAPIError(coreapi.KindInvalidTransaction, false, true, err.Error())
	}
	n.record("SubmitTransaction", parsed.PayloadHash)

	n.mu.Lock()
	hang, submitErr := n.Hang, n.SubmitErr
	n.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if submitErr != nil {
		return nil, submitErr
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.mempool == nil {
		n.mempool = map[string]struct{}{}
	}
	if _, ok := n.mempool[parsed.PayloadHash]; ok {
		return &coreapi.SubmitResult{Duplicate: true}, nil
	}
	n.mempool[parsed.PayloadHash] = struct{}{}
	return &coreapi.SubmitResult{}, nil
}

func (n *FakeNode) CommittedTransactions(ctx context.Context, fromStateVersion uint64, limit int) ([]coreapi.CommittedTransaction, error) {
	n.record("CommittedTransactions", fromStateVersion, limit)
	n.mu.Lock()
	defer n.mu.Unlock()
	r := []coreapi.CommittedTransaction{}
	for _, txn := range n.Committed {
		if txn.StateVersion < fromStateVersion {
			continue
		}
		if len(r) >= limit {
			break
		}
		r = append(r, txn)
	}
	return r, nil
}

// SetStateVersion updates the version reported by NetworkStatus.
func (n *FakeNode) SetStateVersion(v uint64) {
	n.mu.Lock()
	n.StateVersion = v
	n.mu.Unlock()
}

// Payload builds a valid notarized payload for tests, valid during epochs
// [0, 100).
func Payload(network string, nonce uint64) []byte {
	intent, _, err := coreapi.EncodeIntent(coreapi.Intent{
		Network:           network,
		EndEpochExclusive: 100,
		Nonce:             nonce,
		Manifest:          []byte(fmt.Sprintf("manifest-%d", nonce)),
	})
	if err != nil {
		panic(err)
	}
	payload, err := coreapi.Notarize(intent, [][]byte{[]byte("sig")}, []byte("notary"))
	if err != nil {
		panic(err)
	}
	return payload
}
