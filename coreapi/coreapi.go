package coreapi

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// Namespace is the JSON-RPC namespace that Core nodes serve their API under.
const Namespace = "core"

// NetworkStatus is the result of core_networkStatus.
type NetworkStatus struct {
	Network      string `json:"network"`
	StateVersion uint64 `json:"state_version"`
}

// ParsedTransaction holds the canonical identifiers of a notarized transaction.
type ParsedTransaction struct {
	PayloadHash string  `json:"payload_hash"`
	IntentHash  string  `json:"intent_hash"`
	Intent      *Intent `json:"intent,omitempty"`
}

// SubmitResult is the result of core_submitTransaction.
type SubmitResult struct {
	// Duplicate is set when the node already had the transaction in its
	// mempool.
	Duplicate bool `json:"duplicate"`
}

// VaultChange is a balance change of a single vault, attributed to the
// entity that owns it.
type VaultChange struct {
	// EntityID is the global ancestor owning the vault.
	EntityID string `json:"entity_id"`
	// ParentEntityID is the direct owner, if it differs from EntityID.
	ParentEntityID string `json:"parent_entity_id,omitempty"`
	VaultID        string `json:"vault_id"`
	ResourceID     string `json:"resource_id"`
	Fungible       bool   `json:"fungible"`
	// Delta is a base-10 signed integer: a token amount for fungible
	// resources, an item count otherwise.
	Delta string `json:"delta"`
}

// CommittedTransaction is a single entry of the committed transaction stream.
type CommittedTransaction struct {
	StateVersion   uint64        `json:"state_version"`
	PayloadHash    string        `json:"payload_hash"`
	IntentHash     string        `json:"intent_hash"`
	RoundTimestamp time.Time     `json:"round_timestamp"`
	Epoch          uint64        `json:"epoch"`
	RoundInEpoch   uint64        `json:"round_in_epoch"`
	IsStartOfEpoch bool          `json:"is_start_of_epoch"`
	Success        bool          `json:"success"`
	Accounts       []string      `json:"affected_accounts"`
	VaultChanges   []VaultChange `json:"vault_changes"`
}

// Node is the normalized interface to a Core node.
type Node interface {
	// NetworkStatus returns the node's view of the ledger tip.
	NetworkStatus(ctx context.Context) (*NetworkStatus, error)
	// ParseTransaction asks the node to parse and validate a payload.
	ParseTransaction(ctx context.Context, payload []byte, signed bool) (*ParsedTransaction, error)
	// SubmitTransaction submits a notarized payload to the node's mempool.
	SubmitTransaction(ctx context.Context, payload []byte) (*SubmitResult, error)
	// CommittedTransactions streams up to limit committed transactions
	// starting at fromStateVersion.
	CommittedTransactions(ctx context.Context, fromStateVersion uint64, limit int) ([]CommittedTransaction, error)
}

// Dial is a wrapper around go-ethereum/rpc.DialContext which returns a Node.
// Supported address schemes are the ones go-ethereum supports (http, ws, ipc).
func Dial(ctx context.Context, address string) (Node, error) {
	client, err := rpc.DialContext(ctx, address)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Dialed core node: %s", redact(address))
	return RemoteNode(client), nil
}

// RemoteNode wraps an rpc client connected to a Core node.
func RemoteNode(client *rpc.Client) Node {
	return &rpcNode{client: client}
}

// redact strips credentials from a node address so it can be logged.
func redact(address string) string {
	schemeEnd := strings.Index(address, "://")
	at := strings.LastIndex(address, "@")
	if schemeEnd < 0 || at < schemeEnd {
		return address
	}
	return address[:schemeEnd+3] + "…" + address[at:]
}
