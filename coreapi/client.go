package coreapi

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

type rpcNode struct {
	client *rpc.Client
}

func (n *rpcNode) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return translateError(n.client.CallContext(ctx, result, Namespace+"_"+method, args...))
}

func (n *rpcNode) NetworkStatus(ctx context.Context) (*NetworkStatus, error) {
	var status NetworkStatus
	if err := n.call(ctx, &status, "networkStatus"); err != nil {
		return nil, err
	}
	return &status, nil
}

func (n *rpcNode) ParseTransaction(ctx context.Context, payload []byte, signed bool) (*ParsedTransaction, error) {
	var parsed ParsedTransaction
	if err := n.call(ctx, &parsed, "parseTransaction", hexutil.Bytes(payload), signed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (n *rpcNode) SubmitTransaction(ctx context.Context, payload []byte) (*SubmitResult, error) {
	var result SubmitResult
	if err := n.call(ctx, &result, "submitTransaction", hexutil.Bytes(payload)); err != nil {
		return nil, err
	}
	return &result, nil
}

func (n *rpcNode) CommittedTransactions(ctx context.Context, fromStateVersion uint64, limit int) ([]CommittedTransaction, error) {
	var txns []CommittedTransaction
	if err := n.call(ctx, &txns, "committedTransactions", fromStateVersion, limit); err != nil {
		return nil, err
	}
	return txns, nil
}

// service exposes a Node as the core_* JSON-RPC API.
type service struct {
	node Node
}

func (s *service) NetworkStatus(ctx context.Context) (*NetworkStatus, error) {
	r, err := s.node.NetworkStatus(ctx)
	return r, serveError(err)
}

func (s *service) ParseTransaction(ctx context.Context, payload hexutil.Bytes, signed bool) (*ParsedTransaction, error) {
	r, err := s.node.ParseTransaction(ctx, payload, signed)
	return r, serveError(err)
}

func (s *service) SubmitTransaction(ctx context.Context, payload hexutil.Bytes) (*SubmitResult, error) {
	r, err := s.node.SubmitTransaction(ctx, payload)
	return r, serveError(err)
}

func (s *service) CommittedTransactions(ctx context.Context, fromStateVersion uint64, limit int) ([]CommittedTransaction, error) {
	r, err := s.node.CommittedTransactions(ctx, fromStateVersion, limit)
	return r, serveError(err)
}

// wireError serves an APIError with its bare message, so the client side
// does not repeat the classification prefix.
type wireError struct {
	*APIError
}

func (err wireError) Error() string {
	return err.Message
}

func serveError(err error) error {
	if apiErr, ok := AsAPIError(err); ok {
		return wireError{apiErr}
	}
	return err
}

// NewServer returns an rpc server which serves node under the core
// namespace. It is used to stand up fake nodes for development and tests.
func NewServer(node Node) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(Namespace, &service{node}); err != nil {
		return nil, err
	}
	return server, nil
}
