// Package gateway exposes the gateway's read and submission operations as
// the gateway_* JSON-RPC API.
package gateway

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vipnode/gateway/ledger"
	"github.com/vipnode/gateway/ledgerstate"
	"github.com/vipnode/gateway/status"
	"github.com/vipnode/gateway/submission"
	"github.com/vipnode/gateway/txquery"
)

// Namespace of the gateway RPC methods.
const Namespace = "gateway"

// ErrNoAggregates is returned by entity lookups when the read replica does
// not index resource aggregates.
var ErrNoAggregates = errors.New("the read replica does not index entity resources")

// StatusSource provides the cached gateway status.
type StatusSource interface {
	Status(ctx context.Context) (*status.Response, error)
}

// Service implements the gateway RPC API.
type Service struct {
	Status       StatusSource
	Store        ledger.Store
	States       *ledgerstate.Querier
	Submitter    *submission.Submitter
	Transactions *txquery.Querier
}

// NewServer returns an rpc server which serves svc under the gateway
// namespace.
func NewServer(svc *Service) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(Namespace, &api{svc}); err != nil {
		return nil, err
	}
	return server, nil
}

// api is the rpc receiver. It is separate from Service so that only RPC
// methods are registered.
type api struct {
	svc *Service
}

func (a *api) Status(ctx context.Context) (*status.Response, error) {
	return a.svc.Status.Status(ctx)
}

// LedgerState resolves a ledger state identifier. A nil identifier
// resolves to the top of the ledger.
func (a *api) LedgerState(ctx context.Context, at *ledger.Identifier) (*ledger.State, error) {
	return a.svc.States.ResolveForRead(ctx, at)
}

func (a *api) Build(ctx context.Context, req submission.BuildRequest) (*submission.BuildResponse, error) {
	return a.svc.Submitter.Build(ctx, req)
}

func (a *api) Finalize(ctx context.Context, req submission.FinalizeRequest) (*submission.FinalizeResponse, error) {
	return a.svc.Submitter.Finalize(ctx, req)
}

func (a *api) Submit(ctx context.Context, payload hexutil.Bytes) (*submission.Result, error) {
	return a.svc.Submitter.Submit(ctx, payload)
}

func (a *api) TransactionStatus(ctx context.Context, intentHash string) (*txquery.StatusResponse, error) {
	return a.svc.Transactions.Status(ctx, intentHash)
}

func (a *api) CommittedTransaction(ctx context.Context, intentHash string, at *ledger.Identifier) (*txquery.CommittedTransaction, error) {
	return a.svc.Transactions.Committed(ctx, intentHash, at)
}

func (a *api) RecentTransactions(ctx context.Context, req *txquery.Request) (*txquery.Page, error) {
	if req == nil {
		req = &txquery.Request{}
	}
	return a.svc.Transactions.Recent(ctx, *req)
}

func (a *api) AccountTransactions(ctx context.Context, account string, req *txquery.Request) (*txquery.Page, error) {
	if req == nil {
		req = &txquery.Request{}
	}
	return a.svc.Transactions.Account(ctx, account, *req)
}

// AccountTransactionCount counts the transactions affecting account at the
// resolved ledger state, except start of epoch transactions.
func (a *api) AccountTransactionCount(ctx context.Context, account string, at *ledger.Identifier) (int64, error) {
	if account == "" {
		return 0, ledger.InvalidRequestf("Account is required")
	}
	return a.svc.Transactions.CountTotal(ctx, account, at)
}

func (a *api) EntityResources(ctx context.Context, entityID string, at *ledger.Identifier) (*EntityResources, error) {
	return a.svc.EntityResources(ctx, entityID, at)
}

func (a *api) EntityResourceVaults(ctx context.Context, entityID string, resourceID string, at *ledger.Identifier) (*EntityResourceVaults, error) {
	return a.svc.EntityResourceVaults(ctx, entityID, resourceID, at)
}
