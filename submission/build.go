package submission

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vipnode/gateway/coreapi"
	"github.com/vipnode/gateway/ledger"
)

// Epoch window limits of built intents.
const (
	DefaultValidForEpochs = 10
	MaxValidForEpochs     = 100
)

// BuildRequest describes an intent to build.
type BuildRequest struct {
	Nonce    uint64        `json:"nonce"`
	Manifest hexutil.Bytes `json:"manifest"`
	// ValidForEpochs is the length of the epoch window, starting at the
	// current epoch.
	ValidForEpochs uint64 `json:"valid_for_epochs,omitempty"`
}

// BuildResponse is an unsigned intent, ready to be signed.
type BuildResponse struct {
	LedgerState         *ledger.State `json:"ledger_state"`
	Intent              hexutil.Bytes `json:"intent"`
	IntentHash          string        `json:"intent_hash"`
	StartEpochInclusive uint64        `json:"start_epoch_inclusive"`
	EndEpochExclusive   uint64        `json:"end_epoch_exclusive"`
}

// Build encodes an intent valid from the current epoch. The ledger state
// must pass the construction staleness policy.
func (s *Submitter) Build(ctx context.Context, req BuildRequest) (*BuildResponse, error) {
	if s.ledger == nil {
		return nil, errors.New("transaction construction requires a ledger")
	}
	validFor := req.ValidForEpochs
	if validFor == 0 {
		validFor = DefaultValidForEpochs
	}
	if validFor > MaxValidForEpochs {
		return nil, ledger.InvalidRequestf("Valid for epochs must be between 1 and %d", MaxValidForEpochs)
	}
	if len(req.Manifest) == 0 {
		return nil, ledger.InvalidRequestf("Manifest is required")
	}

	state, err := s.ledger.TopForConstruction(ctx)
	if err != nil {
		return nil, err
	}
	intent := coreapi.Intent{
		Network:             state.Network,
		StartEpochInclusive: state.Epoch,
		EndEpochExclusive:   state.Epoch + validFor,
		Nonce:               req.Nonce,
		Manifest:            req.Manifest,
	}
	raw, intentHash, err := coreapi.EncodeIntent(intent)
	if err != nil {
		return nil, err
	}
	return &BuildResponse{
		LedgerState:         state,
		Intent:              raw,
		IntentHash:          intentHash,
		StartEpochInclusive: intent.StartEpochInclusive,
		EndEpochExclusive:   intent.EndEpochExclusive,
	}, nil
}

// FinalizeRequest attaches signatures to a built intent.
type FinalizeRequest struct {
	Intent          hexutil.Bytes   `json:"intent"`
	Signatures      []hexutil.Bytes `json:"signatures"`
	NotarySignature hexutil.Bytes   `json:"notary_signature"`
	// Submit sends the finalized transaction on.
	Submit bool `json:"submit"`
}

// FinalizeResponse is a notarized transaction.
type FinalizeResponse struct {
	Payload       hexutil.Bytes `json:"payload"`
	TransactionID string        `json:"transaction_id"`
	IntentHash    string        `json:"intent_hash"`
	Submitted     bool          `json:"submitted"`
	Duplicate     bool          `json:"duplicate"`
}

// Finalize notarizes a signed intent, and submits it if asked to.
func (s *Submitter) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResponse, error) {
	signatures := make([][]byte, 0, len(req.Signatures))
	for _, sig := range req.Signatures {
		signatures = append(signatures, sig)
	}
	payload, err := coreapi.Notarize(req.Intent, signatures, req.NotarySignature)
	if err != nil {
		return nil, InvalidTransactionError{Message: err.Error()}
	}
	resp := &FinalizeResponse{Payload: payload}
	if !req.Submit {
		parsed, err := coreapi.ParseNotarized(payload)
		if err != nil {
			return nil, InvalidTransactionError{Message: err.Error()}
		}
		resp.TransactionID = parsed.PayloadHash
		resp.IntentHash = parsed.IntentHash
		return resp, nil
	}

	result, err := s.Submit(ctx, payload)
	if err != nil {
		return nil, err
	}
	resp.TransactionID = result.TransactionID
	resp.IntentHash = result.IntentHash
	resp.Submitted = true
	resp.Duplicate = result.Duplicate
	return resp, nil
}
