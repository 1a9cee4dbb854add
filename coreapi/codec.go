package coreapi

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Intent is the signed part of a transaction. Its hash is stable across
// re-signing and re-notarization, so it is the dedup key for submissions.
type Intent struct {
	Network             string
	StartEpochInclusive uint64
	EndEpochExclusive   uint64
	Nonce               uint64
	// Manifest is opaque to the gateway.
	Manifest []byte
}

// notarized is the wire envelope of a submittable transaction.
type notarized struct {
	Intent          []byte
	Signatures      [][]byte
	NotarySignature []byte
}

// ErrMalformedTransaction is returned when a payload cannot be decoded.
var ErrMalformedTransaction = errors.New("malformed transaction payload")

// EncodeIntent returns the canonical encoding of the intent and its hash.
func EncodeIntent(intent Intent) ([]byte, string, error) {
	if intent.EndEpochExclusive <= intent.StartEpochInclusive {
		return nil, "", fmt.Errorf("%w: empty epoch window [%d, %d)", ErrMalformedTransaction, intent.StartEpochInclusive, intent.EndEpochExclusive)
	}
	raw, err := rlp.EncodeToBytes(&intent)
	if err != nil {
		return nil, "", err
	}
	return raw, crypto.Keccak256Hash(raw).Hex(), nil
}

// Notarize wraps an encoded intent with its signatures into a submittable
// payload.
func Notarize(intent []byte, signatures [][]byte, notarySignature []byte) ([]byte, error) {
	if len(notarySignature) == 0 {
		return nil, fmt.Errorf("%w: missing notary signature", ErrMalformedTransaction)
	}
	if _, err := decodeIntent(intent); err != nil {
		return nil, err
	}
	if signatures == nil {
		signatures = [][]byte{}
	}
	return rlp.EncodeToBytes(&notarized{
		Intent:          intent,
		Signatures:      signatures,
		NotarySignature: notarySignature,
	})
}

// ParseNotarized decodes a notarized payload locally and derives its
// canonical identifiers. It does not verify signatures.
func ParseNotarized(payload []byte) (*ParsedTransaction, error) {
	var n notarized
	if err := rlp.DecodeBytes(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedTransaction, err)
	}
	if len(n.NotarySignature) == 0 {
		return nil, fmt.Errorf("%w: missing notary signature", ErrMalformedTransaction)
	}
	intent, err := decodeIntent(n.Intent)
	if err != nil {
		return nil, err
	}
	return &ParsedTransaction{
		PayloadHash: crypto.Keccak256Hash(payload).Hex(),
		IntentHash:  crypto.Keccak256Hash(n.Intent).Hex(),
		Intent:      intent,
	}, nil
}

func decodeIntent(raw []byte) (*Intent, error) {
	var intent Intent
	if err := rlp.DecodeBytes(raw, &intent); err != nil {
		return nil, fmt.Errorf("%w: bad intent: %s", ErrMalformedTransaction, err)
	}
	if intent.EndEpochExclusive <= intent.StartEpochInclusive {
		return nil, fmt.Errorf("%w: empty epoch window [%d, %d)", ErrMalformedTransaction, intent.StartEpochInclusive, intent.EndEpochExclusive)
	}
	return &intent, nil
}
