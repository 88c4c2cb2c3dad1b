package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrTxReverted is returned for a mined transaction whose revert reason is unknown.
	ErrTxReverted = errors.New("transaction reverted")
	// ErrOutcomeUnknown is returned for a broadcast transaction whose receipt was never seen.
	// The returned TxRef carries its hash.
	ErrOutcomeUnknown = errors.New("transaction outcome unknown")
)

// TxStatus is what the chain says about a previously sent transaction.
type TxStatus int

const (
	TxPending TxStatus = iota // no receipt yet
	TxSucceeded
	TxReverted
)

// RevertError is a settlement or token call that reverted with a recognised custom error.
type RevertError struct {
	Network  string
	Method   string
	Reason   string // BadSignature, Expired, InvalidOrder, Overfill, PriceTooLow
	Selector string
	TxHash   string // empty when the revert surfaced during estimation
}

func (e *RevertError) Error() string {
	msg := fmt.Sprintf("%s %s reverted: %s (%s)", e.Network, e.Method, e.Reason, e.Selector)
	if e.TxHash != "" {
		msg += " tx " + e.TxHash
	}
	return msg
}

var revertHints = map[string]string{
	"PriceTooLow":  "prices not mutually compatible at chosen size; check min constraints and the crossing condition",
	"Overfill":     "base amount exceeded on-chain availableToFill; reduce size or requery availability",
	"InvalidOrder": "order may be expired, cancelled, or its nonce invalidated",
	"BadSignature": "signature does not match order digest or domain",
	"Expired":      "order expiration has passed",
}

// Hint is an operator-facing explanation of the revert reason.
func (e *RevertError) Hint() string {
	return revertHints[e.Reason]
}

// revertSelectors maps the 4-byte selector of each settlement custom error to its name.
var revertSelectors = func() map[string]string {
	m := make(map[string]string, len(settlementABI.Errors))
	for name, e := range settlementABI.Errors {
		m[hexutil.Encode(e.ID[:4])] = name
	}
	return m
}()

// DecodeRevertData names the custom error at the head of revert data, if it is known.
func DecodeRevertData(data []byte) (reason, selector string, ok bool) {
	if len(data) < 4 {
		return "", "", false
	}
	selector = hexutil.Encode(data[:4])
	reason, ok = revertSelectors[selector]
	return reason, selector, ok
}

// revertDataOf extracts revert data from an RPC error, if the node attached any.
func revertDataOf(err error) []byte {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil
	}
	switch v := de.ErrorData().(type) {
	case string:
		if b, decErr := hexutil.Decode(strings.TrimSpace(v)); decErr == nil {
			return b
		}
	case []byte:
		return v
	}
	return nil
}

// decodeRevert turns err into a *RevertError when it carries a known selector. Anything else
// is returned unchanged.
func decodeRevert(network, method, txHash string, err error) error {
	if err == nil {
		return nil
	}
	reason, selector, ok := DecodeRevertData(revertDataOf(err))
	if !ok {
		return err
	}
	return &RevertError{Network: network, Method: method, Reason: reason, Selector: selector, TxHash: txHash}
}
