package exchange

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

type Kind int

const (
	KindTransient Kind = iota
	KindReverted
	KindUnsellable
)

func (k Kind) String() string {
	switch k {
	case KindReverted:
		return "reverted"
	case KindUnsellable:
		return "unsellable"
	default:
		return "transient"
	}
}

// Error carries a structured failure kind from the trading collaborator.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// executionRevertedCode is the JSON-RPC error code nodes return for EVM reverts.
const executionRevertedCode = 3

// Revert reasons that do not mean the asset is untradeable.
var transientRevertReasons = []string{
	"INSUFFICIENT_OUTPUT_AMOUNT",
	"EXPIRED",
	"Pancake: K",
	"UniswapV2: K",
	"LOCKED",
}

// KindOf classifies err. Structured *Error values win; otherwise go-ethereum
// rpc errors are inspected and the message text is the last resort.
func KindOf(err error) Kind {
	if err == nil {
		return KindTransient
	}
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	if isExecutionRevert(err) {
		if isTransientRevert(RevertReason(err)) || isTransientRevert(err.Error()) {
			return KindTransient
		}
		return KindUnsellable
	}
	return KindTransient
}

// Classify wraps a raw collaborator error into *Error.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var xe *Error
	if errors.As(err, &xe) {
		return err
	}
	return &Error{Kind: KindOf(err), Op: op, Reason: RevertReason(err), Err: err}
}

// RevertReason decodes the Error(string) payload of a revert, if any.
func RevertReason(err error) string {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return ""
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return ""
	}
	data, decErr := hexutil.Decode(raw)
	if decErr != nil {
		return ""
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return ""
	}
	return reason
}

func isExecutionRevert(err error) bool {
	var re rpc.Error
	if errors.As(err, &re) && re.ErrorCode() == executionRevertedCode {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func isTransientRevert(reason string) bool {
	if reason == "" {
		return false
	}
	for _, marker := range transientRevertReasons {
		if strings.Contains(reason, marker) {
			return true
		}
	}
	return false
}

