package contract

import (
	"context"
	"strconv"

	"github.com/jmerrifield20/NexusLedger/internal/ledger"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// MaxCallDepth bounds nested sub-calls.
const MaxCallDepth = 16

// Contract is deterministic logic over a typed ledger view. Given the same
// ledger state, argument and properties it must produce the same writes
// and the same result: validation replays it and compares.
//
// Implementations are shared by concurrent requests and must not keep
// per-call state.
type Contract[T any] interface {
	Invoke(ctx context.Context, env *Env[T], argument T) (T, error)
}

// Func adapts a function to Contract.
type Func[T any] func(ctx context.Context, env *Env[T], argument T) (T, error)

// Invoke implements Contract.
func (f Func[T]) Invoke(ctx context.Context, env *Env[T], argument T) (T, error) {
	return f(ctx, env, argument)
}

// Env is what a running contract sees.
type Env[T any] struct {
	Ledger     *Ledger[T]
	Properties T
	// ContractID is the id of the contract being run.
	ContractID string

	codec Codec[T]
	inv   *invocation
}

// Call runs another registered contract against the same ledger view. Its
// writes join the caller's. The callee's registration signature is not
// checked again.
func (e *Env[T]) Call(ctx context.Context, contractID string, argument T) (T, error) {
	var zero T
	arg, err := e.codec.Encode(argument)
	if err != nil {
		return zero, status.Wrap(status.InvalidRequest, err, "encode argument for %q", contractID)
	}
	out, err := e.inv.call(ctx, contractID, arg)
	if err != nil {
		return zero, err
	}
	res, err := e.codec.Decode(out)
	if err != nil {
		return zero, status.Wrap(status.RuntimeError, err, "decode result of %q", contractID)
	}
	return res, nil
}

// Encoding names the value encoding a contract is written against.
type Encoding int

const (
	EncodingObject Encoding = iota + 1
	EncodingDocument
	EncodingString
	// EncodingLegacy is the object encoding of contracts that expect the
	// request nonce inside their argument object.
	EncodingLegacy
)

func (e Encoding) String() string {
	switch e {
	case EncodingObject:
		return "object"
	case EncodingDocument:
		return "document"
	case EncodingString:
		return "string"
	case EncodingLegacy:
		return "legacy"
	default:
		return "encoding(" + strconv.Itoa(int(e)) + ")"
	}
}

// Binding is a contract together with its encoding, with the value type
// erased so contracts of every encoding share one execution path.
type Binding struct {
	encoding Encoding
	run      func(ctx context.Context, inv *invocation, argument, properties []byte) ([]byte, error)
}

// Encoding returns the encoding the contract was bound with.
func (b Binding) Encoding() Encoding { return b.encoding }

// BindObject binds an object encoded contract.
func BindObject(c Contract[Object]) Binding { return bind(EncodingObject, Codec[Object](ObjectCodec{}), c) }

// BindDocument binds a document encoded contract.
func BindDocument(c Contract[Document]) Binding {
	return bind(EncodingDocument, Codec[Document](DocumentCodec{}), c)
}

// BindString binds a string encoded contract.
func BindString(c Contract[string]) Binding { return bind(EncodingString, Codec[string](StringCodec{}), c) }

// BindLegacy binds an object encoded contract that reads the nonce from
// its argument.
//
// Deprecated: write new contracts against BindObject.
func BindLegacy(c Contract[Object]) Binding { return bind(EncodingLegacy, Codec[Object](ObjectCodec{}), c) }

func bind[T any](enc Encoding, codec Codec[T], c Contract[T]) Binding {
	return Binding{
		encoding: enc,
		run: func(ctx context.Context, inv *invocation, argument, properties []byte) ([]byte, error) {
			arg, err := codec.Decode(argument)
			if err != nil {
				return nil, status.Wrap(status.InvalidRequest, err, "contract %q argument", inv.contractID)
			}
			props, err := codec.Decode(properties)
			if err != nil {
				return nil, status.Wrap(status.InvalidRequest, err, "contract %q properties", inv.contractID)
			}
			env := &Env[T]{
				Ledger:     NewLedger(inv.view, codec),
				Properties: props,
				ContractID: inv.contractID,
				codec:      codec,
				inv:        inv,
			}
			out, err := c.Invoke(ctx, env, arg)
			if err != nil {
				return nil, err
			}
			b, err := codec.Encode(out)
			if err != nil {
				return nil, status.Wrap(status.RuntimeError, err, "contract %q result", inv.contractID)
			}
			return b, nil
		},
	}
}

// invocation is one frame of a call tree.
type invocation struct {
	contractID string
	view       ledger.View
	resolve    func(ctx context.Context, id string) (*Instance, error)
	depth      int
}

func (inv *invocation) call(ctx context.Context, contractID string, argument []byte) ([]byte, error) {
	if inv.depth+1 >= MaxCallDepth {
		return nil, status.New(status.RuntimeError, "contract call depth exceeds %d", MaxCallDepth)
	}
	callee, err := inv.resolve(ctx, contractID)
	if err != nil {
		return nil, err
	}
	child := &invocation{
		contractID: contractID,
		view:       inv.view,
		resolve:    inv.resolve,
		depth:      inv.depth + 1,
	}
	return callee.binding.run(ctx, child, argument, []byte(callee.entry.Properties))
}
