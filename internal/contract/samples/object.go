package samples

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/jmerrifield20/NexusLedger/internal/contract"
)

func assetID(arg contract.Object, key string) (string, error) {
	id, _ := arg[key].(string)
	if id == "" {
		return "", contract.Contextualf("%s is required", key)
	}
	return id, nil
}

func number(arg contract.Object, key string) (float64, error) {
	n, ok := arg[key].(float64)
	if !ok {
		return 0, contract.Contextualf("%s must be a number", key)
	}
	return n, nil
}

// put stores argument "data" under "asset_id".
func put(ctx context.Context, env *contract.Env[contract.Object], arg contract.Object) (contract.Object, error) {
	id, err := assetID(arg, "asset_id")
	if err != nil {
		return nil, err
	}
	data, ok := arg["data"].(map[string]any)
	if !ok {
		return nil, contract.Contextualf("data must be an object")
	}
	return nil, env.Ledger.Put(ctx, id, data)
}

// get returns the latest data of "asset_id".
func get(ctx context.Context, env *contract.Env[contract.Object], arg contract.Object) (contract.Object, error) {
	id, err := assetID(arg, "asset_id")
	if err != nil {
		return nil, err
	}
	a, err := env.Ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, contract.Contextualf("asset %q does not exist", id)
	}
	return contract.Object{"asset_id": a.ID, "age": a.Age, "data": a.Data}, nil
}

// double stores twice the current "v" of the asset, or twice argument "v"
// for a new asset.
func double(ctx context.Context, env *contract.Env[contract.Object], arg contract.Object) (contract.Object, error) {
	id, err := assetID(arg, "asset_id")
	if err != nil {
		return nil, err
	}
	a, err := env.Ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var v float64
	if a == nil {
		v, err = number(arg, "v")
	} else {
		v, err = number(a.Data, "v")
	}
	if err != nil {
		return nil, err
	}
	v *= 2
	if err := env.Ledger.Put(ctx, id, contract.Object{"v": v}); err != nil {
		return nil, err
	}
	return contract.Object{"asset_id": id, "v": v}, nil
}

// createAccount opens an account asset with an initial balance.
func createAccount(ctx context.Context, env *contract.Env[contract.Object], arg contract.Object) (contract.Object, error) {
	id, err := assetID(arg, "asset_id")
	if err != nil {
		return nil, err
	}
	balance, err := number(arg, "balance")
	if err != nil {
		return nil, err
	}
	if balance < 0 {
		return nil, contract.Contextualf("balance must not be negative")
	}
	a, err := env.Ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a != nil {
		return nil, contract.Contextualf("account %q already exists", id)
	}
	return nil, env.Ledger.Put(ctx, id, contract.Object{"balance": balance})
}

type transferLimits struct {
	MaxAmount float64 `json:"max_amount"`
}

// newTransfer builds the transfer contract. The payload may set
// {"max_amount": n}.
func newTransfer(payload []byte) (contract.Binding, error) {
	var limits transferLimits
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &limits); err != nil {
			return contract.Binding{}, fmt.Errorf("transfer payload: %w", err)
		}
		if limits.MaxAmount < 0 {
			return contract.Binding{}, fmt.Errorf("transfer payload: negative max_amount")
		}
	}
	return contract.BindObject(contract.Func[contract.Object](limits.transfer)), nil
}

// transfer moves "amount" from the "from" account to the "to" account.
func (l transferLimits) transfer(ctx context.Context, env *contract.Env[contract.Object], arg contract.Object) (contract.Object, error) {
	from, err := assetID(arg, "from")
	if err != nil {
		return nil, err
	}
	to, err := assetID(arg, "to")
	if err != nil {
		return nil, err
	}
	amount, err := number(arg, "amount")
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, contract.Contextualf("amount must be positive")
	}
	if l.MaxAmount > 0 && amount > l.MaxAmount {
		return nil, contract.Contextualf("amount %v exceeds the limit of %v", amount, l.MaxAmount)
	}
	if from == to {
		return nil, contract.Contextualf("cannot transfer to the same account")
	}

	src, err := env.Ledger.Get(ctx, from)
	if err != nil {
		return nil, err
	}
	dst, err := env.Ledger.Get(ctx, to)
	if err != nil {
		return nil, err
	}
	if src == nil || dst == nil {
		return nil, contract.Contextualf("both accounts must exist")
	}
	srcBal, err := number(src.Data, "balance")
	if err != nil {
		return nil, err
	}
	dstBal, err := number(dst.Data, "balance")
	if err != nil {
		return nil, err
	}
	if srcBal < amount {
		return nil, contract.Contextualf("insufficient balance in %q", from)
	}
	if err := env.Ledger.Put(ctx, from, contract.Object{"balance": srcBal - amount}); err != nil {
		return nil, err
	}
	if err := env.Ledger.Put(ctx, to, contract.Object{"balance": dstBal + amount}); err != nil {
		return nil, err
	}
	return contract.Object{"from": srcBal - amount, "to": dstBal + amount}, nil
}

// payroll pays every entry of "payments" from "from" by calling the
// contract named in the "transfer_contract" property.
func payroll(ctx context.Context, env *contract.Env[contract.Object], arg contract.Object) (contract.Object, error) {
	transferID, _ := env.Properties["transfer_contract"].(string)
	if transferID == "" {
		return nil, contract.Contextualf("transfer_contract property is required")
	}
	from, err := assetID(arg, "from")
	if err != nil {
		return nil, err
	}
	payments, _ := arg["payments"].([]any)
	paid := 0
	for _, p := range payments {
		payment, ok := p.(map[string]any)
		if !ok {
			return nil, contract.Contextualf("payment must be an object")
		}
		_, err := env.Call(ctx, transferID, contract.Object{
			"from":   from,
			"to":     payment["to"],
			"amount": payment["amount"],
		})
		if err != nil {
			return nil, err
		}
		paid++
	}
	return contract.Object{"paid": paid}, nil
}

// legacyPut stores "data" together with the request nonce it finds in its
// argument.
func legacyPut(ctx context.Context, env *contract.Env[contract.Object], arg contract.Object) (contract.Object, error) {
	id, err := assetID(arg, "asset_id")
	if err != nil {
		return nil, err
	}
	nonce, _ := arg["nonce"].(string)
	if nonce == "" {
		return nil, contract.Contextualf("nonce is required")
	}
	return nil, env.Ledger.Put(ctx, id, contract.Object{"data": arg["data"], "nonce": nonce})
}
