package samples

import (
	"context"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/jmerrifield20/NexusLedger/internal/contract"
	"github.com/jmerrifield20/NexusLedger/internal/function"
)

type auditLogConfig struct {
	Table string `json:"table"`
}

type auditArgument struct {
	Key string `json:"key"`
}

// newAuditLog builds a function that copies the contract argument into a
// table row. The payload may name the table: {"table": "audit"}.
func newAuditLog(payload []byte) (function.Function, error) {
	cfg := auditLogConfig{Table: "audit"}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cfg); err != nil {
			return nil, err
		}
	}
	return function.Func(func(ctx context.Context, db *function.Database, fnArg, contractArg, _ string) (string, error) {
		var a auditArgument
		if err := json.Unmarshal([]byte(fnArg), &a); err != nil || a.Key == "" {
			return "", contract.Contextualf(`function argument must be {"key": "..."}`)
		}
		if err := db.Put(cfg.Table, a.Key, []byte(contractArg)); err != nil {
			return "", err
		}
		return cfg.Table + "/" + a.Key, nil
	}), nil
}

// counter increments the row named by the function argument in table
// "counters" and returns the new count.
func counter(ctx context.Context, db *function.Database, fnArg, _, _ string) (string, error) {
	if fnArg == "" {
		return "", contract.Contextualf("counter name is required")
	}
	cur, ok, err := db.Get(ctx, "counters", fnArg)
	if err != nil {
		return "", err
	}
	n := 0
	if ok {
		if n, err = strconv.Atoi(string(cur)); err != nil {
			return "", err
		}
	}
	n++
	if err := db.Put("counters", fnArg, []byte(strconv.Itoa(n))); err != nil {
		return "", err
	}
	return strconv.Itoa(n), nil
}
