package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/NexusLedger/pkg/client"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

func timeoutCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
}

func readPayload(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return b, nil
}

// ── contracts and functions ─────────────────────────────────────────────────

var (
	contractPayload    string
	contractProperties string
	functionPayload    string
)

var registerContractCmd = &cobra.Command{
	Use:   "register-contract <contract-id> <binary-name>",
	Short: "Register a contract owned by --entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(contractPayload)
		if err != nil {
			return err
		}
		c, err := newClient(true)
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		if err := c.RegisterContract(ctx, args[0], args[1], payload, contractProperties); err != nil {
			return err
		}
		fmt.Printf("contract %s registered\n", args[0])
		return nil
	},
}

var registerFunctionCmd = &cobra.Command{
	Use:   "register-function <function-id> <binary-name>",
	Short: "Register a function",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(functionPayload)
		if err != nil {
			return err
		}
		c, err := newClient(false)
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		if err := c.RegisterFunction(ctx, args[0], args[1], payload); err != nil {
			return err
		}
		fmt.Printf("function %s registered\n", args[0])
		return nil
	},
}

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "List registered contracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(false)
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		list, err := c.ListContracts(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONTRACT\tBINARY\tOWNER\tKEY VERSION")
		for _, e := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", e.ContractID, e.BinaryName, e.EntityID, e.KeyVersion)
		}
		return w.Flush()
	},
}

func init() {
	registerContractCmd.Flags().StringVar(&contractPayload, "payload", "", "file holding the contract payload")
	registerContractCmd.Flags().StringVar(&contractProperties, "properties", "", "contract properties (JSON)")
	registerFunctionCmd.Flags().StringVar(&functionPayload, "payload", "", "file holding the function payload")
}

// ── execution ────────────────────────────────────────────────────────────────

var (
	execFunctions   []string
	execFunctionArg string
	execNonce       string
	execRetries     int
)

var executeCmd = &cobra.Command{
	Use:   "execute <contract-id> <argument>",
	Short: "Execute a contract",
	Long: `execute signs and submits a contract execution. A fresh nonce is
generated unless --nonce is given. Executions that lose a write conflict
are retried --retries times.

  ledgerctl execute transfer '{"from":"a","to":"b","amount":10}'
  ledgerctl execute put '{"asset_id":"a","data":{"n":1}}' --function audit --function-arg '{"key":"k1"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(true, client.WithRetries(execRetries, 50*time.Millisecond))
		if err != nil {
			return err
		}
		var opts []client.ExecuteOption
		if execNonce != "" {
			opts = append(opts, client.WithNonce(execNonce))
		}
		if len(execFunctions) > 0 {
			opts = append(opts, client.WithFunctions(execFunctionArg, execFunctions...))
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		res, err := c.Execute(ctx, args[0], args[1], opts...)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	executeCmd.Flags().StringSliceVar(&execFunctions, "function", nil, "function id to run in the same transaction (repeatable)")
	executeCmd.Flags().StringVar(&execFunctionArg, "function-arg", "", "argument passed to the functions")
	executeCmd.Flags().StringVar(&execNonce, "nonce", "", "request nonce (default: random UUID)")
	executeCmd.Flags().IntVar(&execRetries, "retries", 3, "retries on conflict")
}

// ── validation ───────────────────────────────────────────────────────────────

var (
	validateStart uint32
	validateEnd   uint32
)

var validateCmd = &cobra.Command{
	Use:   "validate <asset-id>",
	Short: "Replay and verify the history of an asset",
	Long: `validate replays the asset's history on the server and prints the
result. The command exits non-zero when tampering is found.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(true)
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		res, err := c.Validate(ctx, args[0], validateStart, validateEnd)
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.OK() {
			return status.New(res.Code, "asset %s failed validation at age %d", res.AssetID, res.Age)
		}
		return nil
	},
}

var validateBatchCmd = &cobra.Command{
	Use:   "validate-batch <asset-id>...",
	Short: "Validate the full history of many assets (operator)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(false)
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		results, err := c.ValidateBatch(ctx, args)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ASSET\tSTATUS\tAGE\tMESSAGE")
		failed := 0
		for _, r := range results {
			if !r.OK() {
				failed++
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.AssetID, r.Status, r.Age, r.Message)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d assets failed validation", failed, len(results))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().Uint32Var(&validateStart, "start", 0, "first age to validate")
	validateCmd.Flags().Uint32Var(&validateEnd, "end", request.AgeUnbounded, "last age to validate (default: latest)")
}

var proofCmd = &cobra.Command{
	Use:   "proof <asset-id> <age>",
	Short: "Fetch the signed proof of one asset version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		age, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("age: %w", err)
		}
		c, err := newClient(true)
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		p, err := c.RetrieveProof(ctx, args[0], uint32(age))
		if err != nil {
			return err
		}
		return printJSON(p)
	},
}
