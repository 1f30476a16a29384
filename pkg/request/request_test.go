package request_test

import (
	"bytes"
	"testing"

	"github.com/jmerrifield20/NexusLedger/pkg/request"
)

type fixedSigner struct{ sig []byte }

func (s fixedSigner) Sign(data []byte) ([]byte, error) {
	return append([]byte{}, s.sig...), nil
}

var alice = request.Identity{EntityID: "alice", KeyVersion: 1}

func TestArgument_roundTrip(t *testing.T) {
	s := request.FormatArgument("n-1", []string{"f1", "f2"}, `{"v":1}`)

	arg, err := request.ParseArgument(s)
	if err != nil {
		t.Fatal(err)
	}
	if arg.Nonce != "n-1" {
		t.Errorf("Nonce: got %q", arg.Nonce)
	}
	if len(arg.FunctionIDs) != 2 || arg.FunctionIDs[1] != "f2" {
		t.Errorf("FunctionIDs: got %v", arg.FunctionIDs)
	}
	if arg.Raw != `{"v":1}` {
		t.Errorf("Raw: got %q", arg.Raw)
	}
	if arg.Legacy {
		t.Error("envelope argument reported as legacy")
	}
}

func TestArgument_noFunctions(t *testing.T) {
	arg, err := request.ParseArgument(request.FormatArgument("n", nil, "x"))
	if err != nil {
		t.Fatal(err)
	}
	if arg.FunctionIDs != nil {
		t.Errorf("expected no function ids, got %v", arg.FunctionIDs)
	}
}

func TestArgument_legacy(t *testing.T) {
	arg, err := request.ParseArgument(`{"nonce":"abc","amount":3}`)
	if err != nil {
		t.Fatal(err)
	}
	if !arg.Legacy || arg.Nonce != "abc" {
		t.Errorf("legacy parse: got %+v", arg)
	}

	if _, err := request.ParseArgument("not json"); err == nil {
		t.Error("expected error for garbage argument")
	}
}

func TestContractExecution_signingBytesOrderSensitive(t *testing.T) {
	a := request.ExecutionSigningBytes("c1", "arg", "alice", 1)
	b := request.ExecutionSigningBytes("c1", "arg", "alice", 2)
	if bytes.Equal(a, b) {
		t.Error("key version must change the signing bytes")
	}

	req, err := request.NewContractExecution("n", alice, "c1", "arg", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	want := request.ExecutionSigningBytes("c1", req.Argument, "alice", 1)
	if !bytes.Equal(req.SigningBytes(), want) {
		t.Error("SigningBytes differs from ExecutionSigningBytes")
	}
}

func TestContractExecution_signAndValidate(t *testing.T) {
	req, err := request.NewContractExecution("n", alice, "c1", `{}`, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := req.Validate(); err == nil {
		t.Error("expected validation error before signing")
	}
	if err := req.Sign(fixedSigner{sig: []byte{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate() after signing: %v", err)
	}
}

func TestNewContractExecution_requiresNonce(t *testing.T) {
	if _, err := request.NewContractExecution("", alice, "c1", "", nil, ""); err == nil {
		t.Error("expected error for empty nonce")
	}
	if _, err := request.NewContractExecution("n", request.Identity{EntityID: "x"}, "c1", "", nil, ""); err == nil {
		t.Error("expected error for zero key version")
	}
}

func TestLedgerValidation_rangeCheck(t *testing.T) {
	req := request.NewLedgerValidation("a1", alice)
	req.StartAge, req.EndAge = 5, 2
	req.Signature = []byte{1}
	if err := req.Validate(); err == nil {
		t.Error("expected error for inverted age range")
	}
}
