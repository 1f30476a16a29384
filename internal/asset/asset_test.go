package asset_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
)

func mustRecord(t *testing.T, f asset.Fields) *asset.Record {
	t.Helper()
	r, err := asset.NewRecord(f)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// chain builds n consecutive versions of one asset.
func chain(t *testing.T, id string, n int) []*asset.Record {
	t.Helper()
	var out []*asset.Record
	var prev []byte
	for i := 0; i < n; i++ {
		r := mustRecord(t, asset.Fields{
			ID:         id,
			Age:        uint32(i),
			Nonce:      "nonce-" + string(rune('a'+i)),
			Argument:   "arg",
			ContractID: "c1",
			Input:      asset.Input{id: uint32(i)}.Encode(),
			Data:       []byte{byte(i)},
			Signature:  []byte("sig"),
			PrevHash:   prev,
		})
		out = append(out, r)
		prev = r.Hash
	}
	return out
}

func TestNewRecord_requiresIDs(t *testing.T) {
	if _, err := asset.NewRecord(asset.Fields{ContractID: "c1"}); err == nil {
		t.Error("expected error for empty asset id")
	}
	if _, err := asset.NewRecord(asset.Fields{ID: "a"}); err == nil {
		t.Error("expected error for empty contract id")
	}
}

func TestNewRecord_prevHashRules(t *testing.T) {
	if _, err := asset.NewRecord(asset.Fields{ID: "a", ContractID: "c", PrevHash: []byte{1}}); err == nil {
		t.Error("age 0 with prev_hash must be rejected")
	}
	if _, err := asset.NewRecord(asset.Fields{ID: "a", ContractID: "c", Age: 1}); err == nil {
		t.Error("age 1 without prev_hash must be rejected")
	}
}

func TestComputeHash_coversEveryField(t *testing.T) {
	base := mustRecord(t, asset.Fields{ID: "a", ContractID: "c", Data: []byte("x"), Argument: "arg"})

	mutations := map[string]func(r *asset.Record){
		"id":        func(r *asset.Record) { r.ID = "b" },
		"age":       func(r *asset.Record) { r.Age = 7 },
		"input":     func(r *asset.Record) { r.Input = []byte("{}") },
		"data":      func(r *asset.Record) { r.Data = []byte("y") },
		"contract":  func(r *asset.Record) { r.ContractID = "d" },
		"argument":  func(r *asset.Record) { r.Argument = "other" },
		"signature": func(r *asset.Record) { r.Signature = []byte{9} },
		"prev_hash": func(r *asset.Record) { r.PrevHash = []byte{9} },
	}
	for name, mutate := range mutations {
		r := *base
		mutate(&r)
		if bytes.Equal(asset.ComputeHash(&r), base.Hash) {
			t.Errorf("changing %s did not change the hash", name)
		}
	}
}

func TestComputeHash_nonceNotHashed(t *testing.T) {
	r := mustRecord(t, asset.Fields{ID: "a", ContractID: "c", Nonce: "n1"})
	other := *r
	other.Nonce = "n2"
	if !bytes.Equal(asset.ComputeHash(&other), r.Hash) {
		t.Error("nonce is carried in the argument and must not be hashed separately")
	}
}

func TestComputeHashWithOutput(t *testing.T) {
	r := mustRecord(t, asset.Fields{ID: "a", ContractID: "c", Data: []byte("x")})
	if !bytes.Equal(asset.ComputeHashWithOutput(r, []byte("x")), r.Hash) {
		t.Error("same output must give the stored hash")
	}
	if bytes.Equal(asset.ComputeHashWithOutput(r, []byte("y")), r.Hash) {
		t.Error("different output must change the hash")
	}
}

func TestValidateChain(t *testing.T) {
	recs := chain(t, "a", 3)

	if !asset.ValidateChain(recs[0], nil) {
		t.Error("genesis version should validate with no expected prev hash")
	}
	if !asset.ValidateChain(recs[2], recs[1].Hash) {
		t.Error("age 2 should link to age 1")
	}
	if asset.ValidateChain(recs[2], recs[0].Hash) {
		t.Error("age 2 must not link to age 0")
	}

	tampered := *recs[1]
	tampered.Data = []byte("tampered")
	if asset.ValidateChain(&tampered, recs[0].Hash) {
		t.Error("tampered data must fail hash validation")
	}
}

func TestInput_encodeIsCanonical(t *testing.T) {
	in := asset.Input{"b": 2, "a": 1}
	want := `{"a":{"age":1},"b":{"age":2}}`
	if got := string(in.Encode()); got != want {
		t.Errorf("Encode(): got %s, want %s", got, want)
	}

	back, err := asset.DecodeInput(in.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if back["a"] != 1 || back["b"] != 2 || len(back) != 2 {
		t.Errorf("DecodeInput(): got %v", back)
	}
	if ids := back.IDs(); ids[0] != "a" || ids[1] != "b" {
		t.Errorf("IDs(): got %v", ids)
	}
}

func TestDecodeInput_empty(t *testing.T) {
	in, err := asset.DecodeInput(nil)
	if err != nil || len(in) != 0 {
		t.Errorf("DecodeInput(nil): got %v, %v", in, err)
	}
	if _, err := asset.DecodeInput([]byte("[")); err == nil {
		t.Error("expected error for malformed input")
	}
}

type hmacVerifier struct{ key []byte }

func (v hmacVerifier) sign(data []byte) []byte {
	m := hmac.New(sha256.New, v.key)
	m.Write(data)
	return m.Sum(nil)
}

func (v hmacVerifier) Verify(data, sig []byte) error {
	if !hmac.Equal(v.sign(data), sig) {
		return errors.New("bad signature")
	}
	return nil
}

func TestProof_signAndVerify(t *testing.T) {
	recs := chain(t, "a", 2)
	v := hmacVerifier{key: []byte("k")}

	p := asset.NewProof("default", recs[1])
	if err := p.Verify(v); err == nil {
		t.Error("unsigned proof must not verify")
	}
	p.Signature = v.sign(p.SigningBytes())
	if err := p.Verify(v); err != nil {
		t.Errorf("Verify(): %v", err)
	}
	if !p.Matches(recs[1]) || p.Matches(recs[0]) {
		t.Error("Matches() disagrees with the record it was built from")
	}

	p.Namespace = "other"
	if err := p.Verify(v); err == nil {
		t.Error("namespace change must invalidate the proof signature")
	}
}
