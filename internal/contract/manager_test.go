package contract_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/NexusLedger/internal/contract"
	"github.com/jmerrifield20/NexusLedger/internal/contract/samples"
	"github.com/jmerrifield20/NexusLedger/internal/testenv"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

var ctx = context.Background()

func TestRegister(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	alice := env.NewClient(t, "alice")

	entry, err := env.Contracts.Register(ctx, alice.ContractRegistration(t, "put", samples.Put, nil, `{"k":"v"}`))
	require.NoError(t, err)
	assert.Equal(t, "put", entry.ID)
	assert.True(t, entry.OwnedBy("alice", 1))
	assert.False(t, entry.OwnedBy("alice", 2))

	got, err := env.Contracts.Get(ctx, "put")
	require.NoError(t, err)
	assert.Equal(t, entry.SigningBytes(), got.SigningBytes())

	_, err = env.Contracts.Register(ctx, alice.ContractRegistration(t, "put", samples.Get, nil, ""))
	assert.True(t, status.Is(err, status.ContractAlreadyRegistered), "got %v", err)

	list, err := env.Contracts.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, samples.Put, list[0].BinaryName)
}

func TestRegister_rejections(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	alice := env.NewClient(t, "alice")

	_, err := env.Contracts.Register(ctx, alice.ContractRegistration(t, "a", "no.such.binary", nil, ""))
	assert.True(t, status.Is(err, status.UnloadableContract), "unknown binary: %v", err)

	_, err = env.Contracts.Register(ctx, alice.ContractRegistration(t, "b", samples.Transfer, []byte(`{"max_amount":-1}`), ""))
	assert.True(t, status.Is(err, status.UnloadableContract), "bad payload: %v", err)

	req := alice.ContractRegistration(t, "c", samples.Put, nil, "")
	req.Properties = `{"changed":true}`
	_, err = env.Contracts.Register(ctx, req)
	assert.True(t, status.Is(err, status.InvalidSignature), "altered registration: %v", err)

	req = alice.ContractRegistration(t, "d", samples.Put, nil, "")
	req.EntityID = "nobody"
	_, err = env.Contracts.Register(ctx, req)
	assert.True(t, status.Is(err, status.CertificateNotFound), "unknown entity: %v", err)

	_, err = env.Contracts.Get(ctx, "a")
	assert.ErrorIs(t, err, contract.ErrNotFound)
	assert.True(t, status.Is(err, status.ContractNotFound))
}

func TestInstance_catchesTamperedEntry(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	alice := env.NewClient(t, "alice")
	env.RegisterContract(t, alice, "put", samples.Put, nil, "")

	entry, err := env.Contracts.Get(ctx, "put")
	require.NoError(t, err)
	inst, err := env.Contracts.Instance(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, contract.EncodingObject, inst.Encoding())

	entry.BinaryName = samples.Get
	_, err = env.Contracts.Instance(ctx, entry)
	assert.True(t, status.Is(err, status.InvalidContract), "got %v", err)
}

func TestCodecs(t *testing.T) {
	b, err := contract.ObjectCodec{}.Encode(contract.Object{"b": 1, "a": []any{"x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x"],"b":1}`, string(b))

	obj, err := contract.ObjectCodec{}.Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, obj)
	_, err = contract.ObjectCodec{}.Decode([]byte(`[1]`))
	assert.Error(t, err)

	doc, err := contract.DocumentCodec{}.Decode([]byte("{ \"z\": 1,\n \"a\": {\"d\": 2, \"c\": 3} }"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"c":3,"d":2},"z":1}`, string(doc))
	_, err = contract.DocumentCodec{}.Encode(contract.Document("{"))
	assert.Error(t, err)

	s, err := contract.StringCodec{}.Encode("")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestCatalog(t *testing.T) {
	c := contract.NewCatalog()
	b := contract.BindString(contract.Func[string](func(context.Context, *contract.Env[string], string) (string, error) {
		return "", nil
	}))
	require.NoError(t, c.Add("z", contract.Static(b)))
	require.NoError(t, c.Add("a", contract.Static(b)))
	assert.Error(t, c.Add("a", contract.Static(b)))
	assert.Equal(t, []string{"a", "z"}, c.Names())

	f, ok := c.Lookup("z")
	require.True(t, ok)
	got, err := f(nil)
	require.NoError(t, err)
	assert.Equal(t, contract.EncodingString, got.Encoding())
}

func TestContextualError(t *testing.T) {
	err := contract.Contextualf("balance %d too low", 3)
	assert.True(t, contract.IsContextual(err))
	assert.EqualError(t, err, "balance 3 too low")
	assert.False(t, contract.IsContextual(status.New(status.RuntimeError, "x")))
}
