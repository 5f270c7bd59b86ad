package params

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	params map[string]struct {
		value  string
		secure bool
	}
	lastPut *ssm.PutParameterInput
}

func newFakeSSM() *fakeSSM {
	return &fakeSSM{params: make(map[string]struct {
		value  string
		secure bool
	})}
}

func (f *fakeSSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.lastPut = in
	f.params[*in.Name] = struct {
		value  string
		secure bool
	}{*in.Value, in.Type == types.ParameterTypeSecureString}
	return &ssm.PutParameterOutput{}, nil
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	p, ok := f.params[*in.Name]
	if !ok {
		return nil, &types.ParameterNotFound{}
	}
	value := p.value
	if p.secure && (in.WithDecryption == nil || !*in.WithDecryption) {
		// The real store returns the ciphertext here; either way the caller
		// must ask for decryption to get the plaintext.
		value = "AQICencrypted=="
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: &value}}, nil
}

func TestSSM_PlainParameter(t *testing.T) {
	fake := newFakeSSM()
	bridge := &SSM{client: fake}
	ctx := context.Background()

	require.NoError(t, bridge.Put(ctx, "/demo/a", "v1", "node-a"))
	assert.Equal(t, types.ParameterTypeString, fake.lastPut.Type)
	require.NotNil(t, fake.lastPut.Overwrite)
	assert.True(t, *fake.lastPut.Overwrite)

	got, err := bridge.Get(ctx, "/demo/a")
	require.NoError(t, err)
	assert.Equal(t, "v1", got)
}

func TestSSM_SecretWrittenSecure(t *testing.T) {
	fake := newFakeSSM()
	bridge := &SSM{client: fake}
	ctx := context.Background()

	require.NoError(t, bridge.PutSecret(ctx, "/demo/secret", "hunter2", "node-a"))
	assert.Equal(t, types.ParameterTypeSecureString, fake.lastPut.Type)

	got, err := bridge.GetSecret(ctx, "/demo/secret")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	// A plain read never yields the plaintext.
	plain, err := bridge.Get(ctx, "/demo/secret")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", plain)
}

func TestSSM_MissingKeyMapsToNotFound(t *testing.T) {
	bridge := &SSM{client: newFakeSSM()}

	_, err := bridge.Get(context.Background(), "/demo/missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "/demo/missing", nf.Key)
}
