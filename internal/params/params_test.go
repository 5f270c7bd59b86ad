package params

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "/demo/agent/runtime_arn", Key("demo", "agent", "runtime_arn"))
	assert.Equal(t, "/demo/iam/role_arn", Key("demo", "iam/role_arn"))
}

func TestMemory_PutGetRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "/demo/a", "v1", "node-a"))

	got, err := m.Get(ctx, "/demo/a")
	require.NoError(t, err)
	assert.Equal(t, "v1", got)
}

func TestMemory_MissingKey(t *testing.T) {
	m := NewMemory()

	_, err := m.Get(context.Background(), "/demo/missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "/demo/missing", nf.Key)
}

func TestMemory_OverwriteLastWriteWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "/demo/a", "old", "writer-1"))
	m.AdvanceEpoch()
	require.NoError(t, m.Put(ctx, "/demo/a", "new", "writer-2"))

	got, err := m.Get(ctx, "/demo/a")
	require.NoError(t, err)
	assert.Equal(t, "new", got)

	rec, ok := m.Lookup("/demo/a")
	require.True(t, ok)
	assert.Equal(t, "writer-2", rec.Writer)
	assert.Equal(t, 1, rec.Epoch)
}

func TestMemory_SecretNotReadableAsPlain(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.PutSecret(ctx, "/demo/secret", "hunter2", "node-a"))

	// The plain-read path must not return secret-typed values.
	_, err := m.Get(ctx, "/demo/secret")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	got, err := m.GetSecret(ctx, "/demo/secret")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestNotFoundError_Message(t *testing.T) {
	err := &NotFoundError{Key: "/demo/x"}
	assert.Contains(t, err.Error(), "/demo/x")
	assert.True(t, errors.As(error(err), new(*NotFoundError)))
}
