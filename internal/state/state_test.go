package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faststack-io/faststack/internal/ir"
)

func sampleRecord() *Record {
	return NewRecord("demo", &ir.RunReport{
		Env:     "demo",
		Pattern: "basic",
		Results: []*ir.NodeResult{
			{ID: "identity", Kind: ir.KindIdentity, Status: ir.StatusApplied, Outputs: ir.Outputs{"user_pool_id": "pool-1"}},
			{ID: "build", Kind: ir.KindBuildJob, Status: ir.StatusFailed, Error: "build exceeded 15m0s"},
			{ID: "runtime", Kind: ir.KindRuntime, Status: ir.StatusSkipped},
		},
		Outputs: ir.DeploymentOutputs{UserPoolID: "pool-1"},
	})
}

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	return NewLocal(filepath.Join(t.TempDir(), ".faststack", "run.json"))
}

func TestLocal_RoundTrip(t *testing.T) {
	backend := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, backend.Write(ctx, sampleRecord()))

	got, err := backend.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "demo", got.Stack)
	require.NotNil(t, got.Report)
	assert.Len(t, got.Report.Results, 3)
	assert.Equal(t, "pool-1", got.Report.Outputs.UserPoolID)
}

func TestLocal_MissingFileIsNilRecord(t *testing.T) {
	backend := newTestLocal(t)

	got, err := backend.Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocal_LockConflict(t *testing.T) {
	backend := newTestLocal(t)

	require.NoError(t, backend.Lock())
	defer backend.Unlock()

	err := backend.Lock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another deployment is in progress")
}

func TestLocal_StaleLockIsTakenOver(t *testing.T) {
	backend := newTestLocal(t)

	require.NoError(t, backend.Lock())
	lockPath := backend.lockPath()
	stale := time.Now().Add(-15 * time.Minute)
	require.NoError(t, os.Chtimes(lockPath, stale, stale))

	require.NoError(t, backend.Lock())
	require.NoError(t, backend.Unlock())
}

func TestLocal_UnlockWithoutLockIsFine(t *testing.T) {
	backend := newTestLocal(t)
	require.NoError(t, backend.Unlock())
}

func TestLocal_EncryptedRoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "correct horse battery staple")
	backend := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, backend.Write(ctx, sampleRecord()))

	raw, err := os.ReadFile(backend.path)
	require.NoError(t, err)
	assert.True(t, isEncrypted(raw))
	assert.NotContains(t, string(raw), "pool-1", "record must not be readable on disk")

	got, err := backend.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pool-1", got.Report.Outputs.UserPoolID)
}

func TestLocal_EncryptedRecordNeedsKey(t *testing.T) {
	backend := newTestLocal(t)
	ctx := context.Background()

	t.Setenv(EncryptionKeyEnvVar, "the-key")
	require.NoError(t, backend.Write(ctx, sampleRecord()))

	t.Setenv(EncryptionKeyEnvVar, "")
	_, err := backend.Read(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EncryptionKeyEnvVar)
}

func TestLocal_WrongKeyFailsDecryption(t *testing.T) {
	backend := newTestLocal(t)
	ctx := context.Background()

	t.Setenv(EncryptionKeyEnvVar, "the-key")
	require.NoError(t, backend.Write(ctx, sampleRecord()))

	t.Setenv(EncryptionKeyEnvVar, "not-the-key")
	_, err := backend.Read(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decrypt")
}

func TestRecordedOutputs_OnlyAppliedNodes(t *testing.T) {
	rec := sampleRecord()

	outs := rec.RecordedOutputs()
	require.Len(t, outs, 1)
	assert.Equal(t, "pool-1", outs["identity"]["user_pool_id"])
	assert.NotContains(t, outs, "build")
	assert.NotContains(t, outs, "runtime")
}

func TestRecordedOutputs_NilSafe(t *testing.T) {
	var rec *Record
	assert.Nil(t, rec.RecordedOutputs())
	assert.Nil(t, (&Record{}).RecordedOutputs())
}
