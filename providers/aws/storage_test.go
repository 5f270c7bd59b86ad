package aws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/params"
)

func TestStorage_BucketNamesPublishedPerNode(t *testing.T) {
	bridge := params.NewMemory()
	p := NewStorage(nil, bridge, "demo")
	ctx := context.Background()

	// Two bucket nodes deploy in the same run, in either order; each name
	// must stay retrievable under its own key.
	_, err := p.publishBucket(ctx, &ir.ResourceNode{ID: "staging-bucket"}, "demo-staging-123456789012")
	require.NoError(t, err)
	_, err = p.publishBucket(ctx, &ir.ResourceNode{ID: "web-bucket"}, "demo-web-123456789012")
	require.NoError(t, err)

	staging, err := bridge.Get(ctx, "/demo/storage/staging-bucket/bucket_name")
	require.NoError(t, err)
	assert.Equal(t, "demo-staging-123456789012", staging)

	web, err := bridge.Get(ctx, "/demo/storage/web-bucket/bucket_name")
	require.NoError(t, err)
	assert.Equal(t, "demo-web-123456789012", web)
}

func TestStorage_TablePublishUsesNodeKey(t *testing.T) {
	bridge := params.NewMemory()
	p := NewStorage(nil, bridge, "demo")
	ctx := context.Background()

	out, err := p.publishTable(ctx, &ir.ResourceNode{ID: "sessions-table"}, "demo-sessions", "arn:aws:dynamodb:us-east-1:1:table/demo-sessions")
	require.NoError(t, err)
	assert.Equal(t, "demo-sessions", out["table_name"])

	got, err := bridge.Get(ctx, "/demo/storage/sessions-table/table_name")
	require.NoError(t, err)
	assert.Equal(t, "demo-sessions", got)

	rec, ok := bridge.Lookup("/demo/storage/sessions-table/table_name")
	require.True(t, ok)
	assert.Equal(t, "sessions-table", rec.Writer)
}
