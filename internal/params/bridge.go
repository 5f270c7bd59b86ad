package params

import (
	"context"
	"fmt"
	"strings"
)

// Bridge is the process-wide parameter store used to pass values produced by
// one resource into another, including across independently-deployed stacks.
// The store outlives any single run: values are overwritten on redeploy and
// never deleted automatically. Concurrent writers to the same key are not
// coordinated; last write wins.
type Bridge interface {
	// Put stores a plain-string value. writer is the node id that produced it.
	Put(ctx context.Context, key, value, writer string) error
	// PutSecret stores a secret-typed value under the restricted-read path.
	PutSecret(ctx context.Context, key, value, writer string) error
	// Get returns the value for key, or *NotFoundError.
	Get(ctx context.Context, key string) (string, error)
	// GetSecret returns a secret-typed value for key, or *NotFoundError.
	GetSecret(ctx context.Context, key string) (string, error)
}

// NotFoundError reports a key with no value in the store.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("parameter not found: %s", e.Key)
}

// Key builds a hierarchical store path scoped by environment name, e.g.
// Key("demo", "agent", "runtime_arn") -> "/demo/agent/runtime_arn".
func Key(env string, parts ...string) string {
	elems := append([]string{"", env}, parts...)
	return strings.Join(elems, "/")
}
