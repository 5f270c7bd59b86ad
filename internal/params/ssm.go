package params

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/faststack-io/faststack/internal/logging"
)

// ssmAPI is the slice of the SSM client the bridge uses.
type ssmAPI interface {
	PutParameter(ctx context.Context, in *ssm.PutParameterInput, opts ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, opts ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSM is the Parameter Store-backed Bridge. Secrets are written as
// SecureString so read access is restricted by key policy; plain values as
// String. Writes always overwrite (last write wins, by design).
type SSM struct {
	client ssmAPI
}

// NewSSM wraps an SSM client as a Bridge.
func NewSSM(client *ssm.Client) *SSM {
	return &SSM{client: client}
}

func (s *SSM) put(ctx context.Context, key, value, writer string, paramType types.ParameterType) error {
	overwrite := true
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      &key,
		Value:     &value,
		Type:      paramType,
		Overwrite: &overwrite,
	})
	if err != nil {
		return fmt.Errorf("failed to put parameter %s: %w", key, err)
	}
	// Secret values never reach the log; the key and writer are enough.
	logging.Debug("parameter written", "key", key, "writer", writer, "secure", paramType == types.ParameterTypeSecureString)
	return nil
}

func (s *SSM) Put(ctx context.Context, key, value, writer string) error {
	return s.put(ctx, key, value, writer, types.ParameterTypeString)
}

func (s *SSM) PutSecret(ctx context.Context, key, value, writer string) error {
	return s.put(ctx, key, value, writer, types.ParameterTypeSecureString)
}

func (s *SSM) get(ctx context.Context, key string, decrypt bool) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &key,
		WithDecryption: &decrypt,
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", &NotFoundError{Key: key}
		}
		return "", fmt.Errorf("failed to get parameter %s: %w", key, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", &NotFoundError{Key: key}
	}
	return *out.Parameter.Value, nil
}

func (s *SSM) Get(ctx context.Context, key string) (string, error) {
	return s.get(ctx, key, false)
}

func (s *SSM) GetSecret(ctx context.Context, key string) (string, error) {
	return s.get(ctx, key, true)
}
