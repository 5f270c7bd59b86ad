package aws

import (
	"errors"

	"github.com/aws/smithy-go"
)

// alreadyExistsCodes are the per-service "it's already there" error codes the
// lifecycles treat as success when re-running a create.
var alreadyExistsCodes = map[string]bool{
	"ResourceExistsException":            true,
	"EntityAlreadyExists":                true,
	"RepositoryAlreadyExistsException":   true,
	"ResourceInUseException":             true,
	"ConflictException":                  true,
	"BucketAlreadyOwnedByYou":            true,
	"ResourceConflictException":          true,
	"DistributionAlreadyExists":          true,
	"TableAlreadyExistsException":        true,
}

func isAlreadyExists(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && alreadyExistsCodes[apiErr.ErrorCode()]
}

var notFoundCodes = map[string]bool{
	"ResourceNotFoundException":   true,
	"RepositoryNotFoundException": true,
	"NoSuchEntity":                true,
	"NoSuchBucket":                true,
	"NoSuchDistribution":          true,
	"NotFoundException":           true,
	"ParameterNotFound":           true,
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()]
}
