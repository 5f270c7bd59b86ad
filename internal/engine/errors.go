package engine

import (
	"fmt"
	"strings"
)

// CycleError reports that the declared dependency graph is not a DAG.
// Members lists the node ids participating in the cycle.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected in resource graph: %s", strings.Join(e.Members, " -> "))
}

// UnresolvedParameterError reports a declared input whose parameter store key
// has no writer that completed in the current run.
type UnresolvedParameterError struct {
	NodeID string
	Key    string
}

func (e *UnresolvedParameterError) Error() string {
	return fmt.Sprintf("node %s: input parameter %q has no writer in this run", e.NodeID, e.Key)
}

// BuildFailure reports a build job that terminated non-successfully or timed
// out. Reason carries the remote job's failure detail verbatim.
type BuildFailure struct {
	BuildID string
	Status  string
	Reason  string
}

func (e *BuildFailure) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("build %s finished with status %s: %s", e.BuildID, e.Status, e.Reason)
	}
	return fmt.Sprintf("build %s finished with status %s", e.BuildID, e.Status)
}

// AdapterLifecycleError reports a failed Create/Update/Delete call against a
// third-party control plane. Transient failures may be retried with the same
// request; terminal ones must not be.
type AdapterLifecycleError struct {
	ResourceID string
	Op         string
	Transient  bool
	Body       string // remote error body, verbatim
}

func (e *AdapterLifecycleError) Error() string {
	class := "terminal"
	if e.Transient {
		class = "transient"
	}
	return fmt.Sprintf("adapter %s failed for %s (%s): %s", e.Op, e.ResourceID, class, e.Body)
}

// PartialDeploymentError reports a run that stopped before every node
// executed. The embedded report lists exactly which nodes applied, which
// failed, and which were skipped.
type PartialDeploymentError struct {
	FailedID string
	Cause    error
	Applied  []string
	Skipped  []string
}

func (e *PartialDeploymentError) Error() string {
	return fmt.Sprintf("deployment aborted at node %s (%d applied, %d skipped): %v",
		e.FailedID, len(e.Applied), len(e.Skipped), e.Cause)
}

func (e *PartialDeploymentError) Unwrap() error { return e.Cause }
