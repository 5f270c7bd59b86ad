// Package state persists the record of the last deployment run. The record
// is what destroy and outputs read: which nodes applied, their outputs, and
// the deployment summary. It intentionally stores no secret values; secrets
// live in the parameter store's restricted-read path only.
package state

import (
	"time"

	"github.com/faststack-io/faststack/internal/ir"
)

// Record is the persisted outcome of the most recent run for a stack.
type Record struct {
	Stack   string        `json:"stack"`
	Report  *ir.RunReport `json:"report"`
	SavedAt time.Time     `json:"saved_at"`
}

// NewRecord captures a finished run.
func NewRecord(stack string, report *ir.RunReport) *Record {
	return &Record{Stack: stack, Report: report, SavedAt: time.Now().UTC()}
}

// RecordedOutputs returns the outputs of every applied node, keyed by node
// id. Destroy uses this to find what exists remotely.
func (r *Record) RecordedOutputs() map[string]ir.Outputs {
	if r == nil || r.Report == nil {
		return nil
	}
	out := make(map[string]ir.Outputs)
	for _, res := range r.Report.Results {
		if res.Status == ir.StatusApplied {
			out[res.ID] = res.Outputs
		}
	}
	return out
}
