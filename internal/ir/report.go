package ir

import "time"

// NodeStatus is the terminal disposition of one node in a run.
type NodeStatus string

const (
	StatusApplied NodeStatus = "applied"
	StatusFailed  NodeStatus = "failed"
	StatusSkipped NodeStatus = "skipped"
)

// NodeResult records how a single node ended the run. Error holds the raw
// underlying failure text for failed nodes, verbatim.
type NodeResult struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	Status     NodeStatus    `json:"status"`
	Outputs    Outputs       `json:"outputs,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}

// RunReport is the full accounting of a deployment run. Every planned node
// appears exactly once, in plan order, as applied, failed, or skipped.
type RunReport struct {
	Env       string                 `json:"env"`
	Pattern   string                 `json:"pattern"`
	StartedAt time.Time              `json:"started_at"`
	Results   []*NodeResult          `json:"results"`
	Outputs   DeploymentOutputs      `json:"outputs"`
	ByID      map[string]*NodeResult `json:"-"`
}

// Result returns the recorded result for a node id, or nil.
func (r *RunReport) Result(id string) *NodeResult {
	if r.ByID != nil {
		return r.ByID[id]
	}
	for _, res := range r.Results {
		if res.ID == id {
			return res
		}
	}
	return nil
}

// Applied reports whether every node in the run applied successfully.
func (r *RunReport) Applied() bool {
	for _, res := range r.Results {
		if res.Status != StatusApplied {
			return false
		}
	}
	return true
}

// DeploymentOutputs are the cross-cutting values a completed deployment
// exposes to the frontend deployment step and operational test scripts.
type DeploymentOutputs struct {
	IdentityDomain string `json:"identity_domain,omitempty"`
	UserPoolID     string `json:"user_pool_id,omitempty"`
	RuntimeARN     string `json:"runtime_arn,omitempty"`
	GatewayURL     string `json:"gateway_url,omitempty"`
	ApiEndpoint    string `json:"api_endpoint,omitempty"`
	FrontendURL    string `json:"frontend_url,omitempty"`
	TableName      string `json:"table_name,omitempty"`
	BucketName     string `json:"bucket_name,omitempty"`
	ImageURI       string `json:"image_uri,omitempty"`
}
