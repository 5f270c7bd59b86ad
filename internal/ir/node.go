package ir

import (
	"fmt"
	"strings"
)

// Kind identifies which lifecycle implementation materializes a node.
type Kind string

const (
	KindIdentity          Kind = "identity"
	KindMachineCredential Kind = "machine_credential"
	KindRegistry          Kind = "registry"
	KindBuildJob          Kind = "build_job"
	KindRuntime           Kind = "runtime"
	KindStorage           Kind = "storage"
	KindApiRoute          Kind = "api_route"
	KindCDN               Kind = "cdn"
	KindCustomResource    Kind = "custom_resource"
)

// RefSource prefixes. A node:// ref is resolved at plan time against another
// node's produced outputs; param:// and secret:// refs are resolved at apply
// time against the parameter store bridge.
const (
	RefSchemeNode   = "node://"
	RefSchemeParam  = "param://"
	RefSchemeSecret = "secret://"
)

// ParameterRef is a named input of a node. Source is one of:
//
//	node://<node-id>/<output>   output of another node in this run
//	param://<path>              parameter store key (relative to the env prefix)
//	secret://<path>             secret-typed parameter store key
//
// Optional refs resolve to "" instead of failing when no writer has run.
type ParameterRef struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	Optional bool   `json:"optional,omitempty"`
}

// IsSecret reports whether the ref resolves through the restricted-read path.
func (r ParameterRef) IsSecret() bool {
	return strings.HasPrefix(r.Source, RefSchemeSecret)
}

// NodeRef reports the referenced node id and output name for node:// sources.
func (r ParameterRef) NodeRef() (id, output string, ok bool) {
	if !strings.HasPrefix(r.Source, RefSchemeNode) {
		return "", "", false
	}
	rest := strings.TrimPrefix(r.Source, RefSchemeNode)
	id, output, ok = strings.Cut(rest, "/")
	if id == "" || output == "" {
		return "", "", false
	}
	return id, output, ok
}

// StoreKey reports the parameter store path for param:// and secret:// sources.
func (r ParameterRef) StoreKey() (key string, ok bool) {
	switch {
	case strings.HasPrefix(r.Source, RefSchemeParam):
		return strings.TrimPrefix(r.Source, RefSchemeParam), true
	case strings.HasPrefix(r.Source, RefSchemeSecret):
		return strings.TrimPrefix(r.Source, RefSchemeSecret), true
	}
	return "", false
}

// NodeOutput builds a node:// ref source.
func NodeOutput(id, output string) string {
	return fmt.Sprintf("%s%s/%s", RefSchemeNode, id, output)
}

// ResourceNode is one declaratively-described unit of infrastructure.
// Config carries the kind-specific typed configuration consumed by the
// lifecycle implementation for Kind.
type ResourceNode struct {
	ID              string         `json:"id"`
	Kind            Kind           `json:"kind"`
	DeclaredInputs  []ParameterRef `json:"declared_inputs,omitempty"`
	ProducedOutputs []string       `json:"produced_outputs,omitempty"`
	DependsOn       []string       `json:"depends_on,omitempty"`
	Config          any            `json:"config,omitempty"`
}

// Inputs is the resolved view of a node's DeclaredInputs, keyed by ref name.
type Inputs map[string]string

// Outputs is the attribute map a lifecycle returns once a node stabilizes.
type Outputs map[string]string
