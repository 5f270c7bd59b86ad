package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faststack-io/faststack/internal/engine"
	"github.com/faststack-io/faststack/internal/orchestrator"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Output the resource graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph in
Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  faststack graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	nodes := orch.Nodes()
	dag, err := engine.BuildDAG(nodes)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph faststack {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, n := range nodes {
		fmt.Printf("  %q [label=\"%s\\n(%s)\"];\n", n.ID, n.ID, n.Kind)
	}
	fmt.Println()

	for _, n := range nodes {
		for _, dep := range dag.Dependencies(n.ID) {
			fmt.Printf("  %q -> %q;\n", n.ID, dep)
		}
	}

	fmt.Println("}")
	return nil
}
