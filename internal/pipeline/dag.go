package pipeline

import (
	"context"
	"fmt"

	"github.com/philopon/go-toposort"
	"golang.org/x/sync/errgroup"
)

// Stage is a named unit of work that may start once every stage named in
// Needs has finished successfully.
type Stage struct {
	Name  string
	Needs []string
	Run   func(ctx context.Context) error
}

// Graph is a validated set of stages.
type Graph struct {
	stages map[string]Stage
	order  []string
}

// NewGraph validates the stages and computes a topological order. Duplicate
// names, unknown dependencies and cycles are reported as a *GraphError.
func NewGraph(stages ...Stage) (*Graph, error) {
	g := &Graph{stages: make(map[string]Stage, len(stages))}

	sorter := toposort.NewGraph(len(stages))
	for _, stage := range stages {
		if stage.Name == "" {
			return nil, &GraphError{Reason: "stage without a name"}
		}
		if _, ok := g.stages[stage.Name]; ok {
			return nil, &GraphError{Reason: fmt.Sprintf("duplicate stage %q", stage.Name)}
		}
		g.stages[stage.Name] = stage
		sorter.AddNode(stage.Name)
	}

	for _, stage := range stages {
		for _, need := range stage.Needs {
			if _, ok := g.stages[need]; !ok {
				return nil, &GraphError{Reason: fmt.Sprintf("stage %q needs unknown stage %q", stage.Name, need)}
			}
			sorter.AddEdge(need, stage.Name)
		}
	}

	order, ok := sorter.Toposort()
	if !ok {
		return nil, &GraphError{Reason: "stages form a cycle"}
	}
	g.order = order

	return g, nil
}

// Order returns the stage names in a valid execution order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Run executes every stage, starting each one as soon as its dependencies
// have finished, so independent stages run concurrently. The first failure
// cancels the context passed to running stages, prevents any further stage
// from starting and is returned as a *StageError.
func (g *Graph) Run(ctx context.Context) error {
	done := make(map[string]chan struct{}, len(g.order))
	for _, name := range g.order {
		done[name] = make(chan struct{})
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, name := range g.order {
		stage := g.stages[name]
		group.Go(func() error {
			for _, need := range stage.Needs {
				select {
				case <-done[need]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := stage.Run(ctx); err != nil {
				return &StageError{Stage: stage.Name, Err: err}
			}

			close(done[stage.Name])
			return nil
		})
	}

	return group.Wait()
}
