package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jarvus/sencha-buildd/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph(t *testing.T) {
	noop := func(context.Context) error { return nil }

	t.Run("orders stages after their dependencies", func(t *testing.T) {
		graph, err := pipeline.NewGraph(
			pipeline.Stage{Name: "c", Needs: []string{"a", "b"}, Run: noop},
			pipeline.Stage{Name: "b", Needs: []string{"a"}, Run: noop},
			pipeline.Stage{Name: "a", Run: noop},
		)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "c"}, graph.Order())
	})

	t.Run("rejects invalid graphs", func(t *testing.T) {
		tests := []struct {
			name   string
			stages []pipeline.Stage
			reason string
		}{
			{
				name:   "unnamed stage",
				stages: []pipeline.Stage{{Run: noop}},
				reason: "stage without a name",
			},
			{
				name:   "duplicate stage",
				stages: []pipeline.Stage{{Name: "a", Run: noop}, {Name: "a", Run: noop}},
				reason: `duplicate stage "a"`,
			},
			{
				name:   "unknown dependency",
				stages: []pipeline.Stage{{Name: "a", Needs: []string{"missing"}, Run: noop}},
				reason: `stage "a" needs unknown stage "missing"`,
			},
			{
				name: "cycle",
				stages: []pipeline.Stage{
					{Name: "a", Needs: []string{"b"}, Run: noop},
					{Name: "b", Needs: []string{"a"}, Run: noop},
				},
				reason: "stages form a cycle",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := pipeline.NewGraph(tt.stages...)

				var graphErr *pipeline.GraphError
				require.ErrorAs(t, err, &graphErr)
				require.Equal(t, tt.reason, graphErr.Reason)
			})
		}
	})

	t.Run("runs each stage after its dependencies finish", func(t *testing.T) {
		var (
			mu       sync.Mutex
			finished []string
		)
		record := func(name string) func(context.Context) error {
			return func(context.Context) error {
				mu.Lock()
				defer mu.Unlock()
				finished = append(finished, name)
				return nil
			}
		}

		graph, err := pipeline.NewGraph(
			pipeline.Stage{Name: "d", Needs: []string{"b", "c"}, Run: record("d")},
			pipeline.Stage{Name: "b", Needs: []string{"a"}, Run: record("b")},
			pipeline.Stage{Name: "c", Needs: []string{"a"}, Run: record("c")},
			pipeline.Stage{Name: "a", Run: record("a")},
		)
		require.NoError(t, err)
		require.NoError(t, graph.Run(context.Background()))

		require.Len(t, finished, 4)
		assert.Equal(t, "a", finished[0])
		assert.ElementsMatch(t, []string{"b", "c"}, finished[1:3])
		assert.Equal(t, "d", finished[3])
	})

	t.Run("runs independent stages concurrently", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)
		meet := func(context.Context) error {
			wg.Done()
			wg.Wait()
			return nil
		}

		graph, err := pipeline.NewGraph(
			pipeline.Stage{Name: "left", Run: meet},
			pipeline.Stage{Name: "right", Run: meet},
		)
		require.NoError(t, err)
		require.NoError(t, graph.Run(context.Background()))
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		boom := errors.New("boom")
		var ran bool

		graph, err := pipeline.NewGraph(
			pipeline.Stage{Name: "fail", Run: func(context.Context) error { return boom }},
			pipeline.Stage{Name: "after", Needs: []string{"fail"}, Run: func(context.Context) error {
				ran = true
				return nil
			}},
		)
		require.NoError(t, err)

		err = graph.Run(context.Background())

		var stageErr *pipeline.StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, "fail", stageErr.Stage)
		assert.ErrorIs(t, err, boom)
		assert.EqualError(t, err, "stage fail failed: boom")
		assert.False(t, ran)
	})

	t.Run("cancels running stages when another fails", func(t *testing.T) {
		boom := errors.New("boom")
		started := make(chan struct{})

		graph, err := pipeline.NewGraph(
			pipeline.Stage{Name: "slow", Run: func(ctx context.Context) error {
				close(started)
				<-ctx.Done()
				return nil
			}},
			pipeline.Stage{Name: "fail", Run: func(context.Context) error {
				<-started
				return boom
			}},
		)
		require.NoError(t, err)

		require.ErrorIs(t, graph.Run(context.Background()), boom)
	})
}
