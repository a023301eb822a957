// Package pipeline takes a build branch from its "Generate" commit to a
// committed build.
//
// Each run checks the generate tree out into a private scratch directory,
// records an "Execute" commit, runs the build tool, writes the output and its
// manifest into a new tree and records the final "Build" commit. Ref updates
// are fast-forward compare-and-swap updates made on the repository lane.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/jarvus/sencha-buildd/internal"
	"github.com/jarvus/sencha-buildd/internal/buildtool"
	"github.com/jarvus/sencha-buildd/internal/git"
	"github.com/jarvus/sencha-buildd/internal/metrics"
	"github.com/jarvus/sencha-buildd/internal/queue"
	"github.com/jarvus/sencha-buildd/internal/webhook"
)

// Executor runs the build tool.
type Executor interface {
	Submit(ctx context.Context, inv buildtool.Invocation) (string, error)
}

// ManifestWriter writes the manifest blob for a tree and returns its hash.
type ManifestWriter interface {
	Generate(ctx context.Context, treeish string) (string, error)
}

// Notifier delivers build events to subscribers.
type Notifier interface {
	Dispatch(ctx context.Context, id internal.BuildID, event string, payload webhook.Payload) error
}

// Outcome is reported once for every finished run.
type Outcome struct {
	BuildID      internal.BuildID
	OutputCommit string
	Err          error
}

// Options holds the collaborators of a Builder.
type Options struct {
	Tool     Executor
	Manifest ManifestWriter
	Hooks    Notifier

	// Identity is the author and committer environment for new commits.
	Identity map[string]string

	// TempDir is where scratch directories are created. Empty means the
	// system default.
	TempDir string

	// OnStart is called when Trigger accepts a run, before the run begins.
	OnStart func(internal.BuildID)

	// OnComplete is called after every run started by Trigger.
	OnComplete func(Outcome)

	Metrics *metrics.Metrics
	Writer  internal.Writer
}

// Builder runs build pipelines, at most one per build at a time.
type Builder struct {
	repo    git.Repository
	lane    *queue.Queue
	options Options

	mu     sync.Mutex
	active map[internal.BuildID]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBuilder returns a Builder for repo. Ref updates are serialized on lane,
// the queue that also serves smart-HTTP requests.
func NewBuilder(repo git.Repository, lane *queue.Queue, options Options) *Builder {
	ctx, cancel := context.WithCancel(context.Background())

	if options.Writer == nil {
		options.Writer = internal.NewStandardWriter()
	}

	return &Builder{
		repo:    repo.WithEnv(options.Identity),
		lane:    lane,
		options: options,
		active:  map[internal.BuildID]struct{}{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Trigger starts a run for id in the background and returns immediately.
// The outcome is reported through Options.OnComplete.
func (b *Builder) Trigger(id internal.BuildID) error {
	if err := b.claim(id); err != nil {
		b.options.Metrics.BuildRejected()
		return err
	}

	if b.options.OnStart != nil {
		b.options.OnStart(id)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		output, err := b.run(b.ctx, id)
		b.release(id)

		if b.options.OnComplete != nil {
			b.options.OnComplete(Outcome{BuildID: id, OutputCommit: output, Err: err})
		}
	}()

	return nil
}

// Build runs the pipeline for id and returns the final commit hash.
func (b *Builder) Build(ctx context.Context, id internal.BuildID) (string, error) {
	if err := b.claim(id); err != nil {
		b.options.Metrics.BuildRejected()
		return "", err
	}
	defer b.release(id)

	return b.run(ctx, id)
}

// Running reports whether a run for id is in progress.
func (b *Builder) Running(id internal.BuildID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.active[id]
	return ok
}

// Close cancels runs started by Trigger and waits for them to finish.
func (b *Builder) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Builder) claim(id internal.BuildID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.active[id]; ok {
		return &AlreadyRunningError{BuildID: id}
	}
	b.active[id] = struct{}{}

	return nil
}

func (b *Builder) release(id internal.BuildID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.active, id)
}

func (b *Builder) run(ctx context.Context, id internal.BuildID) (string, error) {
	r := newRun(b, id)
	defer r.cleanup.Execute()

	r.log.Printf("starting build of %s", id.Branch())
	b.options.Metrics.BuildStarted()

	graph, err := NewGraph(r.stages()...)
	if err == nil {
		err = graph.Run(ctx)
	}
	if err != nil && !errors.As(err, new(*PreconditionError)) {
		if precondition := r.precondition(ctx); precondition != nil {
			err = precondition
		}
	}

	if err != nil {
		b.options.Metrics.BuildFinished("failed")
		r.log.Errorf("build failed: %v", err)
		return "", err
	}

	b.options.Metrics.BuildFinished("built")
	r.log.Printf("build %s finished in %s", r.outputCommit, id.Branch())

	return r.outputCommit, nil
}

// updateRef moves the build branch from old to new on the repository lane.
func (b *Builder) updateRef(ctx context.Context, id internal.BuildID, newHash, oldHash string) error {
	return b.lane.Do(ctx, func(ctx context.Context) error {
		_, err := b.repo.Run(ctx, "update-ref", id.Ref(), newHash, oldHash)
		return err
	})
}
