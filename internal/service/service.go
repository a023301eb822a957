// Package service assembles the build service: the smart-HTTP endpoint, the
// build pipeline behind it, the build registry and metrics.
package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jarvus/sencha-buildd/internal"
	"github.com/jarvus/sencha-buildd/internal/buildtool"
	"github.com/jarvus/sencha-buildd/internal/git"
	"github.com/jarvus/sencha-buildd/internal/manifest"
	"github.com/jarvus/sencha-buildd/internal/metrics"
	"github.com/jarvus/sencha-buildd/internal/pipeline"
	"github.com/jarvus/sencha-buildd/internal/queue"
	"github.com/jarvus/sencha-buildd/internal/registry"
	"github.com/jarvus/sencha-buildd/internal/webhook"
)

type Service struct {
	server  Server
	repo    git.Repository
	lane    *queue.Queue
	pool    *buildtool.Pool
	builder *pipeline.Builder
	store   registry.Store
	writer  internal.Writer
}

// New opens (or creates) the builds repository named by config and starts
// serving it. Build tool invocations go through runner.
func New(ctx context.Context, config internal.Config, runner buildtool.Runner, w internal.Writer) (*Service, error) {
	repo, err := git.InitBare(ctx, config.RepositoryPath)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	lane := queue.New(1)
	pool := buildtool.NewPool(runner, config.Workers, config.BuildTimeout, w)
	store := registry.NewMemoryStore()

	builder := pipeline.NewBuilder(repo, lane, pipeline.Options{
		Tool:       pool,
		Manifest:   manifest.NewGenerator(repo, config.Workers),
		Hooks:      webhook.NewDispatcher(repo, &http.Client{Timeout: config.WebhookTimeout}, m, w),
		Identity:   config.GitUser.Environment(),
		TempDir:    config.TempDir,
		OnStart:    func(id internal.BuildID) { registry.Start(store, id.String()) },
		OnComplete: registry.Recorder(store, w),
		Metrics:    m,
		Writer:     w,
	})

	builds := registry.NewHandler(store, w)

	mux := http.NewServeMux()
	mux.Handle(git.URLPrefix+"/", git.NewBackend(repo, lane, builder.Trigger, m, w))
	mux.Handle("/builds", builds)
	mux.Handle("/builds/", builds)
	mux.Handle("/metrics", m.Handler())

	server, err := NewServer(fmt.Sprintf(":%d", config.Port), mux, w)
	if err != nil {
		builder.Close()
		pool.Close()
		lane.Close()
		return nil, err
	}

	return &Service{
		server:  server,
		repo:    repo,
		lane:    lane,
		pool:    pool,
		builder: builder,
		store:   store,
		writer:  w,
	}, nil
}

// Port returns the TCP port the service is listening on.
func (s *Service) Port() int {
	return s.server.Port()
}

// Repository returns the builds repository.
func (s *Service) Repository() git.Repository {
	return s.repo
}

// Store returns the build registry.
func (s *Service) Store() registry.Store {
	return s.store
}

// Close stops the HTTP server, cancels running builds and waits for every
// worker to exit.
func (s *Service) Close() error {
	err := s.server.Close()

	s.builder.Close()
	s.pool.Close()
	s.lane.Close()

	return err
}
