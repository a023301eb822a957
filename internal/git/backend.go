package git

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cgi"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp"
	"github.com/jarvus/sencha-buildd/internal"
	"github.com/jarvus/sencha-buildd/internal/metrics"
	"github.com/jarvus/sencha-buildd/internal/queue"
)

// URLPrefix is the path under which the smart-HTTP endpoint is mounted.
const URLPrefix = "/.git"

const receivePackService = "git-receive-pack"

// TriggerFunc starts a build for a verified push to a build branch. It must
// return without waiting for the build to finish.
type TriggerFunc func(id internal.BuildID) error

// Backend serves the git smart-HTTP protocol for the build repository.
// Requests run one at a time on the lane shared with ref updates made by
// build pipelines.
type Backend struct {
	repo    Repository
	lane    *queue.Queue
	trigger TriggerFunc
	metrics *metrics.Metrics
	writer  internal.Writer
}

func NewBackend(repo Repository, lane *queue.Queue, trigger TriggerFunc, m *metrics.Metrics, w internal.Writer) *Backend {
	return &Backend{
		repo:    repo,
		lane:    lane,
		trigger: trigger,
		metrics: m,
		writer:  w,
	}
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.metrics.GitRequest(serviceName(r))

	err := <-b.lane.Go(r.Context(), func(ctx context.Context) error {
		return b.serve(ctx, w, r)
	})
	switch {
	case errors.Is(err, queue.ErrClosed):
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
	case err != nil:
		b.writer.Warningf("git request %s %s failed: %v", r.Method, r.URL.Path, err)
	}
}

func (b *Backend) serve(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	b.writer.Printf("passing request to git backend: %s %s", r.Method, r.URL.Path)

	body, decoded, err := decodeBody(r.Header.Get("Content-Encoding"), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}
	defer body.Close()

	req := r.Clone(ctx)
	req.Body = body
	if decoded {
		req.Header.Del("Content-Encoding")
		req.ContentLength = -1
	}

	if r.Method != http.MethodPost || serviceName(r) != receivePackService {
		b.handler(req).ServeHTTP(w, req)
		return nil
	}

	before, err := b.buildHeads(ctx)
	if err != nil {
		http.Error(w, "failed to read build branches", http.StatusInternalServerError)
		return err
	}

	capture := captureCommands(req)
	b.handler(req).ServeHTTP(w, req)

	commands, err := capture.wait()
	if err != nil {
		b.writer.Warningf("failed to decode pushed ref updates, comparing build branches instead: %v", err)
		commands, err = b.changedHeads(ctx, before)
		if err != nil {
			return err
		}
	}

	b.afterPush(ctx, commands)

	return nil
}

// buildHeads maps every build branch to the commit it points at.
func (b *Backend) buildHeads(ctx context.Context) (map[string]string, error) {
	output, err := b.repo.Run(ctx, "for-each-ref", "--format=%(objectname) %(refname)", "refs/heads/"+internal.BuildBranchPrefix)
	if err != nil {
		return nil, err
	}

	heads := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		hash, ref, ok := strings.Cut(line, " ")
		if ok {
			heads[ref] = hash
		}
	}

	return heads, nil
}

func (b *Backend) changedHeads(ctx context.Context, before map[string]string) ([]*packp.Command, error) {
	after, err := b.buildHeads(ctx)
	if err != nil {
		return nil, err
	}

	var commands []*packp.Command
	for ref, hash := range after {
		if before[ref] == hash {
			continue
		}
		commands = append(commands, &packp.Command{
			Name: plumbing.ReferenceName(ref),
			Old:  plumbing.NewHash(before[ref]),
			New:  plumbing.NewHash(hash),
		})
	}

	return commands, nil
}

func (b *Backend) handler(r *http.Request) *cgi.Handler {
	root := filepath.Dir(b.repo.Path())
	pathInfo := "/" + filepath.Base(b.repo.Path()) + strings.TrimPrefix(r.URL.Path, URLPrefix)

	return &cgi.Handler{
		Path: b.repo.git,
		Args: []string{
			"-c", "http.receivepack",
			"http-backend",
		},
		Dir: b.repo.Path(),
		Env: []string{
			"GIT_PROJECT_ROOT=" + root,
			"PATH_INFO=" + pathInfo,
			"QUERY_STRING=" + r.URL.RawQuery,
			"REQUEST_METHOD=" + r.Method,
			"GIT_HTTP_EXPORT_ALL=true",
			"GIT_HTTP_ALLOW_REPACK=true",
			"GIT_HTTP_ALLOW_PUSH=true",
		},
		Logger: log.New(b.writer.GetWriter(), "[git-http-backend] ", 0),
		Stderr: b.writer.GetWriter(),
	}
}

// afterPush triggers a build for every build branch the push moved to a new
// commit. The ref is re-read so rejected updates never start a build.
func (b *Backend) afterPush(ctx context.Context, commands []*packp.Command) {
	for _, command := range commands {
		ref := command.Name.String()
		id, ok := internal.BuildIDFromBranch(ref)
		b.metrics.Push(ok)

		if !ok || command.New.IsZero() {
			continue
		}

		head, err := b.repo.Run(ctx, "rev-parse", "--verify", "--quiet", ref)
		if err != nil || strings.TrimSpace(head) != command.New.String() {
			b.writer.WithField("build", id).Warningf("push to %s was not applied, skipping build", ref)
			continue
		}

		b.writer.WithField("build", id).Printf("finished receiving %s: %s -> %s", ref, command.Old, command.New)

		if err := b.trigger(id); err != nil {
			b.writer.WithField("build", id).Warningf("failed to trigger build: %v", err)
		}
	}
}

type commandCapture struct {
	pw     *io.PipeWriter
	result chan captureResult
}

type captureResult struct {
	commands []*packp.Command
	err      error
}

// captureCommands tees the request body into a decoder for the receive-pack
// command list. The backend still receives every byte unchanged.
func captureCommands(r *http.Request) *commandCapture {
	pr, pw := io.Pipe()
	c := &commandCapture{pw: pw, result: make(chan captureResult, 1)}

	r.Body = struct {
		io.Reader
		io.Closer
	}{io.TeeReader(r.Body, pw), r.Body}

	go func() {
		request := packp.NewReferenceUpdateRequest()
		err := request.Decode(pr)
		_, _ = io.Copy(io.Discard, pr)
		c.result <- captureResult{commands: request.Commands, err: err}
	}()

	return c
}

func (c *commandCapture) wait() ([]*packp.Command, error) {
	_ = c.pw.Close()
	result := <-c.result
	return result.commands, result.err
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d decodedBody) Close() error {
	var err error
	for _, c := range d.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// decodeBody unwraps gzip and deflate request bodies. The boolean reports
// whether a decoder was applied.
func decodeBody(encoding string, body io.ReadCloser) (io.ReadCloser, bool, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, false, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read gzip request body: %w", err)
		}
		return decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, true, nil
	case "deflate":
		zr, err := zlib.NewReader(body)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read deflate request body: %w", err)
		}
		return decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

func serviceName(r *http.Request) string {
	if service := r.URL.Query().Get("service"); service != "" {
		return service
	}

	name := path.Base(r.URL.Path)
	if strings.HasPrefix(name, "git-") {
		return name
	}

	return ""
}
