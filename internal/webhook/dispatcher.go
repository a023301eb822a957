// Package webhook notifies subscribers of build events.
//
// Subscriptions live in the build repository as refs under
// refs/hooks/builds/<id>/. Each ref points at a blob whose first line is
// "#!webhook" followed by one URL per line.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/jarvus/sencha-buildd/internal"
	"github.com/jarvus/sencha-buildd/internal/git"
	"github.com/jarvus/sencha-buildd/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Marker is the first line of a webhook hook blob.
const Marker = "#!webhook"

const (
	EventCheckoutBuildTree = "checkout-build-tree"
	EventCommitExecute     = "commit-execute"
	EventCommitOutput      = "commit-output"
)

const (
	eventHeader = "X-SenchaCmd-Event"
	treeHeader  = "X-SenchaCmd-Tree"
)

var (
	refPattern = regexp.MustCompile(`^([a-f0-9]{40}) ([a-z]+)\t(.*)$`)
	urlPattern = regexp.MustCompile(`^https?://`)
)

// Payload holds event specific fields merged into the webhook body.
type Payload map[string]interface{}

type hook struct {
	ref  string
	urls []string
}

type Dispatcher struct {
	repo    git.Repository
	client  *http.Client
	metrics *metrics.Metrics
	writer  internal.Writer
}

func NewDispatcher(repo git.Repository, client *http.Client, m *metrics.Metrics, w internal.Writer) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &Dispatcher{
		repo:    repo,
		client:  client,
		metrics: m,
		writer:  w,
	}
}

// Dispatch posts event to every webhook registered for the build and returns
// once all of them have been attempted. Every hook ref is validated before
// the first request is sent. Delivery failures are logged and do not cause
// an error.
func (d *Dispatcher) Dispatch(ctx context.Context, id internal.BuildID, event string, payload Payload) error {
	logger := d.writer.WithField("build", id).WithField("event", event)

	hooks, err := d.hooks(ctx, id)
	if err != nil {
		return err
	}

	body := map[string]interface{}{}
	for k, v := range payload {
		body[k] = v
	}
	body["event"] = event
	body["buildTreeHash"] = id.String()

	content, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	logger.Printf("executing %d hook(s)", len(hooks))

	var group errgroup.Group
	for _, h := range hooks {
		for _, u := range h.urls {
			group.Go(func() error {
				err := d.post(ctx, u, id, event, content)
				d.metrics.WebhookDelivery(event, err == nil)
				if err != nil {
					logger.WithField("url", u).Warningf("%v", err)
				}
				return nil
			})
		}
	}

	return group.Wait()
}

func (d *Dispatcher) hooks(ctx context.Context, id internal.BuildID) ([]hook, error) {
	output, err := d.repo.Run(ctx, "for-each-ref", id.HookRefs())
	if err != nil {
		return nil, fmt.Errorf("failed to list hooks: %w", err)
	}

	var hooks []hook
	for _, line := range strings.Split(output, "\n") {
		match := refPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		content, err := d.repo.Run(ctx, "cat-file", "blob", match[1])
		if err != nil {
			return nil, fmt.Errorf("failed to read hook %s: %w", match[3], err)
		}

		h, err := parseHook(match[3], content)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}

	return hooks, nil
}

func parseHook(ref, content string) (hook, error) {
	lines := strings.Split(content, "\n")
	if strings.TrimRight(lines[0], "\r") != Marker {
		return hook{}, &UnsupportedHookError{Ref: ref, FirstLine: lines[0]}
	}

	h := hook{ref: ref}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if !urlPattern.MatchString(line) {
			continue
		}
		if u, err := url.Parse(line); err != nil || u.Host == "" {
			continue
		}
		h.urls = append(h.urls, line)
	}

	return h, nil
}

func (d *Dispatcher) post(ctx context.Context, u string, id internal.BuildID, event string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(content))
	if err != nil {
		return &WebhookDeliveryError{URL: u, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, event)
	req.Header.Set(treeHeader, id.String())

	resp, err := d.client.Do(req)
	if err != nil {
		return &WebhookDeliveryError{URL: u, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &WebhookDeliveryError{URL: u, StatusCode: resp.StatusCode}
	}

	d.writer.WithField("build", id).WithField("event", event).Printf("got %d from %s", resp.StatusCode, u)

	return nil
}
