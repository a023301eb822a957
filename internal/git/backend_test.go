package git_test

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarvus/sencha-buildd/internal"
	"github.com/jarvus/sencha-buildd/internal/git"
	"github.com/jarvus/sencha-buildd/internal/gittest"
	"github.com/jarvus/sencha-buildd/internal/metrics"
	"github.com/jarvus/sencha-buildd/internal/queue"
	"github.com/stretchr/testify/require"
)

const buildID = "0123456789abcdef0123456789abcdef01234567"

func TestBackend(t *testing.T) {
	setup := func(t *testing.T) (string, git.Repository, chan internal.BuildID) {
		repo := gittest.NewBareRepository(t)

		lane := queue.New(1)
		t.Cleanup(lane.Close)

		triggered := make(chan internal.BuildID, 10)
		backend := git.NewBackend(repo, lane, func(id internal.BuildID) error {
			triggered <- id
			return nil
		}, metrics.New(), internal.NewCustomWriter(io.Discard, false))

		mux := http.NewServeMux()
		mux.Handle(git.URLPrefix+"/", backend)

		server := httptest.NewServer(mux)
		t.Cleanup(server.Close)

		return server.URL + git.URLPrefix, repo, triggered
	}

	run := func(t *testing.T, dir string, args ...string) string {
		t.Helper()

		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Some User",
			"GIT_AUTHOR_EMAIL=some@example.com",
			"GIT_COMMITTER_NAME=Some User",
			"GIT_COMMITTER_EMAIL=some@example.com",
		)
		output, err := cmd.CombinedOutput()
		require.NoError(t, err, string(output))

		return string(output)
	}

	client := func(t *testing.T, message string) string {
		dir := t.TempDir()
		run(t, dir, "init", "--quiet")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app.name"), []byte("test-app\n"), 0644))
		run(t, dir, "add", "app.name")
		run(t, dir, "commit", "--quiet", "-m", message)
		return dir
	}

	t.Run("triggers a build after a push to a build branch", func(t *testing.T) {
		url, repo, triggered := setup(t)
		dir := client(t, "Generate app test-app")

		run(t, dir, "push", url, "HEAD:refs/heads/builds/"+buildID)

		select {
		case id := <-triggered:
			require.Equal(t, internal.BuildID(buildID), id)
		case <-time.After(5 * time.Second):
			t.Fatal("expected a build to be triggered")
		}

		head := strings.TrimSpace(run(t, dir, "rev-parse", "HEAD"))
		require.Equal(t, head, gittest.Resolve(t, repo, "refs/heads/builds/"+buildID))
	})

	t.Run("does not trigger for other branches", func(t *testing.T) {
		url, repo, triggered := setup(t)
		dir := client(t, "Generate app test-app")

		run(t, dir, "push", url, "HEAD:refs/heads/main")
		run(t, dir, "push", url, "HEAD:refs/heads/builds/not-a-build")

		require.NotEmpty(t, gittest.Resolve(t, repo, "refs/heads/main"))
		require.Len(t, triggered, 0)
	})

	t.Run("serves fetches of pushed branches", func(t *testing.T) {
		url, _, triggered := setup(t)
		dir := client(t, "Generate app test-app")
		run(t, dir, "push", url, "HEAD:refs/heads/builds/"+buildID)
		<-triggered

		clone := t.TempDir()
		run(t, clone, "clone", "--quiet", "--branch", "builds/"+buildID, url, "checkout")

		content, err := os.ReadFile(filepath.Join(clone, "checkout", "app.name"))
		require.NoError(t, err)
		require.Equal(t, "test-app\n", string(content))
	})

	t.Run("decodes gzip request bodies", func(t *testing.T) {
		url, _, _ := setup(t)

		var body bytes.Buffer
		zw := gzip.NewWriter(&body)
		_, err := zw.Write([]byte("0000"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		req, err := http.NewRequest(http.MethodPost, url+"/git-upload-pack", &body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-git-upload-pack-request")
		req.Header.Set("Content-Encoding", "gzip")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "application/x-git-upload-pack-result", resp.Header.Get("Content-Type"))
	})

	t.Run("rejects unknown content encodings", func(t *testing.T) {
		url, _, _ := setup(t)

		req, err := http.NewRequest(http.MethodPost, url+"/git-upload-pack", strings.NewReader("0000"))
		require.NoError(t, err)
		req.Header.Set("Content-Encoding", "br")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
